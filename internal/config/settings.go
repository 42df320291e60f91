// Package config loads the retune application settings file. Thresholds not
// present in the file keep their documented defaults, so an empty file is a
// valid production configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halcyonquant/retune/internal/domain"
)

// Settings is the top-level retune.yaml structure.
type Settings struct {
	ConfigDir   string   `yaml:"config_dir"`   // active configs + backups, default "configs"
	HistoryPath string   `yaml:"history_path"` // default "data/optimization_history/history"
	Horizons    []string `yaml:"horizons"`     // default all known horizons

	Trigger    TriggerSettings  `yaml:"trigger"`
	Search     SearchSettings   `yaml:"search"`
	Validation ValidateSettings `yaml:"validate"`
	Monitor    MonitorSettings  `yaml:"monitor"`
	Services   ServiceSettings  `yaml:"services"`
	Redis      RedisSettings    `yaml:"redis"`
	Postgres   PostgresSettings `yaml:"postgres"`
	Git        GitSettings      `yaml:"git"`
	Schedule   ScheduleSettings `yaml:"schedule"`

	// RunBudgetMinutes bounds one pipeline run per horizon, default 120. The
	// budget covers search, validation, and post-deployment monitoring, so it
	// must exceed the monitoring window.
	RunBudgetMinutes int `yaml:"run_budget_minutes"`
}

// TriggerSettings holds recalibration trigger thresholds.
type TriggerSettings struct {
	DegradationThresholdPct float64 `yaml:"degradation_threshold_pct"` // default 15
	MinDriftSeverity        string  `yaml:"min_drift_severity"`        // default "medium"
	MaxAgeDays              int     `yaml:"max_age_days"`              // default 14
}

// SearchSettings holds grid search parameters.
type SearchSettings struct {
	Window  int `yaml:"window"`  // default 30 observations
	Workers int `yaml:"workers"` // default 4
}

// ValidateSettings holds promotion criteria.
type ValidateSettings struct {
	MinRMSEImprovementPct float64 `yaml:"min_rmse_improvement_pct"` // default 5
	MinMAPEImprovementPct float64 `yaml:"min_mape_improvement_pct"` // default 3
	MaxStabilityRatio     float64 `yaml:"max_stability_ratio"`      // default 1.10
	MaxInferenceRatio     float64 `yaml:"max_inference_ratio"`      // default 1.50
	MinCICoverage         float64 `yaml:"min_ci_coverage"`          // default 0.90
	MaxAbsBias            float64 `yaml:"max_abs_bias"`             // default 5.0
}

// MonitorSettings bounds the post-deployment monitoring window.
type MonitorSettings struct {
	Checks          int     `yaml:"checks"`           // default 60
	IntervalSeconds int     `yaml:"interval_seconds"` // default 60
	UnhealthyLimit  int     `yaml:"unhealthy_limit"`  // default 3
	HealthyReset    int     `yaml:"healthy_reset"`    // default 2
	RMSESpikePct    float64 `yaml:"rmse_spike_pct"`   // default 50
}

// ServiceSettings names the external collaborators.
type ServiceSettings struct {
	ModelURL       string  `yaml:"model_url"`       // backtest + series endpoints
	PerformanceURL string  `yaml:"performance_url"` // rolling performance reports
	DriftURL       string  `yaml:"drift_url"`       // drift classification
	HealthURL      string  `yaml:"health_url"`      // forecasting service health
	TimeoutSeconds int     `yaml:"timeout_seconds"` // default 10 (120 for backtests)
	BacktestRate   float64 `yaml:"backtest_rate"`   // backtests/sec, default 4
}

// RedisSettings configures the optional backtest score cache.
type RedisSettings struct {
	Addr       string `yaml:"addr"` // empty disables caching
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLMinutes int    `yaml:"ttl_minutes"` // default 360
}

// PostgresSettings configures the optional history mirror.
type PostgresSettings struct {
	DSN string `yaml:"dsn"` // empty disables the mirror
}

// GitSettings configures the version-control sink.
type GitSettings struct {
	Enabled bool   `yaml:"enabled"`
	RepoDir string `yaml:"repo_dir"` // default "."
}

// ScheduleSettings configures the long-running schedule mode.
type ScheduleSettings struct {
	IntervalMinutes int    `yaml:"interval_minutes"` // default 360
	ListenAddr      string `yaml:"listen_addr"`      // ops endpoint, default ":9090"
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() *Settings {
	horizons := make([]string, 0, len(domain.AllHorizons()))
	for _, h := range domain.AllHorizons() {
		horizons = append(horizons, string(h))
	}
	return &Settings{
		ConfigDir:   "configs",
		HistoryPath: "data/optimization_history/history",
		Horizons:    horizons,
		Trigger: TriggerSettings{
			DegradationThresholdPct: 15.0,
			MinDriftSeverity:        "medium",
			MaxAgeDays:              14,
		},
		Search: SearchSettings{Window: 30, Workers: 4},
		Validation: ValidateSettings{
			MinRMSEImprovementPct: 5.0,
			MinMAPEImprovementPct: 3.0,
			MaxStabilityRatio:     1.10,
			MaxInferenceRatio:     1.50,
			MinCICoverage:         0.90,
			MaxAbsBias:            5.0,
		},
		Monitor: MonitorSettings{
			Checks:          60,
			IntervalSeconds: 60,
			UnhealthyLimit:  3,
			HealthyReset:    2,
			RMSESpikePct:    50.0,
		},
		Services: ServiceSettings{
			TimeoutSeconds: 10,
			BacktestRate:   4,
		},
		Redis:            RedisSettings{TTLMinutes: 360},
		Git:              GitSettings{RepoDir: "."},
		Schedule:         ScheduleSettings{IntervalMinutes: 360, ListenAddr: ":9090"},
		RunBudgetMinutes: 120,
	}
}

// Load reads settings from path, layering the file over the defaults. A
// missing file returns pure defaults.
func Load(path string) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return settings, nil
}

// Validate rejects settings that would make the pipeline misbehave.
func (s *Settings) Validate() error {
	for _, h := range s.Horizons {
		if _, err := domain.ParseHorizon(h); err != nil {
			return err
		}
	}
	if s.Search.Window <= 0 {
		return fmt.Errorf("search window must be positive, got %d", s.Search.Window)
	}
	if s.Search.Workers <= 0 {
		return fmt.Errorf("search workers must be positive, got %d", s.Search.Workers)
	}
	if s.Monitor.Checks <= 0 {
		return fmt.Errorf("monitor checks must be positive, got %d", s.Monitor.Checks)
	}
	if s.Trigger.MinDriftSeverity != "" {
		if _, err := parseSeverityName(s.Trigger.MinDriftSeverity); err != nil {
			return err
		}
	}
	if s.RunBudgetMinutes <= 0 {
		return fmt.Errorf("run budget must be positive, got %d", s.RunBudgetMinutes)
	}
	// A budget inside the monitoring window guarantees every deployment is
	// interrupted mid-monitoring and rolled back.
	if s.RunBudgetMinutes*60 <= s.Monitor.Checks*s.Monitor.IntervalSeconds {
		return fmt.Errorf("run budget %dm must exceed the monitoring window (%d checks at %ds)",
			s.RunBudgetMinutes, s.Monitor.Checks, s.Monitor.IntervalSeconds)
	}
	return nil
}

func parseSeverityName(name string) (string, error) {
	switch name {
	case "none", "low", "medium", "high":
		return name, nil
	default:
		return "", fmt.Errorf("unknown drift severity %q", name)
	}
}

// ParsedHorizons returns the configured horizons as domain values.
func (s *Settings) ParsedHorizons() []domain.Horizon {
	out := make([]domain.Horizon, 0, len(s.Horizons))
	for _, h := range s.Horizons {
		parsed, err := domain.ParseHorizon(h)
		if err != nil {
			continue // Validate already rejected unknown names
		}
		out = append(out, parsed)
	}
	return out
}

// RunBudget returns the per-horizon wall-clock budget.
func (s *Settings) RunBudget() time.Duration {
	return time.Duration(s.RunBudgetMinutes) * time.Minute
}

// MonitorInterval returns the health-poll interval.
func (s *MonitorSettings) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}
