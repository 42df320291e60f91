package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/halcyonquant/retune/internal/configstore"
	"github.com/halcyonquant/retune/internal/domain"
)

// Severity classifies distribution drift of the input series.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a severity string from the drift service or config file.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "none":
		return SeverityNone, nil
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	default:
		return SeverityNone, fmt.Errorf("unknown drift severity %q", s)
	}
}

// PerformanceReport is the rolling-window performance of a horizon's active
// configuration versus its stored baseline.
type PerformanceReport struct {
	RMSE           float64 `json:"rmse"`
	MAPE           float64 `json:"mape"`
	Degraded       bool    `json:"degraded"`
	DegradationPct float64 `json:"degradation_pct"` // RMSE degradation vs baseline
}

// PerformanceProvider supplies rolling-window performance reports.
type PerformanceProvider interface {
	GetPerformance(ctx context.Context, horizon domain.Horizon) (PerformanceReport, error)
}

// DriftReport is the outcome of the external distribution-drift test.
type DriftReport struct {
	Severity Severity `json:"severity"`
}

// DriftProvider classifies drift of a recent series against a baseline window.
type DriftProvider interface {
	GetDrift(ctx context.Context, series domain.Series) (DriftReport, error)
}

// Report is the outcome of one trigger evaluation. Reasons lists every
// trigger that fired; Warnings lists degraded signal sources.
type Report struct {
	Horizon            string    `json:"horizon"`
	ShouldOptimize     bool      `json:"should_optimize"`
	Reasons            []string  `json:"reasons"`
	Warnings           []string  `json:"warnings,omitempty"`
	PerfDegradationPct float64   `json:"perf_degradation_pct"`
	DriftSeverity      string    `json:"drift_severity"`
	AgeDays            float64   `json:"age_days"`
	EvaluatedAt        time.Time `json:"evaluated_at"`
}

// Config holds trigger thresholds.
type Config struct {
	DegradationThresholdPct float64  `yaml:"degradation_threshold_pct"` // default 15
	MinDriftSeverity        Severity `yaml:"-"`                         // default medium
	MaxAgeDays              int      `yaml:"max_age_days"`              // default 14
}

// DefaultConfig returns the default trigger thresholds.
func DefaultConfig() Config {
	return Config{
		DegradationThresholdPct: 15.0,
		MinDriftSeverity:        SeverityMedium,
		MaxAgeDays:              14,
	}
}

// Manager decides per horizon whether recalibration is warranted. The overall
// decision is the OR of the performance, drift, and time-fallback checks; a
// degraded signal source downgrades that check to "not fired" and is reported
// as a warning, so one failed collaborator never blocks the others.
type Manager struct {
	config Config
	perf   PerformanceProvider
	drift  DriftProvider
	store  *configstore.Store
	clock  func() time.Time
}

// NewManager creates a trigger manager. perf and drift may be nil when the
// corresponding signal source is not configured; the check is then skipped
// with a warning.
func NewManager(config Config, perf PerformanceProvider, drift DriftProvider, store *configstore.Store) *Manager {
	return &Manager{config: config, perf: perf, drift: drift, store: store, clock: time.Now}
}

// SetClock overrides the time source (for testing).
func (m *Manager) SetClock(clock func() time.Time) {
	m.clock = clock
}

// Evaluate combines the three trigger checks for a horizon. It never returns
// an error: degraded signals become warnings on the report.
func (m *Manager) Evaluate(ctx context.Context, h domain.Horizon, series domain.Series) Report {
	now := m.clock()
	report := Report{
		Horizon:       string(h),
		DriftSeverity: SeverityNone.String(),
		EvaluatedAt:   now,
	}

	m.checkPerformance(ctx, h, &report)
	m.checkDrift(ctx, series, &report)
	m.checkAge(h, now, &report)

	report.ShouldOptimize = len(report.Reasons) > 0

	log.Debug().Str("horizon", string(h)).
		Bool("should_optimize", report.ShouldOptimize).
		Strs("reasons", report.Reasons).
		Msg("Trigger evaluation complete")
	return report
}

func (m *Manager) checkPerformance(ctx context.Context, h domain.Horizon, report *Report) {
	if m.perf == nil {
		report.Warnings = append(report.Warnings, "performance signal not configured")
		return
	}

	perf, err := m.perf.GetPerformance(ctx, h)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("performance signal unavailable: %v", err))
		return
	}

	report.PerfDegradationPct = perf.DegradationPct
	if perf.DegradationPct >= m.config.DegradationThresholdPct {
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("performance degradation %.1f%% exceeds %.1f%% threshold (rmse %.3f)",
				perf.DegradationPct, m.config.DegradationThresholdPct, perf.RMSE))
	}
}

func (m *Manager) checkDrift(ctx context.Context, series domain.Series, report *Report) {
	if m.drift == nil {
		report.Warnings = append(report.Warnings, "drift signal not configured")
		return
	}

	drift, err := m.drift.GetDrift(ctx, series)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("drift signal unavailable: %v", err))
		return
	}

	report.DriftSeverity = drift.Severity.String()
	if drift.Severity >= m.config.MinDriftSeverity {
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("distribution drift severity %s at or above %s",
				drift.Severity, m.config.MinDriftSeverity))
	}
}

func (m *Manager) checkAge(h domain.Horizon, now time.Time, report *Report) {
	cfg, err := m.store.Load(h)
	if errors.Is(err, configstore.ErrNotFound) {
		// No active configuration means no optimization has ever run.
		report.Reasons = append(report.Reasons, "no optimization has ever run for this horizon")
		return
	}
	if err != nil {
		// An unreadable config is a degraded signal, not evidence of staleness.
		report.Warnings = append(report.Warnings, fmt.Sprintf("configuration age unknown: %v", err))
		return
	}

	age := now.Sub(cfg.Timestamp)
	report.AgeDays = age.Hours() / 24
	if report.AgeDays >= float64(m.config.MaxAgeDays) {
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("last optimization %.1f days ago exceeds %d day maximum",
				report.AgeDays, m.config.MaxAgeDays))
	}
}
