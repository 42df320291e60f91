package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/halcyonquant/retune/internal/configstore"
	"github.com/halcyonquant/retune/internal/domain"
)

var (
	// ErrAborted indicates a failure during backing-up or writing; no state
	// was changed.
	ErrAborted = errors.New("deployment aborted")
	// ErrRollbackFailed is the one state where the system cannot guarantee
	// which configuration is active. Requires operator intervention.
	ErrRollbackFailed = errors.New("rollback failed")
)

// State is the per-horizon deployment state.
type State int

const (
	StateIdle State = iota
	StateBackingUp
	StateWriting
	StateCommitting
	StateMonitoring
	StateStable
	StateRollingBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBackingUp:
		return "backing_up"
	case StateWriting:
		return "writing"
	case StateCommitting:
		return "committing"
	case StateMonitoring:
		return "monitoring"
	case StateStable:
		return "stable"
	case StateRollingBack:
		return "rolling_back"
	default:
		return "unknown"
	}
}

// VersionControl records each deployment for auditability. Commit failures
// are advisory and never trigger rollback.
type VersionControl interface {
	Commit(path, message string) (revision string, err error)
}

// HealthStatus is one poll of the forecasting service's health signal for a
// horizon.
type HealthStatus struct {
	Healthy     bool    `json:"healthy"`
	CurrentRMSE float64 `json:"current_rmse"`
}

// HealthProber polls the forecasting service after a deployment.
type HealthProber interface {
	CheckHealth(ctx context.Context, h domain.Horizon) (HealthStatus, error)
}

// MonitorConfig bounds the post-deployment monitoring window.
type MonitorConfig struct {
	Checks         int           `yaml:"checks"`          // default 60
	Interval       time.Duration `yaml:"interval"`        // default 1m
	UnhealthyLimit int           `yaml:"unhealthy_limit"` // consecutive unhealthy polls, default 3
	HealthyReset   int           `yaml:"healthy_reset"`   // consecutive healthy polls that clear the counter, default 2
	RMSESpikePct   float64       `yaml:"rmse_spike_pct"`  // rollback above this % over baseline, default 50
}

// DefaultMonitorConfig returns the default monitoring window.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Checks:         60,
		Interval:       time.Minute,
		UnhealthyLimit: 3,
		HealthyReset:   2,
		RMSESpikePct:   50.0,
	}
}

// Record documents one deployment or rollback.
type Record struct {
	ID         string    `json:"id"`
	Horizon    string    `json:"horizon"`
	BackupPath string    `json:"backup_path,omitempty"`
	Revision   string    `json:"revision,omitempty"`
	Success    bool      `json:"success"`
	RolledBack bool      `json:"rolled_back"`
	RollbackOf string    `json:"rollback_of,omitempty"`  // ID of the deployment this rollback undid
	RollbackRef string   `json:"rollback_ref,omitempty"` // ID of the rollback record that undid this deployment
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Manager performs configuration cutover: backup, atomic write, version
// commit, then a bounded monitoring window with automatic rollback.
type Manager struct {
	store   *configstore.Store
	vc      VersionControl
	prober  HealthProber
	monitor MonitorConfig
	clock   func() time.Time

	mu     sync.Mutex
	states map[domain.Horizon]State
}

// NewManager creates a deployment manager. vc may be nil to disable version
// commits; prober may be nil to skip monitoring (the deployment is then
// declared stable immediately after commit).
func NewManager(store *configstore.Store, vc VersionControl, prober HealthProber, monitor MonitorConfig) *Manager {
	if monitor.Checks <= 0 {
		monitor = DefaultMonitorConfig()
	}
	return &Manager{
		store:   store,
		vc:      vc,
		prober:  prober,
		monitor: monitor,
		clock:   time.Now,
		states:  make(map[domain.Horizon]State),
	}
}

// SetClock overrides the time source (for testing).
func (m *Manager) SetClock(clock func() time.Time) {
	m.clock = clock
}

// StateFor reports the current deployment state for a horizon.
func (m *Manager) StateFor(h domain.Horizon) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[h]
}

func (m *Manager) setState(h domain.Horizon, s State) {
	m.mu.Lock()
	m.states[h] = s
	m.mu.Unlock()
	log.Debug().Str("horizon", string(h)).Str("state", s.String()).Msg("Deployment state transition")
}

// Deploy cuts over to candidate. baselineRMSE is the pre-deployment RMSE
// used for spike detection during monitoring. On monitoring failure the most
// recent backup is restored automatically and the returned record has
// Success=false, RolledBack=true.
func (m *Manager) Deploy(ctx context.Context, candidate *configstore.Configuration, baselineRMSE float64) (*Record, error) {
	h, err := domain.ParseHorizon(candidate.Horizon)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:        uuid.NewString(),
		Horizon:   string(h),
		StartedAt: m.clock(),
	}
	defer m.setState(h, StateIdle)

	// A run that already exceeded its budget must not touch anything.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: budget exceeded before backup: %v", ErrAborted, err)
	}

	m.setState(h, StateBackingUp)
	backupPath, err := m.store.Backup(h)
	if err != nil {
		rec.FinishedAt = m.clock()
		return rec, fmt.Errorf("%w: backup: %v", ErrAborted, err)
	}
	rec.BackupPath = backupPath

	if err := ctx.Err(); err != nil {
		rec.FinishedAt = m.clock()
		return rec, fmt.Errorf("%w: budget exceeded before write: %v", ErrAborted, err)
	}

	m.setState(h, StateWriting)
	if err := m.store.Write(candidate); err != nil {
		rec.FinishedAt = m.clock()
		return rec, fmt.Errorf("%w: write: %v", ErrAborted, err)
	}

	m.setState(h, StateCommitting)
	if m.vc != nil {
		message := fmt.Sprintf("retune %s: rmse %.3f mape %.3f (ctx=%d samples=%d temp=%.1f)",
			h, candidate.ValidationRMSE, candidate.ValidationMAPE,
			candidate.ContextLength, candidate.NumSamples, candidate.Temperature)
		revision, err := m.vc.Commit(m.store.Path(h), message)
		if err != nil {
			// Advisory only: auditability suffers but the deployment stands.
			log.Warn().Err(err).Str("horizon", string(h)).Msg("Version commit failed")
		} else {
			rec.Revision = revision
		}
	}

	if reason := m.monitorWindow(ctx, h, baselineRMSE); reason != "" {
		m.setState(h, StateRollingBack)
		rollback, rbErr := m.rollback(h, rec.ID, reason)
		rec.RolledBack = true
		rec.Reason = reason
		rec.FinishedAt = m.clock()
		if rbErr != nil {
			return rec, rbErr
		}
		rec.RollbackRef = rollback.ID
		log.Error().Str("horizon", string(h)).Str("reason", reason).
			Str("restored_from", rollback.BackupPath).
			Msg("Deployment unstable, rolled back")
		return rec, nil
	}

	m.setState(h, StateStable)
	rec.Success = true
	rec.FinishedAt = m.clock()
	log.Info().Str("horizon", string(h)).Str("backup", backupPath).
		Str("revision", rec.Revision).Msg("Deployment stable")
	return rec, nil
}

// monitorWindow polls the health signal for the configured window. It
// returns an empty string when the deployment is judged stable, otherwise
// the rollback reason. Context expiry during monitoring resolves to the
// rollback path, never to "leave whatever state we're in".
func (m *Manager) monitorWindow(ctx context.Context, h domain.Horizon, baselineRMSE float64) string {
	if m.prober == nil {
		return ""
	}
	m.setState(h, StateMonitoring)

	unhealthy := 0
	healthyStreak := 0
	for i := 0; i < m.monitor.Checks; i++ {
		select {
		case <-ctx.Done():
			return fmt.Sprintf("monitoring interrupted: %v", ctx.Err())
		case <-time.After(m.monitor.Interval):
		}

		status, err := m.prober.CheckHealth(ctx, h)
		if err != nil {
			log.Warn().Err(err).Str("horizon", string(h)).Msg("Health probe failed, counting as unhealthy")
			status.Healthy = false
		}

		if baselineRMSE > 0 && status.CurrentRMSE > baselineRMSE*(1+m.monitor.RMSESpikePct/100) {
			return fmt.Sprintf("rmse spike: %.3f exceeds baseline %.3f by more than %.0f%%",
				status.CurrentRMSE, baselineRMSE, m.monitor.RMSESpikePct)
		}

		if status.Healthy {
			healthyStreak++
			if healthyStreak >= m.monitor.HealthyReset {
				unhealthy = 0
			}
		} else {
			healthyStreak = 0
			unhealthy++
			if unhealthy >= m.monitor.UnhealthyLimit {
				return fmt.Sprintf("%d consecutive unhealthy polls", unhealthy)
			}
		}
	}
	return ""
}

// Rollback forces a restore of the most recent backup outside the monitoring
// flow. It is idempotent: with no backup to restore it returns (nil, nil)
// and the caller reports "nothing to roll back".
func (m *Manager) Rollback(ctx context.Context, h domain.Horizon) (*Record, error) {
	if _, err := m.store.LatestBackup(h); err != nil {
		if errors.Is(err, configstore.ErrNoBackup) {
			log.Info().Str("horizon", string(h)).Msg("Nothing to roll back")
			return nil, nil
		}
		return nil, err
	}

	m.setState(h, StateRollingBack)
	defer m.setState(h, StateIdle)
	return m.rollback(h, "", "operator-requested rollback")
}

func (m *Manager) rollback(h domain.Horizon, rollbackOf, reason string) (*Record, error) {
	rec := &Record{
		ID:         uuid.NewString(),
		Horizon:    string(h),
		RollbackOf: rollbackOf,
		Reason:     reason,
		StartedAt:  m.clock(),
	}

	backup, err := m.store.Restore(h)
	rec.FinishedAt = m.clock()
	if err != nil {
		return rec, fmt.Errorf("%w for horizon %s: %v", ErrRollbackFailed, h, err)
	}
	rec.BackupPath = backup
	rec.Success = true
	return rec, nil
}
