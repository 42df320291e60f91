package deploy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/halcyonquant/retune/internal/configstore"
	"github.com/halcyonquant/retune/internal/domain"
)

type scriptedProber struct {
	statuses []HealthStatus
	errs     []error
	pos      int
}

func (p *scriptedProber) CheckHealth(ctx context.Context, h domain.Horizon) (HealthStatus, error) {
	i := p.pos
	if i >= len(p.statuses) {
		i = len(p.statuses) - 1
	}
	p.pos++
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	return p.statuses[i], err
}

type recordingVC struct {
	commits []string
	err     error
}

func (v *recordingVC) Commit(path, message string) (string, error) {
	if v.err != nil {
		return "", v.err
	}
	v.commits = append(v.commits, message)
	return "rev-abc123", nil
}

func healthy(rmse float64) HealthStatus   { return HealthStatus{Healthy: true, CurrentRMSE: rmse} }
func unhealthy(rmse float64) HealthStatus { return HealthStatus{Healthy: false, CurrentRMSE: rmse} }

func fastMonitor(checks int) MonitorConfig {
	return MonitorConfig{
		Checks:         checks,
		Interval:       time.Millisecond,
		UnhealthyLimit: 3,
		HealthyReset:   2,
		RMSESpikePct:   50.0,
	}
}

func seedStore(t *testing.T, rmse float64) *configstore.Store {
	t.Helper()
	store := configstore.NewStore(t.TempDir())
	cfg := &configstore.Configuration{
		Horizon:        "7d",
		ContextLength:  180,
		NumSamples:     100,
		Temperature:    1.0,
		ValidationRMSE: rmse,
		Timestamp:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := store.Write(cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return store
}

func candidate(rmse float64) *configstore.Configuration {
	return &configstore.Configuration{
		Horizon:        "7d",
		ContextLength:  270,
		NumSamples:     200,
		Temperature:    0.8,
		ValidationRMSE: rmse,
		Timestamp:      time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestDeployStable(t *testing.T) {
	store := seedStore(t, 10.0)
	vc := &recordingVC{}
	prober := &scriptedProber{statuses: []HealthStatus{healthy(9.0)}}
	mgr := NewManager(store, vc, prober, fastMonitor(5))

	rec, err := mgr.Deploy(context.Background(), candidate(9.0), 10.0)
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if !rec.Success || rec.RolledBack {
		t.Errorf("Expected stable deployment, got %+v", rec)
	}
	if rec.BackupPath == "" {
		t.Error("Expected backup path on record")
	}
	if rec.Revision != "rev-abc123" {
		t.Errorf("Expected commit revision, got %q", rec.Revision)
	}

	active, err := store.Load(domain.Horizon7d)
	if err != nil {
		t.Fatalf("Load after deploy: %v", err)
	}
	if active.ContextLength != 270 {
		t.Errorf("Active config not replaced, context length %d", active.ContextLength)
	}
	if mgr.StateFor(domain.Horizon7d) != StateIdle {
		t.Errorf("Expected idle state after deploy, got %s", mgr.StateFor(domain.Horizon7d))
	}
}

func TestDeployWithoutActiveConfigAborts(t *testing.T) {
	store := configstore.NewStore(t.TempDir())
	mgr := NewManager(store, nil, nil, fastMonitor(1))

	_, err := mgr.Deploy(context.Background(), candidate(9.0), 10.0)
	if !errors.Is(err, ErrAborted) {
		t.Errorf("Expected ErrAborted when backup is impossible, got %v", err)
	}
	if _, loadErr := store.Load(domain.Horizon7d); !errors.Is(loadErr, configstore.ErrNotFound) {
		t.Error("Aborted deployment must not write any config")
	}
}

func TestThreeConsecutiveUnhealthyPollsRollBack(t *testing.T) {
	store := seedStore(t, 10.0)
	prober := &scriptedProber{statuses: []HealthStatus{
		unhealthy(9.0), unhealthy(9.0), unhealthy(9.0),
	}}
	mgr := NewManager(store, nil, prober, fastMonitor(10))

	rec, err := mgr.Deploy(context.Background(), candidate(9.0), 10.0)
	if err != nil {
		t.Fatalf("Deploy returned error: %v", err)
	}
	if rec.Success || !rec.RolledBack {
		t.Fatalf("Expected rollback, got %+v", rec)
	}
	if rec.RollbackRef == "" {
		t.Error("Expected reference to the rollback record")
	}

	active, err := store.Load(domain.Horizon7d)
	if err != nil {
		t.Fatalf("Load after rollback: %v", err)
	}
	if active.ContextLength != 180 {
		t.Errorf("Expected pre-deployment config restored, got context length %d", active.ContextLength)
	}
}

func TestHealthyStreakResetsFailureCounter(t *testing.T) {
	store := seedStore(t, 10.0)
	// Two unhealthy, two healthy (resets), two unhealthy: never three in a
	// row, so the deployment survives a transient blip.
	prober := &scriptedProber{statuses: []HealthStatus{
		unhealthy(9.0), unhealthy(9.0),
		healthy(9.0), healthy(9.0),
		unhealthy(9.0), unhealthy(9.0),
		healthy(9.0),
	}}
	mgr := NewManager(store, nil, prober, fastMonitor(7))

	rec, err := mgr.Deploy(context.Background(), candidate(9.0), 10.0)
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if !rec.Success {
		t.Errorf("Transient blips must not trigger rollback: %+v", rec)
	}
}

func TestRMSESpikeRollsBack(t *testing.T) {
	store := seedStore(t, 10.0)
	prober := &scriptedProber{statuses: []HealthStatus{healthy(15.1)}} // >50% over 10.0
	mgr := NewManager(store, nil, prober, fastMonitor(10))

	rec, err := mgr.Deploy(context.Background(), candidate(9.0), 10.0)
	if err != nil {
		t.Fatalf("Deploy returned error: %v", err)
	}
	if !rec.RolledBack {
		t.Errorf("Expected rollback on RMSE spike, got %+v", rec)
	}
}

func TestCommitFailureDoesNotRollBack(t *testing.T) {
	store := seedStore(t, 10.0)
	vc := &recordingVC{err: errors.New("git unavailable")}
	prober := &scriptedProber{statuses: []HealthStatus{healthy(9.0)}}
	mgr := NewManager(store, vc, prober, fastMonitor(3))

	rec, err := mgr.Deploy(context.Background(), candidate(9.0), 10.0)
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if !rec.Success {
		t.Error("Commit failure is advisory and must not fail the deployment")
	}
	if rec.Revision != "" {
		t.Errorf("Expected empty revision after commit failure, got %q", rec.Revision)
	}
}

func TestProbeErrorCountsAsUnhealthy(t *testing.T) {
	store := seedStore(t, 10.0)
	probeErr := errors.New("connection refused")
	prober := &scriptedProber{
		statuses: []HealthStatus{{}, {}, {}},
		errs:     []error{probeErr, probeErr, probeErr},
	}
	mgr := NewManager(store, nil, prober, fastMonitor(10))

	rec, err := mgr.Deploy(context.Background(), candidate(9.0), 10.0)
	if err != nil {
		t.Fatalf("Deploy returned error: %v", err)
	}
	if !rec.RolledBack {
		t.Error("Unreachable health signal must count as unhealthy and roll back")
	}
}

func TestContextCancelDuringMonitoringRollsBack(t *testing.T) {
	store := seedStore(t, 10.0)
	prober := &scriptedProber{statuses: []HealthStatus{healthy(9.0)}}
	mgr := NewManager(store, nil, prober, MonitorConfig{
		Checks: 1000, Interval: 50 * time.Millisecond,
		UnhealthyLimit: 3, HealthyReset: 2, RMSESpikePct: 50,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	rec, err := mgr.Deploy(ctx, candidate(9.0), 10.0)
	if err != nil {
		t.Fatalf("Deploy returned error: %v", err)
	}
	if !rec.RolledBack {
		t.Error("Timeout during monitoring must resolve to rollback")
	}
}

func TestExpiredContextBeforeBackupIsSafeNoOp(t *testing.T) {
	store := seedStore(t, 10.0)
	mgr := NewManager(store, nil, nil, fastMonitor(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mgr.Deploy(ctx, candidate(9.0), 10.0)
	if !errors.Is(err, ErrAborted) {
		t.Errorf("Expected ErrAborted, got %v", err)
	}
	active, loadErr := store.Load(domain.Horizon7d)
	if loadErr != nil {
		t.Fatalf("Load: %v", loadErr)
	}
	if active.ContextLength != 180 {
		t.Error("Expired budget before backup must not change any state")
	}
}

func TestRollbackIdempotentWithoutBackup(t *testing.T) {
	store := seedStore(t, 10.0)
	mgr := NewManager(store, nil, nil, fastMonitor(1))

	rec, err := mgr.Rollback(context.Background(), domain.Horizon7d)
	if err != nil {
		t.Fatalf("Rollback with no backup must not error: %v", err)
	}
	if rec != nil {
		t.Errorf("Expected nil record for no-op rollback, got %+v", rec)
	}
}

func TestForcedRollbackRestoresBackup(t *testing.T) {
	store := seedStore(t, 10.0)
	mgr := NewManager(store, nil, nil, fastMonitor(3))

	// Deploy without a prober: immediately stable, leaves a backup behind.
	if _, err := mgr.Deploy(context.Background(), candidate(9.0), 10.0); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}

	rec, err := mgr.Rollback(context.Background(), domain.Horizon7d)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if rec == nil || !rec.Success {
		t.Fatalf("Expected successful rollback record, got %+v", rec)
	}

	active, err := store.Load(domain.Horizon7d)
	if err != nil {
		t.Fatalf("Load after rollback: %v", err)
	}
	if active.ContextLength != 180 {
		t.Errorf("Expected original config restored, got context length %d", active.ContextLength)
	}

	// A second rollback restores the same backup again: still a success,
	// never an error.
	if _, err := mgr.Rollback(context.Background(), domain.Horizon7d); err != nil {
		t.Errorf("Repeated rollback must not error: %v", err)
	}
}
