package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "retune.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Trigger.DegradationThresholdPct != 15.0 {
		t.Errorf("Expected default degradation threshold 15, got %f", settings.Trigger.DegradationThresholdPct)
	}
	if settings.Monitor.Checks != 60 {
		t.Errorf("Expected default 60 monitor checks, got %d", settings.Monitor.Checks)
	}
	if len(settings.Horizons) != 4 {
		t.Errorf("Expected 4 default horizons, got %v", settings.Horizons)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retune.yaml")
	content := `
horizons: ["7d", "30d"]
trigger:
  degradation_threshold_pct: 20
  max_age_days: 7
search:
  window: 45
  workers: 8
monitor:
  checks: 10
  interval_seconds: 30
  unhealthy_limit: 3
  healthy_reset: 2
  rmse_spike_pct: 50
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	settings, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Trigger.DegradationThresholdPct != 20 {
		t.Errorf("Override not applied: %f", settings.Trigger.DegradationThresholdPct)
	}
	if settings.Trigger.MinDriftSeverity != "medium" {
		t.Errorf("Untouched default lost: %q", settings.Trigger.MinDriftSeverity)
	}
	if len(settings.ParsedHorizons()) != 2 {
		t.Errorf("Expected 2 horizons, got %v", settings.Horizons)
	}
}

func TestLoadRejectsUnknownHorizon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retune.yaml")
	if err := os.WriteFile(path, []byte(`horizons: ["3d"]`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for unknown horizon")
	}
}

func TestLoadRejectsBadSeverity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retune.yaml")
	if err := os.WriteFile(path, []byte("trigger:\n  min_drift_severity: extreme\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for unknown severity")
	}
}

func TestLoadRejectsBudgetInsideMonitoringWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retune.yaml")
	// 45m budget against the default 60x60s monitoring window: every
	// deployment would be interrupted mid-monitoring and rolled back.
	if err := os.WriteFile(path, []byte("run_budget_minutes: 45\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for budget shorter than the monitoring window")
	}
}

func TestDefaultBudgetExceedsMonitoringWindow(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("Default settings must validate: %v", err)
	}
	if s.RunBudgetMinutes*60 <= s.Monitor.Checks*s.Monitor.IntervalSeconds {
		t.Errorf("Default budget %dm does not cover the %d-check monitoring window",
			s.RunBudgetMinutes, s.Monitor.Checks)
	}
}

func TestLoadRejectsNonPositiveWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retune.yaml")
	if err := os.WriteFile(path, []byte("search:\n  window: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for zero search window")
	}
}
