package signals

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/halcyonquant/retune/internal/domain"
	"github.com/halcyonquant/retune/internal/trigger"
)

func testConfig(url string) ClientConfig {
	return ClientConfig{
		BaseURL:        url,
		RequestTimeout: time.Second,
		BreakerTrips:   3,
		BreakerTimeout: time.Minute,
	}
}

func TestPerformanceClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/performance/7d" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"rmse": 11.2, "mape": 3.1, "degraded": true, "degradation_pct": 18.5}`))
	}))
	defer srv.Close()

	c := NewPerformanceClient(testConfig(srv.URL))
	report, err := c.GetPerformance(context.Background(), domain.Horizon7d)
	if err != nil {
		t.Fatalf("GetPerformance failed: %v", err)
	}
	if !report.Degraded || report.DegradationPct != 18.5 {
		t.Errorf("Unexpected report %+v", report)
	}
}

func TestDriftClientParsesSeverity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		w.Write([]byte(`{"severity": "high"}`))
	}))
	defer srv.Close()

	c := NewDriftClient(testConfig(srv.URL))
	report, err := c.GetDrift(context.Background(), domain.Series{})
	if err != nil {
		t.Fatalf("GetDrift failed: %v", err)
	}
	if report.Severity != trigger.SeverityHigh {
		t.Errorf("Expected high severity, got %s", report.Severity)
	}
}

func TestHealthClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"healthy": true, "current_rmse": 9.4}`))
	}))
	defer srv.Close()

	c := NewHealthClient(testConfig(srv.URL))
	status, err := c.CheckHealth(context.Background(), domain.Horizon30d)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !status.Healthy || status.CurrentRMSE != 9.4 {
		t.Errorf("Unexpected status %+v", status)
	}
}

func TestSeriesClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "120" {
			t.Errorf("Expected limit=120, got %s", got)
		}
		w.Write([]byte(`{"series": [{"timestamp": "2025-06-01T00:00:00Z", "value": 101.5}]}`))
	}))
	defer srv.Close()

	c := NewSeriesClient(testConfig(srv.URL))
	series, err := c.RecentSeries(context.Background(), domain.Horizon7d, 120)
	if err != nil {
		t.Fatalf("RecentSeries failed: %v", err)
	}
	if len(series) != 1 || series[0].Value != 101.5 {
		t.Errorf("Unexpected series %+v", series)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewPerformanceClient(testConfig(srv.URL))
	for i := 0; i < 3; i++ {
		if _, err := c.GetPerformance(context.Background(), domain.Horizon7d); err == nil {
			t.Fatal("Expected error from failing server")
		}
	}

	// Breaker is open now: the next call fails fast without a request.
	start := time.Now()
	if _, err := c.GetPerformance(context.Background(), domain.Horizon7d); err == nil {
		t.Fatal("Expected breaker-open error")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Open breaker should fail fast")
	}
}
