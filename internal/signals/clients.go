// Package signals holds the HTTP clients for the external collaborators the
// recalibration loop consumes: the rolling performance report, the
// distribution-drift oracle, the forecasting service's health signal, and
// the recent-series feed. Each client is guarded by a circuit breaker so a
// flapping collaborator degrades cleanly instead of hammering a dead host.
package signals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/halcyonquant/retune/internal/deploy"
	"github.com/halcyonquant/retune/internal/domain"
	"github.com/halcyonquant/retune/internal/trigger"
)

// ClientConfig defines shared collaborator client parameters.
type ClientConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // default 10s
	BreakerTrips   uint32        `yaml:"breaker_trips"`   // default 3
	BreakerTimeout time.Duration `yaml:"breaker_timeout"` // default 2m
}

// DefaultClientConfig returns production defaults for a collaborator client.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:        baseURL,
		RequestTimeout: 10 * time.Second,
		BreakerTrips:   3,
		BreakerTimeout: 2 * time.Minute,
	}
}

type client struct {
	config  ClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func newClient(name string, config ClientConfig) client {
	trips := config.BreakerTrips
	if trips == 0 {
		trips = 3
	}
	timeout := config.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("Collaborator circuit breaker state change")
		},
	}
	return client{
		config:  config,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// getJSON performs a GET through the breaker and decodes the body into out.
func (c *client) getJSON(ctx context.Context, path string, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("%s returned %s: %s", path, resp.Status, string(payload))
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	return err
}

// postJSON performs a POST through the breaker and decodes the body into out.
func (c *client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request for %s: %w", path, err)
	}
	_, err = c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("%s returned %s: %s", path, resp.Status, string(msg))
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	return err
}

// PerformanceClient implements trigger.PerformanceProvider.
type PerformanceClient struct {
	client
}

// NewPerformanceClient creates a rolling-performance report client.
func NewPerformanceClient(config ClientConfig) *PerformanceClient {
	return &PerformanceClient{newClient("performance-provider", config)}
}

func (c *PerformanceClient) GetPerformance(ctx context.Context, h domain.Horizon) (trigger.PerformanceReport, error) {
	var out trigger.PerformanceReport
	if err := c.getJSON(ctx, "/v1/performance/"+string(h), &out); err != nil {
		return trigger.PerformanceReport{}, err
	}
	return out, nil
}

// DriftClient implements trigger.DriftProvider.
type DriftClient struct {
	client
}

// NewDriftClient creates a drift-classification client.
func NewDriftClient(config ClientConfig) *DriftClient {
	return &DriftClient{newClient("drift-provider", config)}
}

type driftResponse struct {
	Severity string `json:"severity"`
}

func (c *DriftClient) GetDrift(ctx context.Context, series domain.Series) (trigger.DriftReport, error) {
	var out driftResponse
	if err := c.postJSON(ctx, "/v1/drift", map[string]any{"series": series}, &out); err != nil {
		return trigger.DriftReport{}, err
	}
	severity, err := trigger.ParseSeverity(out.Severity)
	if err != nil {
		return trigger.DriftReport{}, err
	}
	return trigger.DriftReport{Severity: severity}, nil
}

// HealthClient implements deploy.HealthProber.
type HealthClient struct {
	client
}

// NewHealthClient creates a forecasting-service health probe client.
func NewHealthClient(config ClientConfig) *HealthClient {
	return &HealthClient{newClient("health-prober", config)}
}

func (c *HealthClient) CheckHealth(ctx context.Context, h domain.Horizon) (deploy.HealthStatus, error) {
	var out deploy.HealthStatus
	if err := c.getJSON(ctx, "/v1/health/"+string(h), &out); err != nil {
		return deploy.HealthStatus{}, err
	}
	return out, nil
}

// SeriesClient fetches recent observations of the forecast quantity.
type SeriesClient struct {
	client
}

// NewSeriesClient creates a recent-series feed client.
func NewSeriesClient(config ClientConfig) *SeriesClient {
	return &SeriesClient{newClient("series-provider", config)}
}

type seriesResponse struct {
	Series domain.Series `json:"series"`
}

// RecentSeries returns the last limit observations for a horizon's series.
func (c *SeriesClient) RecentSeries(ctx context.Context, h domain.Horizon, limit int) (domain.Series, error) {
	var out seriesResponse
	path := fmt.Sprintf("/v1/series/%s?limit=%d", h, limit)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Series, nil
}
