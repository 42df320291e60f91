package backtest

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
	"golang.org/x/time/rate"

	"github.com/halcyonquant/retune/internal/configstore"
	"github.com/halcyonquant/retune/internal/domain"
)

// Oracle scores a configuration by running the external forecasting model
// over the last `window` observations of series and comparing against
// realized values. The model itself is a black box behind this interface.
type Oracle interface {
	Backtest(ctx context.Context, cfg *configstore.Configuration, series domain.Series, window int) (Metrics, error)
}

// ClientConfig defines the HTTP backtest client parameters.
type ClientConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`  // default 120s, backtests are slow
	RatePerSecond  float64       `yaml:"rate_per_second"`  // default 4
	RateBurst      int           `yaml:"rate_burst"`       // default 8
	BreakerTrips   uint32        `yaml:"breaker_trips"`    // consecutive failures to trip, default 5
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`  // open-state duration, default 60s
}

// DefaultClientConfig returns production defaults for the backtest client.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:        baseURL,
		RequestTimeout: 120 * time.Second,
		RatePerSecond:  4,
		RateBurst:      8,
		BreakerTrips:   5,
		BreakerTimeout: 60 * time.Second,
	}
}

// Client calls the forecasting model's backtest endpoint over HTTP, with a
// circuit breaker and a rate limit protecting the model service.
type Client struct {
	config  ClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewClient creates a backtest client against the model service.
func NewClient(config ClientConfig) *Client {
	trips := config.BreakerTrips
	if trips == 0 {
		trips = 5
	}
	settings := gobreaker.Settings{
		Name:    "backtest-oracle",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("Backtest oracle circuit breaker state change")
		},
	}

	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.RequestTimeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.RateBurst),
	}
}

type backtestRequest struct {
	Horizon       string        `json:"horizon"`
	ContextLength int           `json:"context_length"`
	NumSamples    int           `json:"num_samples"`
	Temperature   float64       `json:"temperature"`
	Window        int           `json:"window"`
	Series        domain.Series `json:"series"`
}

type backtestResponse struct {
	RMSE            float64 `json:"rmse"`
	MAPE            float64 `json:"mape"`
	MAE             float64 `json:"mae"`
	CICoverage      float64 `json:"ci_coverage"`
	Bias            float64 `json:"bias"`
	ErrorStdDev     float64 `json:"error_stddev"`
	InferenceTimeMS float64 `json:"inference_time_ms"`
}

// Backtest implements Oracle against the model service.
func (c *Client) Backtest(ctx context.Context, cfg *configstore.Configuration, series domain.Series, window int) (Metrics, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Metrics{}, fmt.Errorf("backtest rate limiter: %w", err)
	}

	body, err := json.Marshal(backtestRequest{
		Horizon:       cfg.Horizon,
		ContextLength: cfg.ContextLength,
		NumSamples:    cfg.NumSamples,
		Temperature:   cfg.Temperature,
		Window:        window,
		Series:        series,
	})
	if err != nil {
		return Metrics{}, fmt.Errorf("marshal backtest request: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/backtest", bytes.NewReader(body))
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
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("backtest service returned %s: %s", resp.Status, string(payload))
		}

		var out backtestResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode backtest response: %w", err)
		}
		return &out, nil
	})
	if err != nil {
		return Metrics{}, fmt.Errorf("backtest %s ctx=%d samples=%d temp=%.1f: %w",
			cfg.Horizon, cfg.ContextLength, cfg.NumSamples, cfg.Temperature, err)
	}

	out := result.(*backtestResponse)
	return Metrics{
		RMSE:          out.RMSE,
		MAPE:          out.MAPE,
		MAE:           out.MAE,
		CICoverage:    out.CICoverage,
		Bias:          out.Bias,
		ErrorStdDev:   out.ErrorStdDev,
		InferenceTime: time.Duration(out.InferenceTimeMS * float64(time.Millisecond)),
	}, nil
}
