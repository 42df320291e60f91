package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/halcyonquant/retune/internal/backtest"
	"github.com/halcyonquant/retune/internal/configstore"
	"github.com/halcyonquant/retune/internal/domain"
)

// ErrSearchExhausted indicates every grid combination failed to backtest.
var ErrSearchExhausted = errors.New("all grid combinations failed")

// Strategy explores a configuration space for a horizon and returns the best
// candidate it found, scored against the recent series. Implementations must
// be deterministic given identical inputs.
type Strategy interface {
	Optimize(ctx context.Context, h domain.Horizon, series domain.Series) (*configstore.Configuration, error)
}

// Config holds grid search parameters.
type Config struct {
	Window  int `yaml:"window"`  // validation window in observations, default 30
	Workers int `yaml:"workers"` // concurrent backtests, default 4
}

// DefaultConfig returns the default search parameters.
func DefaultConfig() Config {
	return Config{
		Window:  30,
		Workers: 4,
	}
}

// GridSearch exhaustively scores every combination of a horizon's Space by
// backtesting and selects the lowest-RMSE winner. Ties break toward the
// first-enumerated combination, so repeated runs over the same inputs return
// the same configuration.
type GridSearch struct {
	config Config
	spaces map[domain.Horizon]Space
	oracle backtest.Oracle
	clock  func() time.Time
}

// NewGridSearch creates a grid search over the default per-horizon spaces.
func NewGridSearch(config Config, oracle backtest.Oracle) *GridSearch {
	if config.Window <= 0 {
		config.Window = 30
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}

	spaces := make(map[domain.Horizon]Space, len(domain.AllHorizons()))
	for _, h := range domain.AllHorizons() {
		spaces[h] = DefaultSpace(h)
	}

	return &GridSearch{
		config: config,
		spaces: spaces,
		oracle: oracle,
		clock:  time.Now,
	}
}

// SetSpace overrides the grid for one horizon.
func (g *GridSearch) SetSpace(h domain.Horizon, space Space) {
	g.spaces[h] = space
}

// SetClock overrides the timestamp source (for testing).
func (g *GridSearch) SetClock(clock func() time.Time) {
	g.clock = clock
}

type comboResult struct {
	combo   combination
	metrics backtest.Metrics
	err     error
}

// Optimize implements Strategy. Individual combination failures are logged
// and skipped; the search only fails when every combination fails.
func (g *GridSearch) Optimize(ctx context.Context, h domain.Horizon, series domain.Series) (*configstore.Configuration, error) {
	started := g.clock()
	space, ok := g.spaces[h]
	if !ok {
		space = DefaultSpace(h)
	}
	combos := space.enumerate()

	results := g.evaluateAll(ctx, h, combos, series)

	var best *comboResult
	evaluated := 0
	for i := range results {
		r := &results[i]
		if r.err != nil {
			log.Warn().Err(r.err).Str("horizon", string(h)).
				Int("context_length", r.combo.contextLength).
				Int("num_samples", r.combo.numSamples).
				Float64("temperature", r.combo.temperature).
				Msg("Grid combination failed, skipping")
			continue
		}
		evaluated++
		// Strict less-than keeps the lowest enumeration index on ties.
		if best == nil || r.metrics.RMSE < best.metrics.RMSE {
			best = r
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w for horizon %s (%d combinations)", ErrSearchExhausted, h, len(combos))
	}

	elapsed := g.clock().Sub(started)
	cfg := &configstore.Configuration{
		Horizon:                 string(h),
		ContextLength:           best.combo.contextLength,
		NumSamples:              best.combo.numSamples,
		Temperature:             best.combo.temperature,
		ValidationRMSE:          best.metrics.RMSE,
		ValidationMAPE:          best.metrics.MAPE,
		ValidationMAE:           best.metrics.MAE,
		CICoverage:              best.metrics.CICoverage,
		Bias:                    best.metrics.Bias,
		InferenceTimeMS:         float64(best.metrics.InferenceTime) / float64(time.Millisecond),
		SearchIterations:        evaluated,
		OptimizationTimeSeconds: elapsed.Seconds(),
		Timestamp:               g.clock(),
	}

	log.Info().Str("horizon", string(h)).
		Int("evaluated", evaluated).Int("grid_size", len(combos)).
		Float64("best_rmse", best.metrics.RMSE).
		Dur("elapsed", elapsed).
		Msg("Grid search complete")
	return cfg, nil
}

// evaluateAll backtests every combination with a bounded worker pool. The
// result slice is indexed by enumeration order so selection stays
// deterministic regardless of completion order.
func (g *GridSearch) evaluateAll(ctx context.Context, h domain.Horizon, combos []combination, series domain.Series) []comboResult {
	results := make([]comboResult, len(combos))
	jobs := make(chan combination)

	var wg sync.WaitGroup
	workers := g.config.Workers
	if workers > len(combos) {
		workers = len(combos)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for combo := range jobs {
				cfg := &configstore.Configuration{
					Horizon:       string(h),
					ContextLength: combo.contextLength,
					NumSamples:    combo.numSamples,
					Temperature:   combo.temperature,
				}
				metrics, err := g.oracle.Backtest(ctx, cfg, series, g.config.Window)
				results[combo.index] = comboResult{combo: combo, metrics: metrics, err: err}
			}
		}()
	}

	for _, combo := range combos {
		select {
		case jobs <- combo:
		case <-ctx.Done():
			// Undispatched combinations are recorded as failed so the
			// caller sees a consistent result set.
			for i := combo.index; i < len(combos); i++ {
				results[i] = comboResult{combo: combos[i], err: ctx.Err()}
			}
			close(jobs)
			wg.Wait()
			return results
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
