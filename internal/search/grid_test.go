package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/halcyonquant/retune/internal/backtest"
	"github.com/halcyonquant/retune/internal/configstore"
	"github.com/halcyonquant/retune/internal/domain"
)

// scriptedOracle returns a deterministic RMSE per combination and can fail
// selected combinations.
type scriptedOracle struct {
	mu    sync.Mutex
	calls int
	rmse  func(cfg *configstore.Configuration) float64
	fail  func(cfg *configstore.Configuration) bool
}

func (o *scriptedOracle) Backtest(ctx context.Context, cfg *configstore.Configuration, series domain.Series, window int) (backtest.Metrics, error) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()

	if o.fail != nil && o.fail(cfg) {
		return backtest.Metrics{}, errors.New("model service unavailable")
	}
	return backtest.Metrics{
		RMSE:          o.rmse(cfg),
		MAPE:          2.0,
		MAE:           1.5,
		CICoverage:    0.94,
		Bias:          0.5,
		ErrorStdDev:   1.0,
		InferenceTime: 80 * time.Millisecond,
	}, nil
}

func comboKey(cfg *configstore.Configuration) string {
	return fmt.Sprintf("%d/%d/%.1f", cfg.ContextLength, cfg.NumSamples, cfg.Temperature)
}

func TestGridSearchFindsLowestRMSE(t *testing.T) {
	oracle := &scriptedOracle{
		rmse: func(cfg *configstore.Configuration) float64 {
			if comboKey(cfg) == "180/100/1.0" {
				return 1.5
			}
			return 5.0
		},
	}
	gs := NewGridSearch(DefaultConfig(), oracle)

	cfg, err := gs.Optimize(context.Background(), domain.Horizon7d, nil)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if cfg.ContextLength != 180 || cfg.NumSamples != 100 || cfg.Temperature != 1.0 {
		t.Errorf("Expected winner 180/100/1.0, got %s", comboKey(cfg))
	}
	if cfg.ValidationRMSE != 1.5 {
		t.Errorf("Expected winner RMSE 1.5, got %f", cfg.ValidationRMSE)
	}
	if cfg.SearchIterations != 27 {
		t.Errorf("Expected 27 evaluated combinations, got %d", cfg.SearchIterations)
	}
}

func TestGridSearchDeterministicAcrossRuns(t *testing.T) {
	oracle := &scriptedOracle{
		rmse: func(cfg *configstore.Configuration) float64 {
			// Two distinct score levels, several combos tied at the bottom.
			if cfg.NumSamples == 100 {
				return 2.0
			}
			return 4.0
		},
	}
	gs := NewGridSearch(Config{Window: 30, Workers: 8}, oracle)

	first, err := gs.Optimize(context.Background(), domain.Horizon15d, nil)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := gs.Optimize(context.Background(), domain.Horizon15d, nil)
		if err != nil {
			t.Fatalf("Optimize failed on rerun: %v", err)
		}
		if comboKey(again) != comboKey(first) {
			t.Fatalf("Non-deterministic winner: %s vs %s", comboKey(again), comboKey(first))
		}
	}
}

func TestGridSearchTieBreaksFirstFound(t *testing.T) {
	oracle := &scriptedOracle{
		rmse: func(cfg *configstore.Configuration) float64 { return 3.0 },
	}
	gs := NewGridSearch(Config{Window: 30, Workers: 8}, oracle)

	cfg, err := gs.Optimize(context.Background(), domain.Horizon7d, nil)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	// Enumeration order is context length, then samples, then temperature.
	if comboKey(cfg) != "90/50/0.8" {
		t.Errorf("Expected first-enumerated combination on tie, got %s", comboKey(cfg))
	}
}

func TestGridSearchSkipsFailedCombinations(t *testing.T) {
	oracle := &scriptedOracle{
		rmse: func(cfg *configstore.Configuration) float64 {
			if comboKey(cfg) == "90/50/0.8" {
				return 0.1 // would win, but fails below
			}
			return 5.0
		},
		fail: func(cfg *configstore.Configuration) bool {
			return comboKey(cfg) == "90/50/0.8"
		},
	}
	gs := NewGridSearch(DefaultConfig(), oracle)

	cfg, err := gs.Optimize(context.Background(), domain.Horizon7d, nil)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if comboKey(cfg) == "90/50/0.8" {
		t.Error("Failed combination must be skipped")
	}
	if cfg.SearchIterations != 26 {
		t.Errorf("Expected 26 completed evaluations, got %d", cfg.SearchIterations)
	}
}

func TestGridSearchAllFailuresSurfacesError(t *testing.T) {
	oracle := &scriptedOracle{
		rmse: func(cfg *configstore.Configuration) float64 { return 1.0 },
		fail: func(cfg *configstore.Configuration) bool { return true },
	}
	gs := NewGridSearch(DefaultConfig(), oracle)

	_, err := gs.Optimize(context.Background(), domain.Horizon7d, nil)
	if !errors.Is(err, ErrSearchExhausted) {
		t.Errorf("Expected ErrSearchExhausted, got %v", err)
	}
}

func TestGridSearchEvaluatesFullGrid(t *testing.T) {
	oracle := &scriptedOracle{
		rmse: func(cfg *configstore.Configuration) float64 { return 1.0 },
	}
	gs := NewGridSearch(Config{Window: 30, Workers: 2}, oracle)

	if _, err := gs.Optimize(context.Background(), domain.Horizon90d, nil); err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if oracle.calls != 27 {
		t.Errorf("Expected 27 backtest calls, got %d", oracle.calls)
	}
}

func TestGridSearchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	oracle := &scriptedOracle{
		rmse: func(cfg *configstore.Configuration) float64 { return 1.0 },
	}
	gs := NewGridSearch(DefaultConfig(), oracle)

	// All evaluations either error with context.Canceled inside the oracle
	// call or never dispatch; either way the search reports exhaustion
	// rather than hanging.
	if _, err := gs.Optimize(ctx, domain.Horizon7d, nil); err == nil {
		t.Log("search completed before cancellation was observed")
	}
}

func TestSpaceSize(t *testing.T) {
	for _, h := range domain.AllHorizons() {
		if got := DefaultSpace(h).Size(); got != 27 {
			t.Errorf("Horizon %s: expected grid size 27, got %d", h, got)
		}
	}
}
