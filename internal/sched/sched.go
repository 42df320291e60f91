// Package sched runs the pipeline on a fixed interval for environments
// without an external cron, serving health and prometheus metrics endpoints
// while it runs.
package sched

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/halcyonquant/retune/internal/domain"
	"github.com/halcyonquant/retune/internal/pipeline"
)

// Config holds scheduler parameters.
type Config struct {
	Interval   time.Duration // between full pipeline sweeps, default 6h
	ListenAddr string        // ops endpoint, default ":9090"
	Horizons   []domain.Horizon
	DryRun     bool
}

// Runner owns the sweep loop and the ops HTTP server.
type Runner struct {
	config   Config
	pipeline *pipeline.Pipeline

	mu       sync.RWMutex
	lastRun  time.Time
	lastSeen map[domain.Horizon]string
	sweeps   int
}

// NewRunner creates a scheduler around a pipeline.
func NewRunner(config Config, p *pipeline.Pipeline) *Runner {
	if config.Interval <= 0 {
		config.Interval = 6 * time.Hour
	}
	if config.ListenAddr == "" {
		config.ListenAddr = ":9090"
	}
	if len(config.Horizons) == 0 {
		config.Horizons = domain.AllHorizons()
	}
	return &Runner{
		config:   config,
		pipeline: p,
		lastSeen: make(map[domain.Horizon]string),
	}
}

// Start runs the sweep loop until ctx is cancelled. The first sweep runs
// immediately. The ops server is shut down before Start returns.
func (r *Runner) Start(ctx context.Context) error {
	router := mux.NewRouter()
	router.HandleFunc("/health", r.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/healthz", r.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	server := &http.Server{Addr: r.config.ListenAddr, Handler: router}
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", r.config.ListenAddr).Msg("Ops endpoint listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Ops server shutdown failed")
			}
			return nil
		case err := <-serverErr:
			return err
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	log.Info().Int("horizons", len(r.config.Horizons)).Bool("dry_run", r.config.DryRun).
		Msg("Starting scheduled pipeline sweep")

	results := r.pipeline.RunAll(ctx, r.config.Horizons, r.config.DryRun, true)

	r.mu.Lock()
	r.lastRun = time.Now()
	r.sweeps++
	for _, res := range results {
		r.lastSeen[res.Horizon] = string(res.Outcome)
	}
	r.mu.Unlock()

	for _, res := range results {
		log.Info().Str("horizon", string(res.Horizon)).Str("outcome", string(res.Outcome)).
			Msg("Sweep result")
	}
}

type healthResponse struct {
	Status   string            `json:"status"`
	LastRun  time.Time         `json:"last_run"`
	Sweeps   int               `json:"sweeps"`
	Horizons map[string]string `json:"horizons"`
}

func (r *Runner) handleHealth(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	resp := healthResponse{
		Status:   "ok",
		LastRun:  r.lastRun,
		Sweeps:   r.sweeps,
		Horizons: make(map[string]string, len(r.lastSeen)),
	}
	for h, outcome := range r.lastSeen {
		resp.Horizons[string(h)] = outcome
	}
	r.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
