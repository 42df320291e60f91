// Package pipeline orchestrates one recalibration run per horizon: trigger
// evaluation, hyperparameter search, validation, deployment, and history
// recording. It is the only entry point external callers invoke.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/halcyonquant/retune/internal/configstore"
	"github.com/halcyonquant/retune/internal/deploy"
	"github.com/halcyonquant/retune/internal/domain"
	"github.com/halcyonquant/retune/internal/history"
	"github.com/halcyonquant/retune/internal/metrics"
	"github.com/halcyonquant/retune/internal/search"
	"github.com/halcyonquant/retune/internal/trigger"
	"github.com/halcyonquant/retune/internal/validate"
)

// ErrAlreadyRunning indicates an optimization for the horizon is already in
// flight; overlapping invocations are rejected rather than raced.
var ErrAlreadyRunning = errors.New("optimization already in flight for horizon")

// SeriesProvider supplies the recent observations the trigger, search, and
// validator all evaluate against.
type SeriesProvider interface {
	RecentSeries(ctx context.Context, h domain.Horizon, limit int) (domain.Series, error)
}

// Deployer is the deployment surface the pipeline drives.
type Deployer interface {
	Deploy(ctx context.Context, candidate *configstore.Configuration, baselineRMSE float64) (*deploy.Record, error)
	Rollback(ctx context.Context, h domain.Horizon) (*deploy.Record, error)
}

// Config holds pipeline-level parameters.
type Config struct {
	SeriesLimit int           // observations to fetch, default 120
	RunBudget   time.Duration // wall-clock budget per horizon, default 2h; must outlast the monitoring window
	MaxParallel int           // concurrent horizons in RunAll, default 4
}

// Result is the outcome of one run for one horizon.
type Result struct {
	Horizon    domain.Horizon
	Outcome    history.Outcome
	Reasons    []string
	Validation *validate.Report
	Deployment *deploy.Record
	Err        error
}

// Line renders the one-line CLI outcome for the horizon.
func (r Result) Line() string {
	switch r.Outcome {
	case history.OutcomeNoOp:
		return fmt.Sprintf("%s: no-op", r.Horizon)
	case history.OutcomeDeployed:
		return fmt.Sprintf("%s: deployed", r.Horizon)
	case history.OutcomeRejected:
		return fmt.Sprintf("%s: rejected: %s", r.Horizon, joinReasons(r.Reasons))
	case history.OutcomeRolledBack:
		return fmt.Sprintf("%s: rolled back: %s", r.Horizon, joinReasons(r.Reasons))
	default:
		return fmt.Sprintf("%s: FAILED: %v", r.Horizon, r.Err)
	}
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "unspecified"
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}

// Pipeline wires the recalibration components together. Horizons may run in
// parallel; a per-horizon mutex guarantees at most one in-flight optimization
// per horizon.
type Pipeline struct {
	config    Config
	store     *configstore.Store
	triggers  *trigger.Manager
	strategy  search.Strategy
	validator *validate.Validator
	deployer  Deployer
	series    SeriesProvider
	sink      history.Sink
	clock     func() time.Time

	mu    sync.Mutex
	locks map[domain.Horizon]*sync.Mutex
}

// New creates a pipeline. sink may be nil to disable history recording
// (tests only; production always records).
func New(config Config, store *configstore.Store, triggers *trigger.Manager, strategy search.Strategy,
	validator *validate.Validator, deployer Deployer, series SeriesProvider, sink history.Sink) *Pipeline {
	if config.SeriesLimit <= 0 {
		config.SeriesLimit = 120
	}
	if config.RunBudget <= 0 {
		config.RunBudget = 2 * time.Hour
	}
	if config.MaxParallel <= 0 {
		config.MaxParallel = 4
	}
	return &Pipeline{
		config:    config,
		store:     store,
		triggers:  triggers,
		strategy:  strategy,
		validator: validator,
		deployer:  deployer,
		series:    series,
		sink:      sink,
		clock:     time.Now,
		locks:     make(map[domain.Horizon]*sync.Mutex),
	}
}

// SetClock overrides the time source (for testing).
func (p *Pipeline) SetClock(clock func() time.Time) {
	p.clock = clock
}

func (p *Pipeline) lockFor(h domain.Horizon) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.locks[h]; !ok {
		p.locks[h] = &sync.Mutex{}
	}
	return p.locks[h]
}

// Run executes the pipeline once for one horizon. All failures are captured
// in the Result and the history log; only the caller decides process exit
// semantics.
func (p *Pipeline) Run(ctx context.Context, h domain.Horizon, dryRun bool) Result {
	lock := p.lockFor(h)
	if !lock.TryLock() {
		return Result{Horizon: h, Outcome: history.OutcomeFailed,
			Err: fmt.Errorf("%w %s", ErrAlreadyRunning, h)}
	}
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.config.RunBudget)
	defer cancel()

	started := p.clock()
	runID := uuid.NewString()
	result := p.run(ctx, h, dryRun)

	rec := history.Record{
		RunID:      runID,
		Horizon:    string(h),
		Timestamp:  started,
		Outcome:    result.Outcome,
		DryRun:     dryRun,
		DurationMS: p.clock().Sub(started).Milliseconds(),
		Validation: result.Validation,
		Deployment: result.Deployment,
	}
	if result.trigger != nil {
		rec.Trigger = result.trigger
	}
	if result.Err != nil {
		rec.Error = result.Err.Error()
	}
	if p.sink != nil {
		if err := p.sink.Append(rec); err != nil {
			log.Error().Err(err).Str("horizon", string(h)).Msg("Failed to record run history")
		}
	}

	metrics.RecordRun(string(h), string(result.Outcome))
	return result.Result
}

type runResult struct {
	Result
	trigger *trigger.Report
}

func (p *Pipeline) run(ctx context.Context, h domain.Horizon, dryRun bool) runResult {
	out := runResult{Result: Result{Horizon: h}}

	series, err := p.series.RecentSeries(ctx, h, p.config.SeriesLimit)
	if err != nil {
		// The trigger treats missing signals as fail-safe, and the time
		// fallback needs no series at all; an empty series only degrades
		// the drift check.
		log.Warn().Err(err).Str("horizon", string(h)).Msg("Recent series unavailable")
		series = nil
	}

	report := p.triggers.Evaluate(ctx, h, series)
	out.trigger = &report
	if !report.ShouldOptimize {
		out.Outcome = history.OutcomeNoOp
		return out
	}
	metrics.RecordTriggerFired(string(h))
	log.Info().Str("horizon", string(h)).Strs("reasons", report.Reasons).Msg("Recalibration triggered")

	searchStart := p.clock()
	candidate, err := p.strategy.Optimize(ctx, h, series)
	if err != nil {
		// SearchExhausted: current configuration stays active.
		out.Outcome = history.OutcomeFailed
		out.Err = fmt.Errorf("optimization failed: %w", err)
		return out
	}
	metrics.RecordSearchDuration(string(h), p.clock().Sub(searchStart))

	baseline, err := p.store.Load(h)
	if errors.Is(err, configstore.ErrNotFound) {
		// First optimization for this horizon: nothing to validate against
		// or back up, the candidate becomes the initial configuration.
		return p.bootstrap(h, candidate, dryRun, out)
	}
	if err != nil {
		out.Outcome = history.OutcomeFailed
		out.Err = fmt.Errorf("load baseline: %w", err)
		return out
	}

	validation, err := p.validator.Validate(ctx, candidate, baseline, series)
	if err != nil {
		// ValidationInconclusive: treated as a failed optimization attempt,
		// never a deployment event.
		out.Outcome = history.OutcomeFailed
		out.Err = fmt.Errorf("validation inconclusive: %w", err)
		return out
	}
	out.Validation = validation
	if !validation.Approved {
		out.Outcome = history.OutcomeRejected
		out.Reasons = validation.Failures
		return out
	}

	if dryRun {
		out.Outcome = history.OutcomeNoOp
		out.Reasons = []string{"dry-run: candidate approved, deployment skipped"}
		log.Info().Str("horizon", string(h)).Msg("Dry-run: would deploy approved candidate")
		return out
	}

	record, err := p.deployer.Deploy(ctx, candidate, validation.Comparison.BaselineRMSE)
	out.Deployment = record
	if err != nil {
		out.Outcome = history.OutcomeFailed
		out.Err = fmt.Errorf("deployment: %w", err)
		if record != nil && record.RolledBack {
			metrics.RecordRollback(string(h))
		}
		return out
	}
	if record.RolledBack {
		metrics.RecordDeployment(string(h), false)
		metrics.RecordRollback(string(h))
		out.Outcome = history.OutcomeRolledBack
		out.Reasons = []string{record.Reason}
		return out
	}

	metrics.RecordDeployment(string(h), true)
	out.Outcome = history.OutcomeDeployed
	return out
}

// bootstrap installs the first configuration for a horizon. Validation is
// impossible without a baseline, so the search result is written directly.
func (p *Pipeline) bootstrap(h domain.Horizon, candidate *configstore.Configuration, dryRun bool, out runResult) runResult {
	if dryRun {
		out.Outcome = history.OutcomeNoOp
		out.Reasons = []string{"dry-run: would install initial configuration"}
		return out
	}
	if err := p.store.Write(candidate); err != nil {
		out.Outcome = history.OutcomeFailed
		out.Err = fmt.Errorf("install initial configuration: %w", err)
		return out
	}
	log.Info().Str("horizon", string(h)).Float64("rmse", candidate.ValidationRMSE).
		Msg("Installed initial configuration")
	metrics.RecordDeployment(string(h), true)
	out.Outcome = history.OutcomeDeployed
	return out
}

// RunAll runs every horizon independently, optionally in parallel. One
// horizon's failure never aborts the others.
func (p *Pipeline) RunAll(ctx context.Context, horizons []domain.Horizon, dryRun, parallel bool) []Result {
	results := make([]Result, len(horizons))
	if !parallel {
		for i, h := range horizons {
			results[i] = p.Run(ctx, h, dryRun)
		}
		return results
	}

	sem := make(chan struct{}, p.config.MaxParallel)
	var wg sync.WaitGroup
	for i, h := range horizons {
		wg.Add(1)
		go func(i int, h domain.Horizon) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = p.Run(ctx, h, dryRun)
		}(i, h)
	}
	wg.Wait()
	return results
}

// Rollback forces a rollback for a horizon and records it in history.
func (p *Pipeline) Rollback(ctx context.Context, h domain.Horizon) (*deploy.Record, error) {
	record, err := p.deployer.Rollback(ctx, h)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	metrics.RecordRollback(string(h))
	if p.sink != nil {
		rec := history.Record{
			RunID:      uuid.NewString(),
			Horizon:    string(h),
			Timestamp:  p.clock(),
			Outcome:    history.OutcomeRolledBack,
			Deployment: record,
		}
		if err := p.sink.Append(rec); err != nil {
			log.Error().Err(err).Str("horizon", string(h)).Msg("Failed to record rollback history")
		}
	}
	return record, nil
}
