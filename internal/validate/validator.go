package validate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/halcyonquant/retune/internal/backtest"
	"github.com/halcyonquant/retune/internal/configstore"
	"github.com/halcyonquant/retune/internal/domain"
)

// ErrInconclusive indicates the comparison backtest itself could not run
// (e.g. insufficient history). It is distinct from a rejection, which is a
// normal non-error outcome.
var ErrInconclusive = errors.New("validation backtest could not be executed")

// Criteria holds the acceptance thresholds. A candidate is approved iff it
// clears at least one improvement threshold and every guard condition.
type Criteria struct {
	MinRMSEImprovementPct float64 `yaml:"min_rmse_improvement_pct"` // default 5
	MinMAPEImprovementPct float64 `yaml:"min_mape_improvement_pct"` // default 3
	MaxStabilityRatio     float64 `yaml:"max_stability_ratio"`      // default 1.10
	MaxInferenceRatio     float64 `yaml:"max_inference_ratio"`      // default 1.50
	MinCICoverage         float64 `yaml:"min_ci_coverage"`          // default 0.90
	MaxAbsBias            float64 `yaml:"max_abs_bias"`             // default 5.0
}

// DefaultCriteria returns the default acceptance thresholds.
func DefaultCriteria() Criteria {
	return Criteria{
		MinRMSEImprovementPct: 5.0,
		MinMAPEImprovementPct: 3.0,
		MaxStabilityRatio:     1.10,
		MaxInferenceRatio:     1.50,
		MinCICoverage:         0.90,
		MaxAbsBias:            5.0,
	}
}

// Comparison is the apples-to-apples metric comparison between candidate and
// baseline, both backtested over the same recent window.
type Comparison struct {
	BaselineRMSE       float64 `json:"baseline_rmse"`
	CandidateRMSE      float64 `json:"candidate_rmse"`
	RMSEImprovementPct float64 `json:"rmse_improvement_pct"` // negative = worse
	MAPEImprovementPct float64 `json:"mape_improvement_pct"`
	StabilityRatio     float64 `json:"stability_ratio"`  // candidate / baseline error stddev
	InferenceRatio     float64 `json:"inference_ratio"`  // candidate / baseline inference time
	CICoverage         float64 `json:"ci_coverage"`      // candidate
	Bias               float64 `json:"bias"`             // candidate, mean signed error
}

// Report is the outcome of validating one candidate against the active
// baseline. Failures lists every criterion the candidate missed.
type Report struct {
	Horizon     string     `json:"horizon"`
	Candidate   *configstore.Configuration `json:"candidate"`
	Baseline    *configstore.Configuration `json:"baseline"`
	Comparison  Comparison `json:"comparison"`
	Approved    bool       `json:"approved"`
	Failures    []string   `json:"failures,omitempty"`
	EvaluatedAt time.Time  `json:"evaluated_at"`
}

// Validator gates promotion of a candidate configuration. Both candidate and
// baseline are re-backtested over the same window so stale baseline metrics
// never skew the comparison.
type Validator struct {
	criteria Criteria
	oracle   backtest.Oracle
	window   int
	clock    func() time.Time
}

// NewValidator creates a validator using the given backtest oracle and
// validation window.
func NewValidator(criteria Criteria, oracle backtest.Oracle, window int) *Validator {
	if window <= 0 {
		window = 30
	}
	return &Validator{criteria: criteria, oracle: oracle, window: window, clock: time.Now}
}

// SetClock overrides the time source (for testing).
func (v *Validator) SetClock(clock func() time.Time) {
	v.clock = clock
}

// Validate compares candidate against baseline. A rejection is a normal
// outcome with Approved=false; an error means the backtest itself failed and
// the comparison is inconclusive.
func (v *Validator) Validate(ctx context.Context, candidate, baseline *configstore.Configuration, series domain.Series) (*Report, error) {
	h, err := domain.ParseHorizon(candidate.Horizon)
	if err != nil {
		return nil, err
	}

	candMetrics, err := v.oracle.Backtest(ctx, candidate, series, v.window)
	if err != nil {
		return nil, fmt.Errorf("%w: candidate backtest: %v", ErrInconclusive, err)
	}
	baseMetrics, err := v.oracle.Backtest(ctx, baseline, series, v.window)
	if err != nil {
		return nil, fmt.Errorf("%w: baseline backtest: %v", ErrInconclusive, err)
	}

	cmp := compare(candMetrics, baseMetrics)
	report := &Report{
		Horizon:     string(h),
		Candidate:   candidate,
		Baseline:    baseline,
		Comparison:  cmp,
		EvaluatedAt: v.clock(),
	}
	report.Failures = v.evaluate(cmp)
	report.Approved = len(report.Failures) == 0

	log.Info().Str("horizon", string(h)).
		Bool("approved", report.Approved).
		Float64("rmse_improvement_pct", cmp.RMSEImprovementPct).
		Float64("mape_improvement_pct", cmp.MAPEImprovementPct).
		Strs("failures", report.Failures).
		Msg("Candidate validation complete")
	return report, nil
}

func compare(cand, base backtest.Metrics) Comparison {
	cmp := Comparison{
		BaselineRMSE:  base.RMSE,
		CandidateRMSE: cand.RMSE,
		CICoverage:    cand.CICoverage,
		Bias:          cand.Bias,
	}
	if base.RMSE > 0 {
		cmp.RMSEImprovementPct = (base.RMSE - cand.RMSE) / base.RMSE * 100
	}
	if base.MAPE > 0 {
		cmp.MAPEImprovementPct = (base.MAPE - cand.MAPE) / base.MAPE * 100
	}
	if base.ErrorStdDev > 0 {
		cmp.StabilityRatio = cand.ErrorStdDev / base.ErrorStdDev
	} else {
		cmp.StabilityRatio = 1.0
	}
	if base.InferenceTime > 0 {
		cmp.InferenceRatio = float64(cand.InferenceTime) / float64(base.InferenceTime)
	} else {
		cmp.InferenceRatio = 1.0
	}
	return cmp
}

// evaluate returns every criterion the comparison fails, empty on approval.
func (v *Validator) evaluate(cmp Comparison) []string {
	var failures []string

	improved := cmp.RMSEImprovementPct >= v.criteria.MinRMSEImprovementPct ||
		cmp.MAPEImprovementPct >= v.criteria.MinMAPEImprovementPct
	if !improved {
		failures = append(failures, fmt.Sprintf(
			"insufficient improvement: rmse %.2f%% (need %.1f%%) and mape %.2f%% (need %.1f%%)",
			cmp.RMSEImprovementPct, v.criteria.MinRMSEImprovementPct,
			cmp.MAPEImprovementPct, v.criteria.MinMAPEImprovementPct))
	}

	// A candidate whose RMSE regressed is never promotable, even when the
	// MAPE improvement alone would clear the threshold.
	if cmp.RMSEImprovementPct < 0 {
		failures = append(failures, fmt.Sprintf(
			"rmse regression: candidate %.3f vs baseline %.3f",
			cmp.CandidateRMSE, cmp.BaselineRMSE))
	}

	if cmp.StabilityRatio > v.criteria.MaxStabilityRatio {
		failures = append(failures, fmt.Sprintf(
			"stability ratio %.3f exceeds %.2f", cmp.StabilityRatio, v.criteria.MaxStabilityRatio))
	}
	if cmp.InferenceRatio > v.criteria.MaxInferenceRatio {
		failures = append(failures, fmt.Sprintf(
			"inference-time ratio %.3f exceeds %.2f", cmp.InferenceRatio, v.criteria.MaxInferenceRatio))
	}
	if cmp.CICoverage < v.criteria.MinCICoverage {
		failures = append(failures, fmt.Sprintf(
			"ci coverage %.3f below %.2f", cmp.CICoverage, v.criteria.MinCICoverage))
	}
	if cmp.Bias >= v.criteria.MaxAbsBias || cmp.Bias <= -v.criteria.MaxAbsBias {
		failures = append(failures, fmt.Sprintf(
			"absolute bias %.3f at or above %.1f", cmp.Bias, v.criteria.MaxAbsBias))
	}

	return failures
}
