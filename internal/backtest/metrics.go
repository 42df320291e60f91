package backtest

import "time"

// Metrics is the result of scoring one configuration against realized values
// over a held-out recent window.
type Metrics struct {
	RMSE          float64       `json:"rmse"`
	MAPE          float64       `json:"mape"`
	MAE           float64       `json:"mae"`
	CICoverage    float64       `json:"ci_coverage"`  // empirical 95% CI coverage, 0.0-1.0
	Bias          float64       `json:"bias"`         // mean signed error
	ErrorStdDev   float64       `json:"error_stddev"` // std-dev of forecast errors
	InferenceTime time.Duration `json:"inference_time"`
}
