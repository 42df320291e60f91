package configstore

import (
	"time"
)

// Configuration is the active hyperparameter set for one horizon plus the
// validation metrics recorded when it was last scored. Immutable once
// created: a new search always produces a brand-new value.
type Configuration struct {
	Horizon                 string    `json:"horizon"`
	ContextLength           int       `json:"context_length"` // days of history fed to the model
	NumSamples              int       `json:"num_samples"`
	Temperature             float64   `json:"temperature"`
	ValidationRMSE          float64   `json:"validation_rmse"`
	ValidationMAPE          float64   `json:"validation_mape"`
	ValidationMAE           float64   `json:"validation_mae"`
	CICoverage              float64   `json:"ci_coverage"`
	Bias                    float64   `json:"bias"`
	InferenceTimeMS         float64   `json:"inference_time_ms"`
	SearchIterations        int       `json:"search_iterations"`
	OptimizationTimeSeconds float64   `json:"optimization_time_seconds"`
	Timestamp               time.Time `json:"timestamp"`
}

// Clone returns a copy so callers can derive a new Configuration without
// touching the original.
func (c *Configuration) Clone() *Configuration {
	out := *c
	return &out
}
