// Package metrics exposes prometheus instrumentation for the recalibration
// loop. Counters are registered on the default registry and served by the
// schedule command's ops endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retune_pipeline_runs_total",
		Help: "Pipeline runs by horizon and outcome",
	}, []string{"horizon", "outcome"})

	triggerFirings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retune_trigger_firings_total",
		Help: "Trigger evaluations that requested recalibration, by horizon",
	}, []string{"horizon"})

	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retune_search_duration_seconds",
		Help:    "Hyperparameter search wall-clock duration",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"horizon"})

	deploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retune_deployments_total",
		Help: "Configuration deployments by horizon and result (stable|rolled_back)",
	}, []string{"horizon", "result"})

	rollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retune_rollbacks_total",
		Help: "Rollbacks by horizon, including operator-forced ones",
	}, []string{"horizon"})
)

// RecordRun counts a completed pipeline run.
func RecordRun(horizon, outcome string) {
	runsTotal.WithLabelValues(horizon, outcome).Inc()
}

// RecordTriggerFired counts a trigger evaluation that fired.
func RecordTriggerFired(horizon string) {
	triggerFirings.WithLabelValues(horizon).Inc()
}

// RecordSearchDuration observes a completed search.
func RecordSearchDuration(horizon string, d time.Duration) {
	searchDuration.WithLabelValues(horizon).Observe(d.Seconds())
}

// RecordDeployment counts a deployment result.
func RecordDeployment(horizon string, stable bool) {
	result := "stable"
	if !stable {
		result = "rolled_back"
	}
	deploymentsTotal.WithLabelValues(horizon, result).Inc()
}

// RecordRollback counts a rollback.
func RecordRollback(horizon string) {
	rollbacksTotal.WithLabelValues(horizon).Inc()
}
