// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastedeck_cache_hits_total",
			Help: "Total number of cache hits by namespace",
		},
		[]string{"namespace"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastedeck_cache_misses_total",
			Help: "Total number of cache misses by namespace",
		},
		[]string{"namespace"},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tastedeck_cache_entries",
			Help: "Current number of cached entries",
		},
	)

	// UpstreamCalls counts calls to external services. outcome is one of
	// "ok", "error", "unauthenticated" or "rejected".
	UpstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastedeck_upstream_calls_total",
			Help: "Total number of calls to external APIs",
		},
		[]string{"service", "operation", "outcome"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tastedeck_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	ValidationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastedeck_validation_outcomes_total",
			Help: "Candidate validation outcomes by kind and code",
		},
		[]string{"kind", "code"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tastedeck_pipeline_duration_seconds",
			Help:    "Duration of suggestion pipeline runs",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"result"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tastedeck_active_sessions",
			Help: "Current number of logged-in sessions",
		},
	)
)

// RecordUpstream increments the upstream call counter.
func RecordUpstream(service, operation, outcome string) {
	UpstreamCalls.WithLabelValues(service, operation, outcome).Inc()
}

// ObservePipeline records the duration of one pipeline run.
func ObservePipeline(result string, start time.Time) {
	PipelineDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}
