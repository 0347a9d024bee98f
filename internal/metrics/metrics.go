// Package metrics registers the Prometheus metrics exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Classifications counts classify calls by outcome ("success",
	// "too_large", "invalid_image", "model_unavailable", "inference_error",
	// "timeout", "error").
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermai_classifications_total",
			Help: "Total classification requests by outcome.",
		},
		[]string{"outcome"},
	)

	// CacheLookups counts memo cache lookups by result ("hit", "l2_hit", "miss").
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermai_cache_lookups_total",
			Help: "Prediction cache lookups by result.",
		},
		[]string{"result"},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dermai_cache_entries",
			Help: "Number of predictions held in the in-process cache.",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dermai_cache_evictions_total",
			Help: "Predictions evicted from the in-process cache.",
		},
	)

	// InferenceDuration observes preprocessing plus model run time in seconds.
	InferenceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dermai_inference_duration_seconds",
			Help:    "Preprocess and inference duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// ModelLoads counts model load attempts by result ("success", "error").
	ModelLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dermai_model_loads_total",
			Help: "Model load attempts by result.",
		},
		[]string{"result"},
	)
)
