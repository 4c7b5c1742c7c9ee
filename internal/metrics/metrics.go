// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gamestats"

var (
	// Ingestion
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Raw events accepted by the ingestion hook",
		},
		[]string{"result"}, // "accepted", "duplicate", "invalid"
	)

	// Classification
	EventsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_classified_total",
			Help:      "Raw events processed by the classifier",
		},
		[]string{"event_type", "result"}, // result: "classified", "skipped", "error"
	)

	FactsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_facts_recorded_total",
			Help:      "Session facts written, split by whether the row was new",
		},
		[]string{"fact_type", "outcome"}, // outcome: "inserted", "duplicate"
	)

	ClassificationExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classification_exhausted_total",
			Help:      "Raw events abandoned after the last classification attempt",
		},
	)

	// Aggregation
	AggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Time to recompute and publish one account rollup",
			Buckets:   prometheus.DefBuckets,
		},
	)

	AggregationsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregations_unlinked_total",
			Help:      "Aggregation runs skipped because the reference has no account yet",
		},
	)

	// Batch jobs
	QualifierEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qualifier_evaluations_total",
			Help:      "Per-account qualifier evaluations",
		},
		[]string{"result"}, // "qualified", "not_qualified", "error"
	)

	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch jobs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"job"},
	)

	// Read path
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Stats cache lookups",
		},
		[]string{"entry", "result"}, // result: "hit", "miss"
	)
)

// RecordCacheLookup counts a cache hit or miss for entry.
func RecordCacheLookup(entry string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(entry, result).Inc()
}
