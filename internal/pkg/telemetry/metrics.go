// Package telemetry instruments the ledger kernel's own operations with
// Prometheus collectors. Registration/exposition over HTTP is an external
// collaborator's concern (see SPEC_FULL.md §1); this package only owns the
// collectors and the functions that record against them.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

// Registry exposes the package-local registry so an external collaborator
// can mount it behind its own /metrics handler.
func Registry() *prometheus.Registry { return registry }

var (
	PostingsTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_postings_total",
		Help: "Count of posting attempts by transaction type and outcome.",
	}, []string{"type", "outcome"})

	PostingDuration = promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_posting_duration_seconds",
		Help:    "Latency of the posting protocol from Post entry to its final outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	IdempotencyOutcomes = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_idempotency_outcomes_total",
		Help: "Idempotency check-and-claim outcomes.",
	}, []string{"outcome"}) // new_claim, cache_hit, store_hit, in_progress_timeout

	BatchTransitions = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_batch_transitions_total",
		Help: "Settlement batch state machine transitions.",
	}, []string{"from", "to"})

	NettingEfficiency = promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_netting_efficiency",
		Help:    "Fraction of gross volume eliminated by netting, per batch.",
		Buckets: []float64{0, 0.25, 0.5, 0.75, 0.9, 0.99, 1.0},
	}, []string{"currency", "mode"})

	EventsDropped = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_events_dropped_total",
		Help: "Events dropped by the event sink instead of being enqueued (e.g. full queue, closed producer, unmarshalable payload).",
	}, []string{"reason"})

	PublishingErrors = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_event_publishing_errors_total",
		Help: "Errors reported by the broker backing the event sink (e.g. Kafka producer errors).",
	}, []string{"reason"})
)

// RecordPosting records the outcome of one posting attempt.
func RecordPosting(txType, outcome string, seconds float64) {
	PostingsTotal.WithLabelValues(txType, outcome).Inc()
	PostingDuration.WithLabelValues(txType).Observe(seconds)
}

// RecordIdempotencyOutcome records one check-and-claim branch taken.
func RecordIdempotencyOutcome(outcome string) {
	IdempotencyOutcomes.WithLabelValues(outcome).Inc()
}

// RecordBatchTransition records one batch state machine transition.
func RecordBatchTransition(from, to string) {
	BatchTransitions.WithLabelValues(from, to).Inc()
}

// RecordNettingEfficiency records the efficiency ratio a netting mode
// achieved for a completed batch.
func RecordNettingEfficiency(currency, mode string, efficiency float64) {
	NettingEfficiency.WithLabelValues(currency, mode).Observe(efficiency)
}

// RecordEventDropped records an event the sink could not deliver.
func RecordEventDropped(reason string) {
	EventsDropped.WithLabelValues(reason).Inc()
}

// RecordEventPublishingError records a broker-reported publishing failure.
func RecordEventPublishingError(reason string) {
	PublishingErrors.WithLabelValues(reason).Inc()
}
