package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeNotFound    = "not_found"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
	OutcomeCancelled   = "cancelled"
	OutcomeError       = "error"
)

var (
	// operationsTotal counts façade operations.
	// Labels: collection, op, outcome
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstore_operations_total",
			Help: "Total number of repository operations",
		},
		[]string{"collection", "op", "outcome"},
	)

	// operationDuration tracks store round trips in seconds.
	// Labels: collection, op
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docstore_operation_duration_seconds",
			Help:    "Repository operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection", "op"},
	)

	activeListeners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_active_listeners",
			Help: "Underlying change listeners currently running",
		},
	)

	activeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docstore_active_subscribers",
			Help: "Live subscriptions currently attached to a listener",
		},
	)

	// decodeDegraded counts records decoded with backfilled or dropped fields.
	decodeDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstore_decode_degraded_total",
			Help: "Records decoded in degraded form",
		},
		[]string{"collection"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstore_breaker_transitions_total",
			Help: "Store circuit breaker state transitions",
		},
		[]string{"to"},
	)
)

// RecordOperation records one façade operation.
func RecordOperation(collection, op, outcome string, duration time.Duration) {
	operationsTotal.WithLabelValues(collection, op, outcome).Inc()
	operationDuration.WithLabelValues(collection, op).Observe(duration.Seconds())
}

// ListenerStarted increments the active listener gauge.
func ListenerStarted() { activeListeners.Inc() }

// ListenerStopped decrements the active listener gauge.
func ListenerStopped() { activeListeners.Dec() }

// SubscriberAdded increments the active subscriber gauge.
func SubscriberAdded() { activeSubscribers.Inc() }

// SubscriberRemoved decrements the active subscriber gauge.
func SubscriberRemoved() { activeSubscribers.Dec() }

// RecordDegradedDecode counts a degraded record.
func RecordDegradedDecode(collection string) {
	decodeDegraded.WithLabelValues(collection).Inc()
}

// RecordBreakerTransition counts a circuit breaker state change.
func RecordBreakerTransition(to string) {
	breakerTransitions.WithLabelValues(to).Inc()
}
