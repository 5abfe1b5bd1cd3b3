package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransitionsTotal tracks successful status transitions
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subtrack_transitions_total",
			Help: "Total number of successful submission status transitions",
		},
		[]string{"type", "to_status"},
	)

	// InvalidTransitions tracks rejected transition attempts
	InvalidTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subtrack_invalid_transitions_total",
			Help: "Total number of rejected submission transition attempts",
		},
		[]string{"from_status", "to_status"},
	)

	// ActiveSubmissions tracks the non-terminal hot set size
	ActiveSubmissions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subtrack_active_submissions",
			Help: "Number of non-terminal submissions in the registry hot set",
		},
	)

	// SubmissionsTimedOut tracks SLA timeout transitions by the monitor
	SubmissionsTimedOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subtrack_submissions_timed_out_total",
			Help: "Total number of submissions moved to timeout by the sweep",
		},
	)

	// SubmissionsArchived tracks records moved to archival storage
	SubmissionsArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subtrack_submissions_archived_total",
			Help: "Total number of terminal submissions archived",
		},
	)

	// DeliveryAttempts tracks send attempts per kind and channel
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subtrack_delivery_attempts_total",
			Help: "Total number of outbound delivery attempts",
		},
		[]string{"kind", "channel", "result"},
	)

	// DeliveryLatency tracks outbound send latency
	DeliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subtrack_delivery_latency_seconds",
			Help:    "Outbound delivery latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "channel"},
	)

	// DeliveriesTerminal tracks items reaching a terminal delivery state
	DeliveriesTerminal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subtrack_deliveries_terminal_total",
			Help: "Total number of delivery items reaching a terminal state",
		},
		[]string{"kind", "state"},
	)

	// RetryQueueDepth tracks items waiting for a retry slot
	RetryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subtrack_retry_queue_depth",
			Help: "Number of delivery items in pending_retry state",
		},
	)

	// DeadLetters tracks items parked for manual remediation
	DeadLetters = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subtrack_dead_letters_total",
			Help: "Total number of deliveries moved to the dead-letter store",
		},
	)

	// Classifications tracks rule-engine outcomes per family
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subtrack_classifications_total",
			Help: "Total number of payload classifications",
		},
		[]string{"family", "category"},
	)

	// ClassificationFallbacks tracks low-confidence keyword fallbacks
	ClassificationFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subtrack_classification_fallbacks_total",
			Help: "Total number of classifications resolved by keyword fallback",
		},
		[]string{"family"},
	)

	// EventsDropped tracks fan-out events dropped per slow subscriber
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subtrack_events_dropped_total",
			Help: "Total number of status events dropped due to full subscriber buffers",
		},
		[]string{"subscriber"},
	)

	// NotificationsSuppressed tracks recipients filtered before enqueue
	NotificationsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subtrack_notifications_suppressed_total",
			Help: "Total number of notifications suppressed by recipient preferences",
		},
		[]string{"reason"},
	)
)
