package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingress metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_audit_events_received_total",
			Help: "Total number of envelopes received",
		},
		[]string{"source", "status"},
	)

	// Routing metrics
	RoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_audit_routed_total",
			Help: "Total number of dispatch instructions produced by routing",
		},
		[]string{"rule", "target"},
	)

	UnroutedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_audit_unrouted_total",
			Help: "Total number of events that matched no rule",
		},
	)

	// Dispatch metrics
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_audit_dispatch_total",
			Help: "Total number of executed dispatch instructions",
		},
		[]string{"target", "status"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telhawk_audit_dispatch_duration_seconds",
			Help:    "Duration of dispatch instruction execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	// Workflow metrics
	WorkflowSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_audit_workflow_steps_total",
			Help: "Total number of workflow step outcomes",
		},
		[]string{"step", "status"},
	)

	WorkflowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telhawk_audit_workflow_duration_seconds",
			Help:    "Duration of ingestion workflow runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_audit_notifications_total",
			Help: "Total number of notifications handed to a channel",
		},
		[]string{"channel", "status"},
	)

	// Log sink metrics
	LogSinkTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_audit_log_sink_total",
			Help: "Total number of envelopes forwarded to the log sink",
		},
		[]string{"status"},
	)

	// DLQ metrics
	DLQTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_audit_dlq_total",
			Help: "Total number of instructions sent to the dead letter queue",
		},
		[]string{"target", "step"},
	)

	DeliveryRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_audit_delivery_retries_total",
			Help: "Total number of negative acknowledgments scheduled for redelivery",
		},
		[]string{"target"},
	)
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)
