// Package metrics provides Prometheus metrics for vigil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "vigil"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Probe metrics
var (
	// ProbeDuration tracks probe latency by service.
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Health probe duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"service"},
	)

	// ProbeFailuresTotal counts failed probes by service.
	ProbeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "failures_total",
			Help:      "Total failed health probes",
		},
		[]string{"service"},
	)

	// ServiceUp is 1 when the last probe of a service succeeded.
	ServiceUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "service_up",
			Help:      "Whether the last probe of a service succeeded (1) or not (0)",
		},
		[]string{"service"},
	)
)

// Aggregate health metrics
var (
	// HealthRunsTotal counts aggregator runs by overall status.
	HealthRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "runs_total",
			Help:      "Total health aggregation runs by overall status",
		},
		[]string{"overall"},
	)

	// UnhealthyServices is the unhealthy count of the last run.
	UnhealthyServices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "unhealthy_services",
			Help:      "Number of unhealthy services in the last run",
		},
	)

	// SnapshotWriteErrors counts snapshots that could not be persisted.
	SnapshotWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "snapshot_write_errors_total",
			Help:      "Total health snapshots that failed to persist",
		},
	)
)

// Alert metrics
var (
	// AlertsCreatedTotal counts created alerts by severity.
	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "created_total",
			Help:      "Total alerts created by severity",
		},
		[]string{"severity"},
	)

	// AlertsSuppressedTotal counts alerts skipped by deduplication or cooldown.
	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "suppressed_total",
			Help:      "Total alerts suppressed by reason",
		},
		[]string{"reason"},
	)

	// AlertTransitionsTotal counts lifecycle transitions.
	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "transitions_total",
			Help:      "Total alert lifecycle transitions",
		},
		[]string{"to"},
	)
)

// Queue metrics
var (
	// QueueEnqueuedTotal counts enqueued notifications by channel.
	QueueEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total notifications enqueued by channel",
		},
		[]string{"type"},
	)

	// QueueDeliveriesTotal counts delivery attempts by outcome.
	QueueDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "deliveries_total",
			Help:      "Total delivery attempts by outcome (sent, retry, failed)",
		},
		[]string{"outcome"},
	)

	// QueueDrainDuration tracks drain latency.
	QueueDrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "drain_duration_seconds",
			Help:      "Duration of a queue drain in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// QueueRateLimitedTotal counts drains cut short by the rate limiter.
	QueueRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "rate_limited_total",
			Help:      "Total drains stopped early by the delivery rate limit",
		},
	)

	// NotifierBreakerState is the circuit breaker state per channel
	// (0 closed, 1 half-open, 2 open).
	NotifierBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "notifier_breaker_state",
			Help:      "Notifier circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"notifier"},
	)
)

// Audit metrics
var (
	// AuditDroppedTotal counts audit records dropped under overload.
	AuditDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Total audit records dropped due to buffer overflow",
		},
	)

	// AuditWrittenTotal counts persisted audit records.
	AuditWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "written_total",
			Help:      "Total audit records written",
		},
	)

	// AuditWriteErrors counts failed audit batch writes.
	AuditWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_errors_total",
			Help:      "Total failed audit batch writes",
		},
	)
)

// Scheduler metrics
var (
	// JobRunsTotal counts scheduled job runs by job and result.
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total scheduled job runs by result (success, error, panic)",
		},
		[]string{"job", "result"},
	)

	// JobDuration tracks job execution time.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Scheduled job duration in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
		[]string{"job"},
	)
)
