// Package telemetry provides application-level observability for the CRM
// security core.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<CRM_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns data in the Prometheus text
// exposition format and is intended to be scraped every 15–60 seconds. It is
// NOT served by the Gin router, so it never competes with operator API
// traffic and is absent from the public ingress path.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Audit log write and alert counters, by severity
//   - Notification scheduler counters: scheduled, fired, cancelled, delivery failures
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as
// /api/v1/notifications/:id) rather than the raw request URL to prevent
// unbounded label cardinality from user-supplied path segments. Audit and
// scheduler metrics are labelled by severity and event type respectively,
// both fixed enumerations.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Audit metrics.
var (
	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_log_entries_total",
			Help: "Total number of audit log entries written, by severity.",
		},
		[]string{"level"},
	)

	AuditAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_alerts_total",
			Help: "Total number of alerts raised, by severity.",
		},
		[]string{"severity"},
	)
)

// Notification scheduler metrics — labelled by event type
// (quote_sent, meeting_reminder, …), a fixed enumeration.
var (
	NotificationsScheduledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_scheduled_total",
			Help: "Total number of notifications scheduled, by event type.",
		},
		[]string{"event_type"},
	)

	NotificationsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_fired_total",
			Help: "Total number of notifications fired (delivery attempted), by event type.",
		},
		[]string{"event_type"},
	)

	NotificationsCancelledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_cancelled_total",
			Help: "Total number of notifications cancelled before firing, by event type.",
		},
		[]string{"event_type"},
	)

	NotificationDeliveryFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_failures_total",
			Help: "Total number of failed gateway deliveries, by event type.",
		},
		[]string{"event_type"},
	)

	NotificationsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifications_pending",
			Help: "Number of notifications currently pending in the scheduler.",
		},
	)
)
