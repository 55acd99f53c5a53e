// Package metrics exposes Prometheus collectors for the payment layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "payment_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payment_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment_layer",
			Subsystem: "payments",
			Name:      "transitions_total",
			Help:      "Total number of lifecycle transition attempts.",
		},
		[]string{"action", "outcome"},
	)

	notificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment_layer",
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Total number of swallowed notification failures.",
		},
		[]string{"template"},
	)

	exports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment_layer",
			Subsystem: "reporting",
			Name:      "exports_total",
			Help:      "Total number of CSV exports produced.",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		transitions,
		notificationFailures,
		exports,
	)
}

// Handler serves the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncInFlight increments the in-flight HTTP request gauge.
func IncInFlight() { httpInFlight.Inc() }

// DecInFlight decrements the in-flight HTTP request gauge.
func DecInFlight() { httpInFlight.Dec() }

// ObserveHTTPRequest records a completed HTTP request.
func ObserveHTTPRequest(method, path, status string, seconds float64) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordTransition records a lifecycle transition attempt.
func RecordTransition(action, outcome string) {
	transitions.WithLabelValues(action, outcome).Inc()
}

// RecordNotificationFailure records a swallowed notification failure.
func RecordNotificationFailure(template string) {
	notificationFailures.WithLabelValues(template).Inc()
}

// RecordExport records a produced CSV export.
func RecordExport(kind string) {
	exports.WithLabelValues(kind).Inc()
}
