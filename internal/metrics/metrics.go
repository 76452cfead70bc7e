// Package metrics provides Prometheus metrics for the PCBRecon backend.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pcbrecon"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Inference metrics
var (
	// InferenceCallsTotal counts calls by operation (analysis, chat) and
	// outcome (ok, upstream_error, network_error, error).
	InferenceCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "calls_total",
			Help:      "Total inference calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "duration_seconds",
			Help:      "Inference call latency in seconds",
			Buckets:   []float64{.25, .5, 1, 2, 4, 8, 15, 30, 60, 120},
		},
		[]string{"operation"},
	)
)

// Workflow metrics
var (
	ProjectsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "projects",
			Name:      "created_total",
			Help:      "Total projects created",
		},
	)

	ProjectsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "projects",
			Name:      "deleted_total",
			Help:      "Total projects deleted",
		},
	)

	// ChatTurnsTotal counts turns by outcome (ok, busy, failed).
	ChatTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Total chat turns by outcome",
		},
		[]string{"outcome"},
	)

	ArchiveFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "failures_total",
			Help:      "Image archive operations that failed after retries",
		},
	)
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
