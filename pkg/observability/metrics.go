// Package observability carries the service's metrics, health checks, and
// tracing setup.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterchat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clusterchat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Turn metrics
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterchat_turns_total",
			Help: "Total number of chat turns by outcome",
		},
		[]string{"outcome"},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clusterchat_turn_duration_seconds",
			Help:    "Chat turn duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	modelRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clusterchat_model_request_duration_seconds",
			Help:    "Model backend request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Tool metrics
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterchat_tool_calls_total",
			Help: "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clusterchat_tool_call_duration_seconds",
			Help:    "Tool invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	retrievalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clusterchat_retrieval_duration_seconds",
			Help:    "Retrieval gateway search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Stream / logging metrics
	activeStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clusterchat_active_streams",
			Help: "Number of event streams currently open",
		},
	)

	auditFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterchat_audit_failures_total",
			Help: "Total number of interaction log write failures",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers all Prometheus metrics. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			turnsTotal,
			turnDuration,
			modelRequestDuration,
			toolCallsTotal,
			toolCallDuration,
			retrievalDuration,
			activeStreams,
			auditFailuresTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTurn records the outcome and duration of one chat turn.
func RecordTurn(outcome string, duration time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordModelRequest records a model backend request duration.
func RecordModelRequest(duration time.Duration) {
	modelRequestDuration.Observe(duration.Seconds())
}

// RecordToolCall records a tool invocation.
func RecordToolCall(tool, status string, duration time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordRetrieval records a retrieval gateway search duration.
func RecordRetrieval(duration time.Duration) {
	retrievalDuration.Observe(duration.Seconds())
}

// StreamOpened increments the active stream gauge.
func StreamOpened() {
	activeStreams.Inc()
}

// StreamClosed decrements the active stream gauge.
func StreamClosed() {
	activeStreams.Dec()
}

// RecordAuditFailure counts an interaction log write failure.
func RecordAuditFailure() {
	auditFailuresTotal.Inc()
}
