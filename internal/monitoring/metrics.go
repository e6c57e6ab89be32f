// Package monitoring exposes the portal's Prometheus metrics.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "expression_portal"

// Outcomes recorded for insight requests.
const (
	OutcomeSuccess     = "success"
	OutcomePlaceholder = "placeholder"
	OutcomeStale       = "stale"
	OutcomeError       = "error"
)

// Metrics holds the portal's collectors on a private registry. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP surface
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// Sessions and live connections
	ActiveSessions    prometheus.Gauge
	ActiveConnections prometheus.Gauge

	// Insight client
	InsightRequests *prometheus.CounterVec
	InsightLatency  prometheus.Histogram
	BreakerState    prometheus.Gauge

	// MCP tools
	ToolInvocations *prometheus.CounterVec
	ToolLatency     *prometheus.HistogramVec
}

// NewMetrics creates a new metrics set registered on its own registry, together with the Go and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_sessions",
			Help:      "Portal sessions currently held in memory.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket event channels.",
		}),
		InsightRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "insight",
			Name:      "requests_total",
			Help:      "Insight requests by outcome and failure cause.",
		}, []string{"outcome", "cause"}),
		InsightLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "insight",
			Name:      "request_duration_seconds",
			Help:      "Latency of generative-language calls.",
			Buckets:   []float64{.25, .5, 1, 2, 4, 8, 16, 32},
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "insight",
			Name:      "circuit_breaker_state",
			Help:      "Insight circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "mcp",
			Name:      "tool_invocations_total",
			Help:      "MCP tool calls by tool and status.",
		}, []string{"tool", "status"}),
		ToolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "mcp",
			Name:      "tool_duration_seconds",
			Help:      "MCP tool execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: Namespace}),
		m.HTTPRequests,
		m.HTTPLatency,
		m.ActiveSessions,
		m.ActiveConnections,
		m.InsightRequests,
		m.InsightLatency,
		m.BreakerState,
		m.ToolInvocations,
		m.ToolLatency,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveInsight records the outcome of an insight call. cause is empty on success.
func (m *Metrics) ObserveInsight(outcome, cause string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.InsightRequests.WithLabelValues(outcome, cause).Inc()
	if elapsed > 0 {
		m.InsightLatency.Observe(elapsed.Seconds())
	}
}

// SetBreakerState records the insight breaker state.
func (m *Metrics) SetBreakerState(state float64) {
	if m == nil {
		return
	}
	m.BreakerState.Set(state)
}

// ObserveTool records one MCP tool invocation.
func (m *Metrics) ObserveTool(tool string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := OutcomeSuccess
	if err != nil {
		status = OutcomeError
	}
	m.ToolInvocations.WithLabelValues(tool, status).Inc()
	m.ToolLatency.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// SetActiveSessions records the current session count.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// SessionEvicted decrements the session gauge when the store drops a session.
func (m *Metrics) SessionEvicted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// ConnectionOpened increments the websocket gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed decrements the websocket gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}
