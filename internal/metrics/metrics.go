// ABOUTME: Prometheus instrumentation for the MCP transport and upstream client.
// ABOUTME: All methods are nil-receiver safe so metrics can be disabled entirely.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for tool calls.
const (
	OutcomeOK            = "ok"
	OutcomeClientError   = "client_error"
	OutcomeUpstreamError = "upstream_error"
	OutcomeContractError = "contract_error"
	OutcomeInternalError = "internal_error"
)

// Metrics holds the collectors exported on the /metrics endpoint.
type Metrics struct {
	requests         *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	sessionsActive   prometheus.Gauge
}

// New registers the collectors with the given registerer and returns the
// Metrics handle used throughout the server.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metricool_mcp",
			Name:      "requests_total",
			Help:      "JSON-RPC requests received, by method.",
		}, []string{"method"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metricool_mcp",
			Name:      "tool_calls_total",
			Help:      "Tool invocations, by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		upstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "metricool_mcp",
			Name:      "upstream_request_duration_seconds",
			Help:      "Round-trip time of Metricool API requests, by path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "metricool_mcp",
			Name:      "sessions_active",
			Help:      "MCP sessions currently registered.",
		}),
	}
}

// ObserveRequest counts one inbound JSON-RPC request.
func (m *Metrics) ObserveRequest(method string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method).Inc()
}

// ObserveToolCall counts one tool invocation with its outcome.
func (m *Metrics) ObserveToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// ObserveUpstream records the duration of one upstream round trip.
func (m *Metrics) ObserveUpstream(path string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}

// SetActiveSessions updates the active session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}
