package rpc

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the tool-call counters and histograms exposed on the SSE
// transport's HTTP listener via promhttp.Handler(), the same /metrics
// endpoint idiom as every other binary in this codebase. Stdio mode records
// into the same registry; the metrics are simply never exposed there since
// there is no HTTP listener in that mode.
type Metrics struct {
	ToolCalls   *prometheus.CounterVec
	ToolLatency *prometheus.HistogramVec
}

// NewMetrics registers the dispatcher's metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_tool_calls_total",
			Help: "Total number of MCP tool calls, labeled by tool and error kind.",
		}, []string{"tool", "error"}),
		ToolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_tool_call_duration_seconds",
			Help:    "MCP tool call latency in seconds, labeled by tool.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
	}

	reg.MustRegister(m.ToolCalls, m.ToolLatency)

	return m
}

func (m *Metrics) observe(tool string, kind ErrorKind, seconds float64) {
	m.ToolCalls.WithLabelValues(tool, string(kind)).Inc()
	m.ToolLatency.WithLabelValues(tool).Observe(seconds)
}
