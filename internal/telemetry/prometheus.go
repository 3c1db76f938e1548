package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics is the process-wide metric registry backing the
// /metrics REST endpoint: tool call counts and latency, and the
// Indexer's write throughput.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	toolCalls     *prometheus.CounterVec
	toolLatency   *prometheus.HistogramVec
	chunksWritten prometheus.Counter
	indexErrors   prometheus.Counter
	searchLatency *prometheus.HistogramVec
}

// NewPrometheusMetrics creates and registers a fresh metric set.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		registry: reg,
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nellie",
			Name:      "tool_calls_total",
			Help:      "Count of dispatcher tool calls by name and outcome.",
		}, []string{"tool", "outcome"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nellie",
			Name:      "tool_call_duration_seconds",
			Help:      "Dispatcher tool call latency by tool name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		chunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nellie",
			Name:      "chunks_indexed_total",
			Help:      "Count of chunks written by the indexer.",
		}),
		indexErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nellie",
			Name:      "index_errors_total",
			Help:      "Count of indexing failures.",
		}),
		searchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nellie",
			Name:      "search_duration_seconds",
			Help:      "Query engine search latency by query kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	reg.MustRegister(m.toolCalls, m.toolLatency, m.chunksWritten, m.indexErrors, m.searchLatency)
	return m
}

// ObserveToolCall records one dispatcher call's outcome and latency.
func (m *PrometheusMetrics) ObserveToolCall(tool, outcome string, d time.Duration) {
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveSearch records one search's latency by kind (vector/text/mixed).
func (m *PrometheusMetrics) ObserveSearch(kind QueryKind, d time.Duration) {
	m.searchLatency.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// AddChunksWritten increments the chunks-indexed counter by n.
func (m *PrometheusMetrics) AddChunksWritten(n int) {
	if n <= 0 {
		return
	}
	m.chunksWritten.Add(float64(n))
}

// IncIndexErrors increments the indexing-failure counter.
func (m *PrometheusMetrics) IncIndexErrors() {
	m.indexErrors.Inc()
}

// Handler returns the http.Handler that serves /metrics in Prometheus
// exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
