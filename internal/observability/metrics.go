package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runtime's Prometheus instruments. One collector is
// shared by every entity; series are split by entity id labels.
type Metrics struct {
	EventsDispatched *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
	ToolExecutions   *prometheus.CounterVec
	ToolDuration     *prometheus.HistogramVec
	StreamDropped    *prometheus.CounterVec
	LLMTokens        *prometheus.CounterVec
}

// NewMetrics registers the runtime instruments on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a private
// registry so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iris_events_dispatched_total",
			Help: "Events dispatched by entity and kind.",
		}, []string{"entity", "kind"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "iris_queue_depth",
			Help: "Buffered events per input queue.",
		}, []string{"entity", "queue"}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iris_tool_executions_total",
			Help: "Tool executions by tool name and outcome.",
		}, []string{"entity", "tool", "outcome"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iris_tool_duration_seconds",
			Help:    "Tool execution duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"entity", "tool"}),
		StreamDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iris_stream_dropped_total",
			Help: "Stream events dropped for slow consumers.",
		}, []string{"entity"}),
		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "iris_llm_tokens_total",
			Help: "LLM token usage by direction.",
		}, []string{"entity", "direction"}),
	}
}

var defaultMetrics *Metrics

// Default returns the process-wide metrics collector, registering it on
// first use. Reinitialization is a deliberate operation via NewMetrics.
func Default() *Metrics {
	if defaultMetrics == nil {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	}
	return defaultMetrics
}
