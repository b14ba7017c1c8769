// Package metrics exposes Prometheus instruments for chat turns, model calls
// and tool executions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dbchat"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	modelCalls     *prometheus.CounterVec
	toolExecutions *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	turns          *prometheus.CounterVec
	turnDuration   prometheus.Histogram
}

// New creates and registers all collectors. Go and process collectors are
// included so /metrics is useful on its own.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model gateway calls by finish reason.",
		}, []string{"finish_reason"}),
		toolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool and status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_execution_seconds",
			Help:      "Tool execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed chat turns by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_seconds",
			Help:      "End-to-end chat turn latency.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.modelCalls,
		m.toolExecutions,
		m.toolDuration,
		m.turns,
		m.turnDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveModelCall counts one gateway call.
func (m *Metrics) ObserveModelCall(finishReason string) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(finishReason).Inc()
}

// ObserveToolExecution records one tool run. It satisfies tools.Observer.
func (m *Metrics) ObserveToolExecution(tool, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.toolExecutions.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveTurn records one finished chat turn.
func (m *Metrics) ObserveTurn(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(elapsed.Seconds())
}
