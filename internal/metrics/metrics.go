// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Model call outcomes.
const (
	ResultOK    = "ok"
	ResultEmpty = "empty"
	ResultError = "error"
)

// Metrics groups the relay collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	turns        *prometheus.CounterVec
	modelCalls   *prometheus.CounterVec
	chunks       *prometheus.CounterVec
	modelLatency *prometheus.HistogramVec
	connections  prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "turns_total",
			Help:      "Orchestration turns by final state.",
		}, []string{"state"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "model_calls_total",
			Help:      "Model invocations by model and result.",
		}, []string{"model", "result"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatrelay",
			Name:      "chunks_total",
			Help:      "Streamed content chunks relayed per model.",
		}, []string{"model"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatrelay",
			Name:      "model_call_seconds",
			Help:      "Wall time of one model invocation.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"model"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatrelay",
			Name:      "ws_connections",
			Help:      "Open WebSocket connections.",
		}),
	}
	m.registry.MustRegister(
		m.turns, m.modelCalls, m.chunks, m.modelLatency, m.connections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) TurnFinished(state string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(state).Inc()
}

func (m *Metrics) ModelCall(model, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(model, result).Inc()
	m.modelLatency.WithLabelValues(model).Observe(elapsed.Seconds())
}

func (m *Metrics) Chunk(model string) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(model).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}
