package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Turns            *prometheus.CounterVec
	MemoryEvents     *prometheus.CounterVec
	ModelErrors      *prometheus.CounterVec
	OutboundMessages *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	ActiveWSConns    prometheus.Gauge
	SpanDuration     *prometheus.HistogramVec

	spans *spanWindow
}

// NewMetrics registers the service instruments on reg, or on the default
// registerer when reg is nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"outcome"}),
		MemoryEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_events_total",
			Help:      "Preference memory events by type.",
		}, []string{"type"}),
		ModelErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_errors_total",
			Help:      "Model invocation failures by kind.",
		}, []string{"kind"}),
		OutboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound messaging attempts by result.",
		}, []string{"result"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ActiveWSConns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_ws_connections",
			Help:      "Number of open chat websocket connections.",
		}),
		SpanDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "span_duration_ms",
			Help:      "Traced span durations in milliseconds.",
			Buckets:   []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"span", "status"}),
		spans: newSpanWindow(256),
	}
}

func (m *Metrics) ObserveSpan(name, status string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.SpanDuration.WithLabelValues(name, status).Observe(ms)
	m.spans.Observe(name, ms, status != "ok")
}

func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	m.spans.ObserveTurn(outcome)
}

func (m *Metrics) ObserveMemoryEvent(eventType string) {
	if m == nil {
		return
	}
	m.MemoryEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveModelError(kind string) {
	if m == nil {
		return
	}
	m.ModelErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveOutbound(result string) {
	if m == nil {
		return
	}
	m.OutboundMessages.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// TrackWSConn counts an open websocket and returns the matching release.
func (m *Metrics) TrackWSConn() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveWSConns.Inc()
	return m.ActiveWSConns.Dec
}

// SnapshotSpans returns rolling latency, error rate and health per span name
// plus recent turn outcome rates.
func (m *Metrics) SnapshotSpans() SpanSnapshot {
	if m == nil {
		return SpanSnapshot{Spans: []SpanStats{}}
	}
	return m.spans.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
