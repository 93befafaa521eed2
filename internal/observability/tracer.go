package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Span names used across the relay.
const (
	SpanWebhook = "whatsapp_agent"
	SpanModel   = "llm_call"
	SpanSend    = "evolution_send"
)

// Tracer emits spans as structured log records and feeds their durations
// into Metrics. A nil Tracer produces inert spans.
type Tracer struct {
	log     zerolog.Logger
	metrics *Metrics
}

func NewTracer(log zerolog.Logger, metrics *Metrics) *Tracer {
	return &Tracer{log: log.With().Str("component", "tracer").Logger(), metrics: metrics}
}

// Span is one timed unit of work within a trace.
type Span struct {
	tracer  *Tracer
	traceID string
	name    string
	parent  string
	start   time.Time
	attrs   map[string]any
	ended   bool
}

type spanKey struct{}

// Start opens a root span with a fresh trace id.
func (t *Tracer) Start(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{tracer: t, traceID: uuid.NewString(), name: name, start: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartSpan opens a child of the span carried by ctx. Without one it
// returns an inert span that records nothing.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := ctx.Value(spanKey{}).(*Span)
	if parent == nil || parent.tracer == nil {
		return ctx, &Span{name: name}
	}
	s := &Span{
		tracer:  parent.tracer,
		traceID: parent.traceID,
		name:    name,
		parent:  parent.name,
		start:   time.Now(),
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

// TraceID returns the trace id carried by ctx, or "".
func TraceID(ctx context.Context) string {
	if s, ok := ctx.Value(spanKey{}).(*Span); ok && s != nil {
		return s.traceID
	}
	return ""
}

func (s *Span) TraceID() string {
	if s == nil {
		return ""
	}
	return s.traceID
}

// SetAttr attaches a field emitted when the span ends.
func (s *Span) SetAttr(key string, value any) {
	if s == nil || s.tracer == nil {
		return
	}
	if s.attrs == nil {
		s.attrs = make(map[string]any)
	}
	s.attrs[key] = value
}

// End records the span once; later calls are ignored.
func (s *Span) End(err error) {
	if s == nil || s.tracer == nil || s.ended {
		return
	}
	s.ended = true
	d := time.Since(s.start)

	status := "ok"
	ev := s.tracer.log.Info()
	if err != nil {
		status = "error"
		ev = s.tracer.log.Warn().Err(err)
	}
	ev = ev.Str("trace_id", s.traceID).
		Str("span", s.name).
		Dur("duration", d).
		Str("status", status)
	if s.parent != "" {
		ev = ev.Str("parent", s.parent)
	}
	if len(s.attrs) > 0 {
		ev = ev.Fields(s.attrs)
	}
	ev.Msg("span")

	s.tracer.metrics.ObserveSpan(s.name, status, d)
}
