package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/relay/internal/extract"
	"github.com/antoniostano/relay/internal/llm"
	"github.com/antoniostano/relay/internal/memory"
	"github.com/antoniostano/relay/internal/observability"
	"github.com/antoniostano/relay/internal/policy"
)

// DefaultFallbackReply is returned while no model credentials are configured.
const DefaultFallbackReply = "IA indisponível no momento. Configure OPENAI_API_KEY."

// Turn outcomes reported to metrics.
const (
	OutcomeOK         = "ok"
	OutcomeDegraded   = "degraded"
	OutcomeModelError = "model_error"
	OutcomeStoreError = "storage_error"
)

type Config struct {
	SystemPrompt   string
	MaxMessages    int
	TTLSeconds     int64
	MaxPreferences int
	// ModelTimeout bounds a single model call; zero means no extra deadline.
	ModelTimeout  time.Duration
	FallbackReply string
}

// Result is the outcome of one conversational turn.
type Result struct {
	Reply       string          `json:"reply"`
	Usage       *llm.Usage      `json:"usage"`
	ContextSize int             `json:"context_size"`
	Events      []extract.Event `json:"events"`
	Degraded    bool            `json:"degraded,omitempty"`
}

type Option func(*Facade)

func WithLogger(log zerolog.Logger) Option {
	return func(f *Facade) { f.log = log }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(f *Facade) { f.metrics = m }
}

// WithDetector swaps the remember/forget detection strategy.
func WithDetector(d extract.Detector) Option {
	return func(f *Facade) { f.detector = d }
}

// Facade runs conversational turns against the memory store and a model.
type Facade struct {
	store     memory.Store
	model     llm.Model
	cfg       Config
	detector  extract.Detector
	extractor *extract.Extractor
	assembler *Assembler
	log       zerolog.Logger
	metrics   *observability.Metrics
}

// NewFacade wires a facade. A nil model puts it in degraded mode, where every
// turn gets the fallback reply and nothing is written.
func NewFacade(store memory.Store, model llm.Model, cfg Config, opts ...Option) *Facade {
	if cfg.MaxPreferences <= 0 {
		cfg.MaxPreferences = memory.DefaultMaxPreferences
	}
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = DefaultFallbackReply
	}
	f := &Facade{
		store: store,
		model: model,
		cfg:   cfg,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.With().Str("component", "session").Logger()
	f.extractor = extract.New(store, f.detector, cfg.MaxPreferences, f.log)
	f.assembler = NewAssembler(store, cfg.SystemPrompt, cfg.MaxMessages, cfg.TTLSeconds)
	return f
}

// Available reports whether a model is configured.
func (f *Facade) Available() bool { return f.model != nil }

// RunTurn processes one inbound message. userID may be empty for an
// anonymous turn, which reads and writes no memory.
//
// Storage failures are returned as *memory.StorageError and model failures
// as *ModelInvocationError. A failed model call writes no turns.
func (f *Facade) RunTurn(ctx context.Context, text, userID string) (Result, error) {
	log := f.log.With().
		Str("trace_id", observability.TraceID(ctx)).
		Str("user_id", policy.MaskUserID(userID)).
		Logger()

	if f.model == nil {
		f.metrics.ObserveTurn(OutcomeDegraded)
		log.Info().Msg("model unavailable, returning fallback reply")
		return Result{
			Reply:       f.cfg.FallbackReply,
			ContextSize: f.contextSize(ctx, log, userID),
			Events:      []extract.Event{},
			Degraded:    true,
		}, nil
	}

	events, err := f.extractor.Apply(ctx, userID, text)
	if err != nil {
		f.metrics.ObserveTurn(OutcomeStoreError)
		return Result{}, err
	}
	for _, ev := range events {
		f.metrics.ObserveMemoryEvent(ev.Type)
	}
	if events == nil {
		events = []extract.Event{}
	}

	messages, err := f.assembler.Assemble(ctx, userID, text)
	if err != nil {
		f.metrics.ObserveTurn(OutcomeStoreError)
		return Result{}, fmt.Errorf("assemble context: %w", err)
	}

	resp, err := f.invoke(ctx, messages)
	if err != nil {
		f.metrics.ObserveTurn(OutcomeModelError)
		log.Warn().Err(err).Msg("model invocation failed")
		return Result{}, err
	}

	size := 0
	if userID != "" {
		if err := f.store.AppendTurns(ctx, userID,
			memory.TurnInput{Role: memory.RoleHuman, Content: text},
			memory.TurnInput{Role: memory.RoleAgent, Content: resp.Content},
		); err != nil {
			f.metrics.ObserveTurn(OutcomeStoreError)
			return Result{}, fmt.Errorf("append turns: %w", err)
		}
		size = f.contextSize(ctx, log, userID)
	}

	f.metrics.ObserveTurn(OutcomeOK)
	log.Debug().
		Int("context_size", size).
		Int("events", len(events)).
		Str("input", policy.Redact(text)).
		Msg("turn completed")

	return Result{
		Reply:       resp.Content,
		Usage:       resp.Usage,
		ContextSize: size,
		Events:      events,
	}, nil
}

func (f *Facade) invoke(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	callCtx := ctx
	if f.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.cfg.ModelTimeout)
		defer cancel()
	}

	callCtx, span := observability.StartSpan(callCtx, observability.SpanModel)
	span.SetAttr("provider", llm.Describe(f.model))
	span.SetAttr("messages", len(messages))
	resp, err := f.model.Invoke(callCtx, messages)
	if err == nil && resp.Usage != nil {
		span.SetAttr("total_tokens", resp.Usage.TotalTokens)
	}
	span.End(err)
	if err != nil {
		mie := &ModelInvocationError{
			Err:       err,
			Transient: llm.IsTransient(err) || errors.Is(err, context.DeadlineExceeded),
		}
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			f.metrics.ObserveModelError("timeout")
		case mie.Transient:
			f.metrics.ObserveModelError("transient")
		default:
			f.metrics.ObserveModelError("permanent")
		}
		return llm.Response{}, mie
	}
	return resp, nil
}

// degradedContextSize never fails the turn; the fallback path must always
// produce a result.
// contextSize reports 0 when counting fails; the turn itself has already
// been answered and persisted at this point.
func (f *Facade) contextSize(ctx context.Context, log zerolog.Logger, userID string) int {
	if userID == "" {
		return 0
	}
	n, err := f.store.CountContext(ctx, userID, f.cfg.TTLSeconds)
	if err != nil {
		log.Warn().Err(err).Msg("count context failed, reporting 0")
		return 0
	}
	return n
}
