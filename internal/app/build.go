package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/antoniostano/relay/internal/config"
	"github.com/antoniostano/relay/internal/extract"
	"github.com/antoniostano/relay/internal/httpapi"
	"github.com/antoniostano/relay/internal/llm"
	"github.com/antoniostano/relay/internal/memory"
	"github.com/antoniostano/relay/internal/messaging"
	"github.com/antoniostano/relay/internal/observability"
	"github.com/antoniostano/relay/internal/session"
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Facade  *session.Facade
	Store   memory.Store
	Metrics *observability.Metrics
	// Model names the resolved model chain, "none" in degraded mode.
	Model string

	// Cleanup should be called on shutdown to release the store.
	Cleanup func() error
}

// Options tweak Build for tests and tooling.
type Options struct {
	// Registerer receives the service metrics; nil means the default registry.
	Registerer prometheus.Registerer
	// MetricsHandler serves /metrics; nil means the default handler.
	MetricsHandler http.Handler
}

// OpenStore creates the configured memory store.
func OpenStore(ctx context.Context, cfg config.Config) (memory.Store, error) {
	store, err := memory.NewStore(ctx, memory.FactoryConfig{
		Backend:         cfg.MemoryBackend,
		DatabaseURL:     cfg.DatabaseURL,
		SQLitePath:      cfg.SQLitePath,
		PreferenceCache: cfg.PreferenceCache,
	})
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	return store, nil
}

// NewModel resolves the model chain. A nil model with a nil error means no
// credentials are configured and the relay runs degraded.
func NewModel(cfg config.Config) (llm.Model, error) {
	model, err := llm.New(llm.Config{
		Provider:         cfg.LLMProvider,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		AnthropicModel:   cfg.AnthropicModel,
		AnthropicBaseURL: cfg.AnthropicBaseURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIModel:      cfg.OpenAIModel,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		MaxTokens:        cfg.ModelMaxTokens,
		Timeout:          cfg.ModelTimeout,
	})
	auto := cfg.LLMProvider == "" || cfg.LLMProvider == llm.ProviderAuto
	if auto && errors.Is(err, llm.ErrNotConfigured) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("model init failed: %w", err)
	}
	return model, nil
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger, opts Options) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace, opts.Registerer)

	model, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	facade := session.NewFacade(store, model, session.Config{
		SystemPrompt:   cfg.SystemPrompt,
		MaxMessages:    cfg.MemoryMaxMessages,
		TTLSeconds:     cfg.MemoryTTLSeconds,
		MaxPreferences: cfg.MemoryMaxPreferences,
		ModelTimeout:   cfg.ModelTimeout,
		FallbackReply:  cfg.FallbackReply,
	},
		session.WithLogger(log),
		session.WithMetrics(metrics),
		session.WithDetector(extract.NewKeywordDetector(cfg.RememberKeywords, cfg.ForgetKeywords)),
	)

	var sender messaging.Sender
	evo := messaging.Config{
		BaseURL:     cfg.EvolutionBaseURL,
		Token:       cfg.EvolutionToken,
		Instance:    cfg.EvolutionInstance,
		Timeout:     cfg.EvolutionTimeout,
		MaxAttempts: cfg.EvolutionAttempts,
	}
	if evo.Configured() {
		sender = messaging.NewEvolutionClient(evo)
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Turns:          facade,
		Store:          store,
		Sender:         sender,
		Tracer:         observability.NewTracer(log, metrics),
		Metrics:        metrics,
		MetricsHandler: opts.MetricsHandler,
		Log:            log,
	})

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Facade:  facade,
		Store:   store,
		Metrics: metrics,
		Model:   llm.Describe(model),
		Cleanup: store.Close,
	}, nil
}
