package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role tags a message in the model context.
type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
	RoleAgent  Role = "agent"
)

// Message is one entry of the ordered context handed to a model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage is token accounting reported by the provider, when it reports any.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Response is the final model output for one invocation.
type Response struct {
	Content string
	Usage   *Usage
}

// Model invokes a language model over an ordered context. Implementations
// never retry; the caller owns retry policy.
type Model interface {
	Invoke(ctx context.Context, messages []Message) (Response, error)
}

// ErrNotConfigured means no provider credentials are available.
var ErrNotConfigured = errors.New("llm: no model credentials configured")

// Provider names accepted by New.
const (
	ProviderAuto      = "auto"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderMock      = "mock"
)

// Config controls model construction.
type Config struct {
	Provider string

	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	MaxTokens int64
	Timeout   time.Duration
}

// New builds the configured model. In auto mode it prefers Anthropic, falls
// back to an OpenAI-compatible endpoint when both keys are set, and returns
// ErrNotConfigured when neither is.
func New(cfg Config) (Model, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = ProviderAuto
	}

	hasAnthropic := strings.TrimSpace(cfg.AnthropicAPIKey) != ""
	hasOpenAI := strings.TrimSpace(cfg.OpenAIAPIKey) != ""

	switch mode {
	case ProviderAuto:
		switch {
		case hasAnthropic && hasOpenAI:
			return NewFallbackModel(NewAnthropicModel(cfg), NewOpenAIModel(cfg)), nil
		case hasAnthropic:
			return NewAnthropicModel(cfg), nil
		case hasOpenAI:
			return NewOpenAIModel(cfg), nil
		default:
			return nil, ErrNotConfigured
		}
	case ProviderAnthropic:
		if !hasAnthropic {
			return nil, fmt.Errorf("anthropic provider: %w", ErrNotConfigured)
		}
		return NewAnthropicModel(cfg), nil
	case ProviderOpenAI:
		if !hasOpenAI {
			return nil, fmt.Errorf("openai provider: %w", ErrNotConfigured)
		}
		return NewOpenAIModel(cfg), nil
	case ProviderMock:
		return NewMockModel(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// StatusError is a non-2xx answer from a provider endpoint.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http status %d: %s", e.Provider, e.Code, e.Body)
}

// Describe names a model implementation for logs and health output.
func Describe(m Model) string {
	switch v := m.(type) {
	case nil:
		return "none"
	case *AnthropicModel:
		return ProviderAnthropic
	case *OpenAIModel:
		return ProviderOpenAI
	case *MockModel:
		return ProviderMock
	case *FallbackModel:
		return Describe(v.Primary()) + "+" + Describe(v.Secondary())
	default:
		return fmt.Sprintf("%T", m)
	}
}
