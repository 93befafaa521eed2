package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	defaultMaxTokens      = 1024
)

// AnthropicModel calls the Anthropic Messages API.
type AnthropicModel struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func NewAnthropicModel(cfg Config) *AnthropicModel {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.AnthropicAPIKey)),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.AnthropicBaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	model := strings.TrimSpace(cfg.AnthropicModel)
	if model == "" {
		model = DefaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicModel{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}
}

func (m *AnthropicModel) Invoke(ctx context.Context, messages []Message) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     m.model,
		MaxTokens: m.maxTokens,
	}
	// System entries travel out of band; the rest keep their order.
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case RoleAgent:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(tb.Text)
		}
	}
	return Response{
		Content: out.String(),
		Usage: &Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}
