package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIModel talks to any OpenAI-compatible chat completions endpoint.
type OpenAIModel struct {
	client *resty.Client
	model  string
}

func NewOpenAIModel(cfg Config) *OpenAIModel {
	base := strings.TrimRight(strings.TrimSpace(cfg.OpenAIBaseURL), "/")
	if base == "" {
		base = DefaultOpenAIBaseURL
	}
	model := strings.TrimSpace(cfg.OpenAIModel)
	if model == "" {
		model = DefaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	c := resty.New().
		SetBaseURL(base).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(strings.TrimSpace(cfg.OpenAIAPIKey)).
		SetTimeout(timeout)

	return &OpenAIModel{client: c, model: model}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (m *OpenAIModel) Invoke(ctx context.Context, messages []Message) (Response, error) {
	req := chatRequest{Model: m.model, Temperature: 0}
	for _, msg := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: openAIRole(msg.Role), Content: msg.Content})
	}

	var out chatResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(&req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return Response{}, fmt.Errorf("openai request: %w", err)
	}
	if resp.IsError() {
		return Response{}, &StatusError{Provider: ProviderOpenAI, Code: resp.StatusCode(), Body: truncate(resp.String(), 4<<10)}
	}
	if len(out.Choices) == 0 {
		return Response{}, fmt.Errorf("openai response: no choices")
	}

	r := Response{Content: out.Choices[0].Message.Content}
	if out.Usage != nil {
		r.Usage = &Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		}
	}
	return r, nil
}

func openAIRole(r Role) string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleAgent:
		return "assistant"
	default:
		return "user"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
