package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockModel provides deterministic local replies when no provider is wired.
type MockModel struct{}

func NewMockModel() *MockModel { return &MockModel{} }

func (m *MockModel) Invoke(ctx context.Context, messages []Message) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{Content: buildMockReply(messages)}, nil
}

func buildMockReply(messages []Message) string {
	var dialogue []Message
	for _, msg := range messages {
		if msg.Role != RoleSystem {
			dialogue = append(dialogue, msg)
		}
	}

	base := ""
	if n := len(dialogue); n > 0 {
		base = strings.TrimSpace(dialogue[n-1].Content)
	}
	if base == "" {
		base = "estou ouvindo."
	}
	if len(dialogue) < 2 {
		return fmt.Sprintf("Recebido: %s", base)
	}

	last := strings.TrimSpace(dialogue[len(dialogue)-2].Content)
	if last == "" {
		return fmt.Sprintf("Recebido: %s", base)
	}
	return fmt.Sprintf("Recebido: %s\nLembro também: %s", base, last)
}
