package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/antoniostano/relay/internal/extract"
	"github.com/antoniostano/relay/internal/llm"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientTurn  MessageType = "client_turn"
	TypeSystemEvent MessageType = "system_event"
	TypeTurnResult  MessageType = "turn_result"
	TypeErrorEvent  MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientTurn is one inbound chat message on the websocket.
type ClientTurn struct {
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	MessageID string      `json:"message_id,omitempty"`
}

type SystemEvent struct {
	Type         MessageType `json:"type"`
	ConnectionID string      `json:"connection_id"`
	Code         string      `json:"code"`
	Detail       string      `json:"detail,omitempty"`
}

// TurnResult answers a ClientTurn.
type TurnResult struct {
	Type        MessageType     `json:"type"`
	MessageID   string          `json:"message_id,omitempty"`
	Reply       string          `json:"reply"`
	Usage       *llm.Usage      `json:"usage"`
	ContextSize int             `json:"context_size"`
	Events      []extract.Event `json:"events"`
	Degraded    bool            `json:"degraded,omitempty"`
	TraceID     string          `json:"trace_id"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	MessageID string      `json:"message_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes a websocket text frame. A frame that is not a
// JSON object is treated as a plain-text turn.
func ParseClientMessage(raw []byte) (any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, errors.New("empty message")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return ClientTurn{Type: TypeClientTurn, Text: trimmed}, nil
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientTurn:
		var msg ClientTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_turn: empty text")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the wire type of a known message value.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientTurn:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case TurnResult:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
