package protocol

import (
	"encoding/json"
	"strings"
)

// UnknownMessageID stands in for events that carry no message key.
const UnknownMessageID = "unknown"

// WebhookEvent is the subset of an Evolution API webhook the relay reads.
// Plain test clients may instead post {"sender": ..., "message": "..."}.
type WebhookEvent struct {
	Sender  string          `json:"sender"`
	Message json.RawMessage `json:"message"`
	Data    struct {
		Key struct {
			RemoteJID string `json:"remoteJid"`
			ID        string `json:"id"`
			FromMe    bool   `json:"fromMe"`
		} `json:"key"`
		Message struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
		} `json:"message"`
	} `json:"data"`
}

// Text returns the inbound message body, or "".
func (e WebhookEvent) Text() string {
	if t := e.Data.Message.Conversation; t != "" {
		return t
	}
	if t := e.Data.Message.ExtendedTextMessage.Text; t != "" {
		return t
	}
	var plain string
	if len(e.Message) > 0 && json.Unmarshal(e.Message, &plain) == nil {
		return plain
	}
	return ""
}

// UserID prefers the explicit sender over the chat's remote jid. An empty
// result means the turn is anonymous.
func (e WebhookEvent) UserID() string {
	if s := strings.TrimSpace(e.Sender); s != "" {
		return s
	}
	return strings.TrimSpace(e.Data.Key.RemoteJID)
}

func (e WebhookEvent) MessageID() string {
	if id := strings.TrimSpace(e.Data.Key.ID); id != "" {
		return id
	}
	return UnknownMessageID
}
