package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/relay/internal/memory"
	"github.com/antoniostano/relay/internal/policy"
	"github.com/antoniostano/relay/internal/protocol"
	"github.com/antoniostano/relay/internal/session"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleChatWS serves a turn-per-frame chat. Turns on one connection run in
// arrival order; results are written by a single writer goroutine.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	log := s.log.With().Str("connection_id", connID).Str("user_id", policy.MaskUserID(userID)).Logger()
	defer s.metrics.TrackWSConn()()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					log.Debug().Err(err).Msg("websocket write failed")
					cancel()
					return
				}
				if t, ok := protocol.TypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	enqueue := func(msg any) bool {
		select {
		case <-ctx.Done():
			return false
		case outbound <- msg:
			return true
		}
	}

	enqueue(protocol.SystemEvent{Type: protocol.TypeSystemEvent, ConnectionID: connID, Code: "connected"})

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			if !enqueue(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Source: "gateway",
				Detail: err.Error(),
			}) {
				break
			}
			continue
		}
		turn, ok := parsed.(protocol.ClientTurn)
		if !ok {
			continue
		}
		s.metrics.ObserveWSMessage("inbound", string(turn.Type))

		if !enqueue(s.runChatTurn(ctx, userID, turn)) {
			break
		}
	}

	cancel()
	<-writerDone
}

func (s *Server) runChatTurn(ctx context.Context, userID string, turn protocol.ClientTurn) any {
	ctx, root := s.tracer.Start(ctx, "chat_turn")
	root.SetAttr("user_id", policy.MaskUserID(userID))
	root.SetAttr("input", policy.Redact(turn.Text))

	result, err := s.turns.RunTurn(ctx, turn.Text, userID)
	root.End(err)
	if err != nil {
		return turnErrorEvent(turn.MessageID, err)
	}
	return protocol.TurnResult{
		Type:        protocol.TypeTurnResult,
		MessageID:   turn.MessageID,
		Reply:       result.Reply,
		Usage:       result.Usage,
		ContextSize: result.ContextSize,
		Events:      result.Events,
		Degraded:    result.Degraded,
		TraceID:     root.TraceID(),
	}
}

func turnErrorEvent(messageID string, err error) protocol.ErrorEvent {
	ev := protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		MessageID: messageID,
		Code:      "internal_error",
		Source:    "session",
		Detail:    err.Error(),
	}
	var mie *session.ModelInvocationError
	switch {
	case errors.As(err, &mie):
		ev.Code = "model_invocation_failed"
		ev.Source = "model"
		ev.Retryable = mie.Transient
	case errors.Is(err, memory.ErrStorage):
		ev.Code = "storage_failed"
		ev.Source = "memory"
		ev.Retryable = true
	}
	return ev
}
