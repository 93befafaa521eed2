package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/relay/internal/messaging"
	"github.com/antoniostano/relay/internal/observability"
	"github.com/antoniostano/relay/internal/policy"
	"github.com/antoniostano/relay/internal/protocol"
)

const errNoRecipient = "no recipient"

type webhookResponse struct {
	Status  string  `json:"status"`
	Reply   string  `json:"reply"`
	Sent    bool    `json:"sent"`
	Error   *string `json:"error"`
	TraceID string  `json:"trace_id"`
}

// handleWebhook answers one inbound chat event: run a turn, dispatch the
// reply, report what happened. Turn and delivery failures still produce 200
// so the upstream does not redeliver.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "hook") != s.cfg.WebhookPath {
		respondError(w, http.StatusNotFound, "unknown_webhook", "no webhook registered at this path")
		return
	}

	var ev protocol.WebhookEvent
	if err := decodeJSON(r, &ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	text := ev.Text()
	userID := ev.UserID()
	if ev.Data.Key.FromMe {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ignored", "reason": "from_me"})
		return
	}
	if strings.TrimSpace(text) == "" {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ignored", "reason": "no_text"})
		return
	}

	s.cfg.WarnMissing(s.log)

	ctx, root := s.tracer.Start(r.Context(), observability.SpanWebhook)
	root.SetAttr("user_id", policy.MaskUserID(userID))
	root.SetAttr("message_id", ev.MessageID())
	root.SetAttr("input", policy.Redact(text))

	reply := "Recebido: " + text
	result, turnErr := s.turns.RunTurn(ctx, text, userID)
	if turnErr != nil {
		s.log.Warn().Err(turnErr).
			Str("trace_id", root.TraceID()).
			Str("message_id", ev.MessageID()).
			Msg("turn failed, replying with receipt")
	} else {
		reply = result.Reply
		root.SetAttr("context_size", result.ContextSize)
	}

	resp := webhookResponse{Status: "ok", Reply: reply, TraceID: root.TraceID()}
	number := messaging.NumberFromUserID(userID)
	if number == "" {
		s.metrics.ObserveOutbound("no_recipient")
		msg := errNoRecipient
		resp.Error = &msg
	} else if sendErr := s.send(ctx, number, reply); sendErr != nil {
		msg := sendErr.Error()
		resp.Error = &msg
	} else {
		resp.Sent = true
	}

	root.SetAttr("sent", resp.Sent)
	root.End(turnErr)
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) send(ctx context.Context, number, text string) error {
	if s.sender == nil {
		s.metrics.ObserveOutbound("not_configured")
		return messaging.ErrNotConfigured
	}
	_, span := observability.StartSpan(ctx, observability.SpanSend)
	_, err := s.sender.SendText(ctx, number, text)
	span.End(err)

	switch {
	case err == nil:
		s.metrics.ObserveOutbound("sent")
	case errors.Is(err, messaging.ErrNotConfigured):
		s.metrics.ObserveOutbound("not_configured")
	default:
		s.metrics.ObserveOutbound("failed")
		s.log.Warn().Err(err).Str("trace_id", observability.TraceID(ctx)).Msg("reply delivery failed")
	}
	return err
}
