package httpapi

import (
	"net/http"
	"strings"

	"github.com/antoniostano/relay/internal/llm"
	"github.com/antoniostano/relay/internal/observability"
)

// DebugUserID owns the memory written by the debug chain endpoint.
const DebugUserID = "debug-user"

const debugChainErrorReply = "Erro ao executar cadeia."

type debugChainResponse struct {
	OK          bool       `json:"ok"`
	Reply       string     `json:"reply"`
	Usage       *llm.Usage `json:"usage"`
	ContextSize int        `json:"context_size"`
	TraceID     string     `json:"trace_id"`
}

// handleDebugChain runs a turn for the debug user without any messaging.
func (s *Server) handleDebugChain(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if strings.TrimSpace(text) == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "query parameter text is required")
		return
	}

	ctx, root := s.tracer.Start(r.Context(), "whatsapp_agent_chain")
	root.SetAttr("message_id", "debug-chain")

	resp := debugChainResponse{OK: true, TraceID: root.TraceID()}
	result, err := s.turns.RunTurn(ctx, text, DebugUserID)
	if err != nil {
		s.log.Warn().Err(err).Str("trace_id", root.TraceID()).Msg("debug chain failed")
		resp.Reply = debugChainErrorReply
	} else {
		resp.Reply = result.Reply
		resp.Usage = result.Usage
		resp.ContextSize = result.ContextSize
	}
	root.End(err)
	respondJSON(w, http.StatusOK, resp)
}

// handleDebugTrace emits a two-span trace to check the tracing pipeline.
func (s *Server) handleDebugTrace(w http.ResponseWriter, r *http.Request) {
	ctx, root := s.tracer.Start(r.Context(), observability.SpanWebhook)
	root.SetAttr("user_id", DebugUserID)
	root.SetAttr("message_id", "debug-msg")
	_, ping := observability.StartSpan(ctx, "ping")
	ping.SetAttr("output", "pong")
	ping.End(nil)
	root.End(nil)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "trace_id": root.TraceID()})
}
