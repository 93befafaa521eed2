package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/antoniostano/relay/internal/config"
	"github.com/antoniostano/relay/internal/messaging"
	"github.com/antoniostano/relay/internal/observability"
	"github.com/antoniostano/relay/internal/session"
)

// TurnRunner runs one conversational turn.
type TurnRunner interface {
	RunTurn(ctx context.Context, text, userID string) (session.Result, error)
	Available() bool
}

// Pinger reports storage reachability for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP surface drives.
type Deps struct {
	Turns   TurnRunner
	Store   Pinger
	Sender  messaging.Sender
	Tracer  *observability.Tracer
	Metrics *observability.Metrics
	// MetricsHandler overrides the default Prometheus handler.
	MetricsHandler http.Handler
	Log            zerolog.Logger
}

type Server struct {
	cfg            config.Config
	turns          TurnRunner
	store          Pinger
	sender         messaging.Sender
	tracer         *observability.Tracer
	metrics        *observability.Metrics
	metricsHandler http.Handler
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	mh := deps.MetricsHandler
	if mh == nil {
		mh = observability.MetricsHandler()
	}
	return &Server{
		cfg:            cfg,
		turns:          deps.Turns,
		store:          deps.Store,
		sender:         deps.Sender,
		tracer:         deps.Tracer,
		metrics:        deps.Metrics,
		metricsHandler: mh,
		log:            deps.Log.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metricsHandler.ServeHTTP(w, r)
	})
	r.Get("/v1/perf/spans", s.handlePerfSpans)

	r.Post("/webhook/{hook}", s.handleWebhook)
	r.Get("/debug/chain", s.handleDebugChain)
	r.Get("/debug/trace", s.handleDebugTrace)
	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"model_available": s.turns != nil && s.turns.Available(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("readiness check failed")
			respondError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"model_available": s.turns != nil && s.turns.Available(),
	})
}

func (s *Server) handlePerfSpans(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotSpans())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
