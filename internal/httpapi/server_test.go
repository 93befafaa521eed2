package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/relay/internal/config"
	"github.com/antoniostano/relay/internal/llm"
	"github.com/antoniostano/relay/internal/memory"
	"github.com/antoniostano/relay/internal/observability"
	"github.com/antoniostano/relay/internal/protocol"
	"github.com/antoniostano/relay/internal/session"
)

type sentMessage struct {
	number string
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendText(_ context.Context, number, text string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentMessage{number: number, text: text})
	return map[string]any{"status": "PENDING"}, nil
}

type failingRunner struct{ err error }

func (r failingRunner) RunTurn(context.Context, string, string) (session.Result, error) {
	return session.Result{}, r.err
}

func (failingRunner) Available() bool { return true }

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixture struct {
	srv    *httptest.Server
	store  *memory.InMemoryStore
	sender *fakeSender
}

func newFixture(t *testing.T, model llm.Model, mutate func(*Deps)) *fixture {
	t.Helper()
	store := memory.NewInMemoryStore()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)
	log := zerolog.Nop()
	sender := &fakeSender{}

	deps := Deps{
		Turns:          session.NewFacade(store, model, session.Config{SystemPrompt: "sys", MaxMessages: 16}, session.WithMetrics(metrics)),
		Store:          store,
		Sender:         sender,
		Tracer:         observability.NewTracer(log, metrics),
		Metrics:        metrics,
		MetricsHandler: observability.HandlerFor(reg),
		Log:            log,
	}
	if mutate != nil {
		mutate(&deps)
	}
	cfg := config.Config{WebhookPath: "teste.agente.codigo"}
	ts := httptest.NewServer(New(cfg, deps).Router())
	t.Cleanup(ts.Close)
	return &fixture{srv: ts, store: store, sender: sender}
}

func postJSON(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	res, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer res.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

const evolutionEvent = `{
	"event":"messages.upsert",
	"data":{
		"key":{"remoteJid":"5511999990000@s.whatsapp.net","id":"3EB0ABC","fromMe":false},
		"message":{"conversation":"lembrar: gosta de jazz"}
	}
}`

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, llm.NewMockModel(), nil)

	code, body := getJSON(t, f.srv.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])

	code, body = getJSON(t, f.srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["model_available"])

	code, body = getJSON(t, f.srv.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReportsStorageFailure(t *testing.T) {
	f := newFixture(t, nil, func(d *Deps) {
		d.Store = pingerFunc(func(context.Context) error { return errors.New("disk gone") })
	})
	code, body := getJSON(t, f.srv.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "storage_unavailable", body["code"])
}

func TestWebhookRunsTurnAndSendsReply(t *testing.T) {
	f := newFixture(t, llm.NewMockModel(), nil)

	code, body := postJSON(t, f.srv.URL+"/webhook/teste.agente.codigo", evolutionEvent)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Recebido: lembrar: gosta de jazz", body["reply"])
	assert.Equal(t, true, body["sent"])
	assert.Nil(t, body["error"])
	assert.NotEmpty(t, body["trace_id"])

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "5511999990000", f.sender.sent[0].number)
	assert.Equal(t, "Recebido: lembrar: gosta de jazz", f.sender.sent[0].text)

	ctx := context.Background()
	user := "5511999990000@s.whatsapp.net"
	prefs, err := f.store.GetPreferences(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"gosta de jazz"}, prefs)
	n, err := f.store.CountContext(ctx, user, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWebhookUnknownPath(t *testing.T) {
	f := newFixture(t, llm.NewMockModel(), nil)
	code, body := postJSON(t, f.srv.URL+"/webhook/other", evolutionEvent)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "unknown_webhook", body["code"])
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	f := newFixture(t, llm.NewMockModel(), nil)
	code, body := postJSON(t, f.srv.URL+"/webhook/teste.agente.codigo", `{"data":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", body["code"])
}

func TestWebhookIgnoresOwnAndEmptyMessages(t *testing.T) {
	f := newFixture(t, llm.NewMockModel(), nil)

	_, body := postJSON(t, f.srv.URL+"/webhook/teste.agente.codigo",
		`{"data":{"key":{"remoteJid":"1@s.whatsapp.net","fromMe":true},"message":{"conversation":"eco"}}}`)
	assert.Equal(t, "ignored", body["status"])
	assert.Equal(t, "from_me", body["reason"])

	_, body = postJSON(t, f.srv.URL+"/webhook/teste.agente.codigo", `{"sender":"u1"}`)
	assert.Equal(t, "ignored", body["status"])
	assert.Equal(t, "no_text", body["reason"])

	assert.Empty(t, f.sender.sent)
}

func TestWebhookDegradedAndSendFailure(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.sender.err = errors.New("evolution down")

	_, body := postJSON(t, f.srv.URL+"/webhook/teste.agente.codigo", `{"sender":"u1","message":"oi"}`)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, session.DefaultFallbackReply, body["reply"])
	assert.Equal(t, false, body["sent"])
	assert.Equal(t, "evolution down", body["error"])

	n, err := f.store.CountContext(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWebhookTurnFailureRepliesWithReceipt(t *testing.T) {
	f := newFixture(t, nil, func(d *Deps) {
		d.Turns = failingRunner{err: &session.ModelInvocationError{Err: errors.New("boom")}}
	})
	_, body := postJSON(t, f.srv.URL+"/webhook/teste.agente.codigo", `{"sender":"u1@s.whatsapp.net","message":"oi"}`)
	assert.Equal(t, "Recebido: oi", body["reply"])
	assert.Equal(t, true, body["sent"])
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "u1", f.sender.sent[0].number)
}

func TestWebhookTurnFailureMarksRootSpan(t *testing.T) {
	f := newFixture(t, nil, func(d *Deps) {
		d.Turns = failingRunner{err: &session.ModelInvocationError{Err: errors.New("boom")}}
	})
	_, _ = postJSON(t, f.srv.URL+"/webhook/teste.agente.codigo", `{"sender":"u1@s.whatsapp.net","message":"oi"}`)

	_, snap := getJSON(t, f.srv.URL+"/v1/perf/spans")
	spans, ok := snap["spans"].([]any)
	require.True(t, ok)
	var root map[string]any
	for _, raw := range spans {
		if s := raw.(map[string]any); s["span"] == observability.SpanWebhook {
			root = s
		}
	}
	require.NotNil(t, root)
	assert.EqualValues(t, 1, root["errors"])
	assert.Equal(t, "error", root["last_status"])
}

func TestWebhookAnonymousEventIsNotSent(t *testing.T) {
	f := newFixture(t, llm.NewMockModel(), nil)

	_, body := postJSON(t, f.srv.URL+"/webhook/teste.agente.codigo", `{"message":"oi"}`)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Recebido: oi", body["reply"])
	assert.Equal(t, false, body["sent"])
	assert.Equal(t, "no recipient", body["error"])
	assert.Empty(t, f.sender.sent)
}

func TestWebhookWithoutSender(t *testing.T) {
	f := newFixture(t, llm.NewMockModel(), func(d *Deps) { d.Sender = nil })
	_, body := postJSON(t, f.srv.URL+"/webhook/teste.agente.codigo", `{"sender":"u1","message":"oi"}`)
	assert.Equal(t, false, body["sent"])
	assert.Contains(t, body["error"], "not configured")
}

func TestDebugChain(t *testing.T) {
	f := newFixture(t, llm.NewMockModel(), nil)

	code, body := getJSON(t, f.srv.URL+"/debug/chain?text=oi")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "Recebido: oi", body["reply"])
	assert.EqualValues(t, 2, body["context_size"])
	assert.NotEmpty(t, body["trace_id"])

	n, err := f.store.CountContext(context.Background(), DebugUserID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	code, _ = getJSON(t, f.srv.URL+"/debug/chain")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDebugChainError(t *testing.T) {
	f := newFixture(t, nil, func(d *Deps) {
		d.Turns = failingRunner{err: errors.New("boom")}
	})
	_, body := getJSON(t, f.srv.URL+"/debug/chain?text=oi")
	assert.Equal(t, "Erro ao executar cadeia.", body["reply"])
	assert.Nil(t, body["usage"])
	assert.EqualValues(t, 0, body["context_size"])
}

func TestDebugTraceAndPerfSpans(t *testing.T) {
	f := newFixture(t, llm.NewMockModel(), nil)

	_, body := getJSON(t, f.srv.URL+"/debug/trace")
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, body["trace_id"])

	code, snap := getJSON(t, f.srv.URL+"/v1/perf/spans")
	require.Equal(t, http.StatusOK, code)
	spans, ok := snap["spans"].([]any)
	require.True(t, ok)
	assert.Len(t, spans, 2)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, llm.NewMockModel(), nil)
	_, _ = getJSON(t, f.srv.URL+"/debug/chain?text=oi")

	res, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `test_turns_total{outcome="ok"} 1`)
}

func TestChatWebsocket(t *testing.T) {
	f := newFixture(t, llm.NewMockModel(), nil)
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/chat/ws?user_id=ws-user"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello protocol.SystemEvent
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, protocol.TypeSystemEvent, hello.Type)
	assert.Equal(t, "connected", hello.Code)
	assert.NotEmpty(t, hello.ConnectionID)

	require.NoError(t, conn.WriteJSON(protocol.ClientTurn{Type: protocol.TypeClientTurn, Text: "lembrar: chá", MessageID: "m1"}))
	var result protocol.TurnResult
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, protocol.TypeTurnResult, result.Type)
	assert.Equal(t, "m1", result.MessageID)
	assert.Equal(t, 2, result.ContextSize)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "chá", result.Events[0].Item)
	assert.NotEmpty(t, result.TraceID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	var errEv protocol.ErrorEvent
	require.NoError(t, conn.ReadJSON(&errEv))
	assert.Equal(t, protocol.TypeErrorEvent, errEv.Type)
	assert.Equal(t, "invalid_client_message", errEv.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("tudo bem?")))
	require.NoError(t, conn.ReadJSON(&result))
	assert.Equal(t, 4, result.ContextSize)
}

func TestTurnErrorEventClassification(t *testing.T) {
	ev := turnErrorEvent("m1", &session.ModelInvocationError{Err: context.DeadlineExceeded, Transient: true})
	assert.Equal(t, "model_invocation_failed", ev.Code)
	assert.True(t, ev.Retryable)

	ev = turnErrorEvent("m2", &memory.StorageError{Op: "append turns", Err: errors.New("disk")})
	assert.Equal(t, "storage_failed", ev.Code)

	ev = turnErrorEvent("m3", errors.New("other"))
	assert.Equal(t, "internal_error", ev.Code)
	assert.False(t, ev.Retryable)
}
