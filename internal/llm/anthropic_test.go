package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicModelInvoke(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"olá, "},{"type":"text","text":"tudo bem"}],
			"stop_reason":"end_turn","stop_sequence":null,
			"usage":{"input_tokens":20,"output_tokens":5}
		}`))
	}))
	defer srv.Close()

	m := NewAnthropicModel(Config{AnthropicAPIKey: "ak-test", AnthropicBaseURL: srv.URL, AnthropicModel: "claude-test"})
	resp, err := m.Invoke(context.Background(), []Message{
		{Role: RoleSystem, Content: "seja breve"},
		{Role: RoleSystem, Content: "Preferências lembradas: jazz."},
		{Role: RoleHuman, Content: "oi"},
		{Role: RoleAgent, Content: "olá"},
		{Role: RoleHuman, Content: "como vai?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "olá, tudo bem", resp.Content)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, int64(25), resp.Usage.TotalTokens)

	assert.Equal(t, "claude-test", body["model"])
	system, ok := body["system"].([]any)
	require.True(t, ok, "system = %#v", body["system"])
	assert.Len(t, system, 2)
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 3)
	var roles []string
	for _, raw := range msgs {
		roles = append(roles, raw.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"user", "assistant", "user"}, roles)
}

func TestAnthropicModelErrorIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`))
	}))
	defer srv.Close()

	m := NewAnthropicModel(Config{AnthropicAPIKey: "ak-test", AnthropicBaseURL: srv.URL})
	_, err := m.Invoke(context.Background(), []Message{{Role: RoleHuman, Content: "oi"}})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
