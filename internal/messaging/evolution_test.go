package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendTextPostsToInstance(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/message/sendText/inst-1", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("apikey"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"key":{"id":"ABC"},"status":"PENDING"}`))
	}))
	defer srv.Close()

	c := NewEvolutionClient(Config{BaseURL: srv.URL + "/", Token: "tok", Instance: "inst-1"})
	out, err := c.SendText(context.Background(), "5511999990000", "olá")
	require.NoError(t, err)
	assert.Equal(t, "PENDING", out["status"])

	assert.Equal(t, "5511999990000", body["number"])
	assert.Equal(t, "olá", body["text"])
	assert.Equal(t, map[string]any{"linkPreview": true}, body["options"])
}

func TestSendTextStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewEvolutionClient(Config{BaseURL: srv.URL, Token: "tok", Instance: "i"})
	_, err := c.SendText(context.Background(), "1", "x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.True(t, se.Retryable())
}

func TestSendTextRetriesUndeliveredStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"PENDING"}`))
	}))
	defer srv.Close()

	c := NewEvolutionClient(Config{
		BaseURL: srv.URL, Token: "tok", Instance: "i",
		MaxAttempts: 3, InitialBackoff: time.Millisecond,
	})
	out, err := c.SendText(context.Background(), "1", "x")
	require.NoError(t, err)
	assert.Equal(t, "PENDING", out["status"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendTextDoesNotRetryInternalError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewEvolutionClient(Config{
		BaseURL: srv.URL, Token: "tok", Instance: "i",
		MaxAttempts: 3, InitialBackoff: time.Millisecond,
	})
	_, err := c.SendText(context.Background(), "1", "x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendTextGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewEvolutionClient(Config{
		BaseURL: srv.URL, Token: "tok", Instance: "i",
		MaxAttempts: 2, InitialBackoff: time.Millisecond,
	})
	_, err := c.SendText(context.Background(), "1", "x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendTextNotConfigured(t *testing.T) {
	_, err := NewEvolutionClient(Config{BaseURL: "http://x"}).SendText(context.Background(), "1", "x")
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestNumberFromUserID(t *testing.T) {
	assert.Equal(t, "5511999990000", NumberFromUserID("5511999990000@s.whatsapp.net"))
	assert.Equal(t, "plain", NumberFromUserID("plain"))
	assert.Equal(t, "", NumberFromUserID(""))
}
