// Package messaging dispatches agent replies through the Evolution API.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/antoniostano/relay/internal/reliability"
)

// ErrNotConfigured is returned by SendText when no Evolution endpoint is set.
var ErrNotConfigured = errors.New("messaging: evolution api not configured")

const (
	DefaultTimeout        = 15 * time.Second
	DefaultInitialBackoff = 250 * time.Millisecond
)

// Sender delivers a text message to a chat number.
type Sender interface {
	SendText(ctx context.Context, number, text string) (map[string]any, error)
}

type Config struct {
	BaseURL  string
	Token    string
	Instance string
	Timeout  time.Duration
	// MaxAttempts bounds sends per message; values below 1 mean one.
	MaxAttempts    int
	InitialBackoff time.Duration
}

// Configured reports whether every Evolution setting is present.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.BaseURL) != "" &&
		strings.TrimSpace(c.Token) != "" &&
		strings.TrimSpace(c.Instance) != ""
}

// StatusError is a non-2xx answer from the Evolution API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("evolution http status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the same send could succeed later.
func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

// EvolutionClient posts text messages to one Evolution instance.
type EvolutionClient struct {
	cfg    Config
	client *resty.Client
}

func NewEvolutionClient(cfg Config) *EvolutionClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("apikey", cfg.Token).
		// localtunnel interposes a reminder page without this header
		SetHeader("bypass-tunnel-reminder", "1")
	return &EvolutionClient{cfg: cfg, client: c}
}

type sendTextRequest struct {
	Number  string         `json:"number"`
	Text    string         `json:"text"`
	Options map[string]any `json:"options"`
}

// SendText posts text to number and returns the decoded API answer.
func (c *EvolutionClient) SendText(ctx context.Context, number, text string) (map[string]any, error) {
	if !c.cfg.Configured() {
		return nil, ErrNotConfigured
	}
	if number == "" {
		return nil, fmt.Errorf("send text: empty number")
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.InitialBackoff
	exp.Multiplier = 2
	exp.MaxInterval = 4 * c.cfg.InitialBackoff
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.cfg.MaxAttempts-1)), ctx)

	var out map[string]any
	err := backoff.Retry(func() error {
		res, err := c.send(ctx, number, text)
		if err != nil {
			if !undelivered(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = res
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EvolutionClient) send(ctx context.Context, number, text string) (map[string]any, error) {
	var out map[string]any
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("instance", c.cfg.Instance).
		SetBody(sendTextRequest{
			Number:  number,
			Text:    text,
			Options: map[string]any{"linkPreview": true},
		}).
		SetResult(&out).
		Post("/message/sendText/{instance}")
	if err != nil {
		return nil, fmt.Errorf("send text: %w", err)
	}
	if resp.IsError() {
		body := resp.String()
		if len(body) > 1024 {
			body = body[:1024]
		}
		return nil, &StatusError{Code: resp.StatusCode(), Body: body}
	}
	return out, nil
}

// undelivered reports failures where the message cannot have reached the
// recipient, so resending cannot duplicate it. A 500 or a timeout may have
// been delivered and is not retried.
func undelivered(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

// NumberFromUserID strips the chat domain from ids like
// "5511999990000@s.whatsapp.net".
func NumberFromUserID(userID string) string {
	number, _, _ := strings.Cut(userID, "@")
	return number
}
