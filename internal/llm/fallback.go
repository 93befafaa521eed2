package llm

import (
	"context"
	"errors"
	"fmt"
)

// FallbackModel attempts a primary model first and falls back on error.
type FallbackModel struct {
	primary  Model
	fallback Model
}

func NewFallbackModel(primary Model, fallback Model) *FallbackModel {
	return &FallbackModel{
		primary:  primary,
		fallback: fallback,
	}
}

// Primary returns the preferred model used before fallback.
func (m *FallbackModel) Primary() Model {
	if m == nil {
		return nil
	}
	return m.primary
}

// Secondary returns the fallback model.
func (m *FallbackModel) Secondary() Model {
	if m == nil {
		return nil
	}
	return m.fallback
}

func (m *FallbackModel) Invoke(ctx context.Context, messages []Message) (Response, error) {
	if m == nil || m.primary == nil {
		if m != nil && m.fallback != nil {
			return m.fallback.Invoke(ctx, messages)
		}
		return Response{}, fmt.Errorf("fallback model misconfigured")
	}

	resp, err := m.primary.Invoke(ctx, messages)
	if err == nil {
		return resp, nil
	}
	// A spent deadline belongs to the caller; don't burn it on a second provider.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return Response{}, err
	}
	if m.fallback == nil {
		return Response{}, err
	}

	fallbackResp, fallbackErr := m.fallback.Invoke(ctx, messages)
	if fallbackErr != nil {
		return Response{}, fmt.Errorf("primary model error: %w; fallback model error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
