package extract

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/antoniostano/relay/internal/observability"
	"github.com/antoniostano/relay/internal/policy"
)

// Event types emitted for observability.
const (
	EventRemember = "memory_remember"
	EventForget   = "memory_forget"
)

// Event records one memory mutation triggered by inbound text.
type Event struct {
	Type string `json:"type"`
	Item string `json:"item,omitempty"`
}

// PreferenceStore is the slice of the memory store the extractor mutates.
type PreferenceStore interface {
	AddPreference(ctx context.Context, userID, item string, maxItems int) error
	ClearPreferences(ctx context.Context, userID string) error
}

// Extractor applies detected memory commands to a store.
type Extractor struct {
	store          PreferenceStore
	detector       Detector
	maxPreferences int
	log            zerolog.Logger
}

func New(store PreferenceStore, detector Detector, maxPreferences int, log zerolog.Logger) *Extractor {
	if detector == nil {
		detector = NewKeywordDetector(nil, nil)
	}
	return &Extractor{
		store:          store,
		detector:       detector,
		maxPreferences: maxPreferences,
		log:            log.With().Str("component", "extract").Logger(),
	}
}

// Apply runs detection for an identified user. Remember is applied before
// forget when both fire. Anonymous input is never inspected.
func (e *Extractor) Apply(ctx context.Context, userID, text string) ([]Event, error) {
	if userID == "" {
		return nil, nil
	}

	intent := e.detector.Detect(text)
	var events []Event

	if intent.Remember && intent.Item != "" {
		_, span := observability.StartSpan(ctx, EventRemember)
		span.SetAttr("item", policy.Redact(intent.Item))
		err := e.store.AddPreference(ctx, userID, intent.Item, e.maxPreferences)
		span.End(err)
		if err != nil {
			return events, fmt.Errorf("remember preference: %w", err)
		}
		events = append(events, Event{Type: EventRemember, Item: intent.Item})
		e.log.Debug().Str("user_id", policy.MaskUserID(userID)).Msg("preference remembered")
	}
	if intent.Forget {
		_, span := observability.StartSpan(ctx, EventForget)
		err := e.store.ClearPreferences(ctx, userID)
		span.End(err)
		if err != nil {
			return events, fmt.Errorf("forget preferences: %w", err)
		}
		events = append(events, Event{Type: EventForget})
		e.log.Debug().Str("user_id", policy.MaskUserID(userID)).Msg("preferences cleared")
	}
	return events, nil
}
