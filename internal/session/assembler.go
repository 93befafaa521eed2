package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/relay/internal/llm"
	"github.com/antoniostano/relay/internal/memory"
)

// PreferencePrefix opens the system entry that lists remembered preferences.
const PreferencePrefix = "Preferências lembradas: "

// maxPromptPreferences caps how many remembered items reach the prompt,
// independently of how many the store keeps.
const maxPromptPreferences = 5

// ContextReader is the read side of the memory store used to build prompts.
type ContextReader interface {
	GetHistory(ctx context.Context, userID string, limit int, ttlSeconds int64) ([]memory.Turn, error)
	GetPreferences(ctx context.Context, userID string) ([]string, error)
}

// Assembler builds the ordered message sequence handed to the model.
type Assembler struct {
	store        ContextReader
	systemPrompt string
	maxMessages  int
	ttlSeconds   int64
}

func NewAssembler(store ContextReader, systemPrompt string, maxMessages int, ttlSeconds int64) *Assembler {
	return &Assembler{
		store:        store,
		systemPrompt: systemPrompt,
		maxMessages:  maxMessages,
		ttlSeconds:   ttlSeconds,
	}
}

// Assemble returns the system directive, the remembered preferences, the
// windowed history oldest first and finally text as the newest human message.
// An anonymous caller gets only the directive and text.
func (a *Assembler) Assemble(ctx context.Context, userID, text string) ([]llm.Message, error) {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: a.systemPrompt}}

	if userID != "" {
		prefs, err := a.store.GetPreferences(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load preferences: %w", err)
		}
		if summary := PreferenceSummary(prefs); summary != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: summary})
		}

		history, err := a.store.GetHistory(ctx, userID, a.maxMessages, a.ttlSeconds)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		for _, t := range history {
			switch t.Role {
			case memory.RoleHuman:
				msgs = append(msgs, llm.Message{Role: llm.RoleHuman, Content: t.Content})
			case memory.RoleAgent:
				msgs = append(msgs, llm.Message{Role: llm.RoleAgent, Content: t.Content})
			}
		}
	}

	return append(msgs, llm.Message{Role: llm.RoleHuman, Content: text}), nil
}

// PreferenceSummary renders up to five most-recent-first items, or "" for none.
func PreferenceSummary(prefs []string) string {
	if len(prefs) == 0 {
		return ""
	}
	if len(prefs) > maxPromptPreferences {
		prefs = prefs[:maxPromptPreferences]
	}
	return PreferencePrefix + strings.Join(prefs, ", ") + "."
}
