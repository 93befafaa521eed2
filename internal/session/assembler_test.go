package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/relay/internal/llm"
	"github.com/antoniostano/relay/internal/memory"
	"github.com/antoniostano/relay/internal/memory/storetest"
)

func TestAssembleOrdersContext(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	require.NoError(t, store.AppendTurn(ctx, "u1", memory.RoleHuman, "oi"))
	require.NoError(t, store.AppendTurn(ctx, "u1", memory.RoleAgent, "olá"))
	require.NoError(t, store.AddPreference(ctx, "u1", "jazz", 5))
	require.NoError(t, store.AddPreference(ctx, "u1", "café", 5))

	a := NewAssembler(store, "seja breve", 16, 0)
	msgs, err := a.Assemble(ctx, "u1", "tudo bem?")
	require.NoError(t, err)

	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "seja breve"},
		{Role: llm.RoleSystem, Content: "Preferências lembradas: café, jazz."},
		{Role: llm.RoleHuman, Content: "oi"},
		{Role: llm.RoleAgent, Content: "olá"},
		{Role: llm.RoleHuman, Content: "tudo bem?"},
	}, msgs)
}

func TestAssembleAnonymous(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	require.NoError(t, store.AppendTurn(ctx, "u1", memory.RoleHuman, "oi"))

	msgs, err := NewAssembler(store, "sys", 16, 0).Assemble(ctx, "", "olá")
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleHuman, Content: "olá"},
	}, msgs)
}

func TestAssembleAppliesWindow(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock(1_000)
	store := memory.NewInMemoryStore(clock.Option())
	require.NoError(t, store.AppendTurn(ctx, "u1", memory.RoleHuman, "velho"))
	clock.Advance(100)
	for _, c := range []string{"a", "b", "c"} {
		require.NoError(t, store.AppendTurn(ctx, "u1", memory.RoleHuman, c))
	}

	msgs, err := NewAssembler(store, "sys", 2, 50).Assemble(ctx, "u1", "agora")
	require.NoError(t, err)
	var contents []string
	for _, m := range msgs {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"sys", "b", "c", "agora"}, contents)
}

func TestPreferenceSummary(t *testing.T) {
	assert.Empty(t, PreferenceSummary(nil))
	assert.Equal(t, "Preferências lembradas: a.", PreferenceSummary([]string{"a"}))
	assert.Equal(t,
		"Preferências lembradas: 7, 6, 5, 4, 3.",
		PreferenceSummary([]string{"7", "6", "5", "4", "3", "2", "1"}),
	)
}
