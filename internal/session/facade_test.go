package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/relay/internal/extract"
	"github.com/antoniostano/relay/internal/llm"
	"github.com/antoniostano/relay/internal/memory"
)

type scriptedModel struct {
	mu    sync.Mutex
	reply string
	usage *llm.Usage
	err   error
	block bool
	seen  [][]llm.Message
}

func (m *scriptedModel) Invoke(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	m.mu.Lock()
	m.seen = append(m.seen, append([]llm.Message(nil), messages...))
	m.mu.Unlock()
	if m.block {
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	}
	if m.err != nil {
		return llm.Response{}, m.err
	}
	return llm.Response{Content: m.reply, Usage: m.usage}, nil
}

func (m *scriptedModel) last() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[len(m.seen)-1]
}

func newFacade(store memory.Store, model llm.Model) *Facade {
	return NewFacade(store, model, Config{SystemPrompt: "sys", MaxMessages: 16})
}

func TestRunTurnPersistsExchange(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	model := &scriptedModel{reply: "olá", usage: &llm.Usage{InputTokens: 3, OutputTokens: 1, TotalTokens: 4}}
	f := newFacade(store, model)

	res, err := f.RunTurn(ctx, "oi", "u1")
	require.NoError(t, err)
	assert.Equal(t, "olá", res.Reply)
	assert.Equal(t, 2, res.ContextSize)
	assert.Empty(t, res.Events)
	assert.False(t, res.Degraded)
	require.NotNil(t, res.Usage)
	assert.Equal(t, int64(4), res.Usage.TotalTokens)

	history, err := store.GetHistory(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, memory.RoleHuman, history[0].Role)
	assert.Equal(t, "oi", history[0].Content)
	assert.Equal(t, memory.RoleAgent, history[1].Role)
	assert.Equal(t, "olá", history[1].Content)

	_, err = f.RunTurn(ctx, "tudo bem?", "u1")
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleHuman, Content: "oi"},
		{Role: llm.RoleAgent, Content: "olá"},
		{Role: llm.RoleHuman, Content: "tudo bem?"},
	}, model.last())
}

func TestRunTurnRememberReachesNextPrompt(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	model := &scriptedModel{reply: "anotado"}
	f := newFacade(store, model)

	res, err := f.RunTurn(ctx, "lembrar: gosta de jazz", "u1")
	require.NoError(t, err)
	assert.Equal(t, []extract.Event{{Type: extract.EventRemember, Item: "gosta de jazz"}}, res.Events)

	prefs, err := store.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"gosta de jazz"}, prefs)
	assert.Contains(t, model.last(), llm.Message{Role: llm.RoleSystem, Content: "Preferências lembradas: gosta de jazz."})

	_, err = f.RunTurn(ctx, "que música eu gosto?", "u1")
	require.NoError(t, err)
	assert.Contains(t, model.last(), llm.Message{Role: llm.RoleSystem, Content: "Preferências lembradas: gosta de jazz."})
}

func TestRunTurnSixPreferencesEvictOldest(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	f := newFacade(store, &scriptedModel{reply: "ok"})

	for _, item := range []string{"p1", "p2", "p3", "p4", "p5", "p6"} {
		_, err := f.RunTurn(ctx, "lembrar: "+item, "u1")
		require.NoError(t, err)
	}
	prefs, err := store.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p6", "p5", "p4", "p3", "p2"}, prefs)
}

func TestRunTurnForgetClearsPreferences(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	model := &scriptedModel{reply: "ok"}
	f := newFacade(store, model)

	_, err := f.RunTurn(ctx, "lembrar: chá", "u1")
	require.NoError(t, err)
	res, err := f.RunTurn(ctx, "pode esquecer tudo", "u1")
	require.NoError(t, err)
	assert.Equal(t, []extract.Event{{Type: extract.EventForget}}, res.Events)

	prefs, err := store.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, prefs)
	for _, m := range model.last() {
		assert.NotContains(t, m.Content, PreferencePrefix)
	}
}

func TestRunTurnWithoutModelReturnsFallback(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	require.NoError(t, store.AppendTurn(ctx, "u1", memory.RoleHuman, "antes"))
	f := newFacade(store, nil)
	require.False(t, f.Available())

	res, err := f.RunTurn(ctx, "lembrar: algo", "u1")
	require.NoError(t, err)
	assert.Equal(t, DefaultFallbackReply, res.Reply)
	assert.True(t, res.Degraded)
	assert.Nil(t, res.Usage)
	assert.Equal(t, 1, res.ContextSize)
	assert.Empty(t, res.Events)

	n, err := store.CountContext(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	prefs, err := store.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, prefs)

	anon, err := f.RunTurn(ctx, "oi", "")
	require.NoError(t, err)
	assert.Zero(t, anon.ContextSize)
}

func TestRunTurnAnonymousWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	model := &scriptedModel{reply: "olá"}
	f := newFacade(store, model)

	res, err := f.RunTurn(ctx, "lembrar: segredo", "")
	require.NoError(t, err)
	assert.Equal(t, "olá", res.Reply)
	assert.Zero(t, res.ContextSize)
	assert.Empty(t, res.Events)
	assert.Len(t, model.last(), 2)
}

func TestRunTurnModelErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	f := newFacade(store, &scriptedModel{err: &llm.StatusError{Provider: "openai", Code: 503}})

	_, err := f.RunTurn(ctx, "oi", "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelInvocation)
	assert.False(t, errors.Is(err, memory.ErrStorage))

	var mie *ModelInvocationError
	require.ErrorAs(t, err, &mie)
	assert.True(t, mie.Transient)

	n, err := store.CountContext(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunTurnModelTimeout(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	f := NewFacade(store, &scriptedModel{block: true}, Config{
		SystemPrompt: "sys",
		MaxMessages:  16,
		ModelTimeout: 20 * time.Millisecond,
	})

	_, err := f.RunTurn(ctx, "oi", "u1")
	require.ErrorIs(t, err, ErrModelInvocation)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	n, err := store.CountContext(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunTurnStorageErrorPropagates(t *testing.T) {
	ctx := context.Background()
	store, err := memory.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	f := newFacade(store, &scriptedModel{reply: "olá"})
	_, err = f.RunTurn(ctx, "oi", "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrStorage)
	assert.False(t, errors.Is(err, ErrModelInvocation))
}

type countFailingStore struct {
	memory.Store
}

func (countFailingStore) CountContext(context.Context, string, int64) (int, error) {
	return 0, &memory.StorageError{Op: "count context", Err: errors.New("busy")}
}

func TestRunTurnCountFailureKeepsReply(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewInMemoryStore()
	f := newFacade(countFailingStore{Store: inner}, &scriptedModel{reply: "olá"})

	res, err := f.RunTurn(ctx, "oi", "u1")
	require.NoError(t, err)
	assert.Equal(t, "olá", res.Reply)
	assert.Equal(t, 0, res.ContextSize)

	turns, err := inner.GetHistory(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "olá", turns[1].Content)
}

type fixedDetector struct{}

func (fixedDetector) Detect(text string) extract.Intent {
	return extract.Intent{Remember: true, Item: "fixo"}
}

func TestRunTurnUsesCustomDetector(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	f := NewFacade(store, &scriptedModel{reply: "ok"}, Config{}, WithDetector(fixedDetector{}))

	res, err := f.RunTurn(ctx, "qualquer coisa", "u1")
	require.NoError(t, err)
	assert.Equal(t, []extract.Event{{Type: extract.EventRemember, Item: "fixo"}}, res.Events)
}

func TestRunTurnConcurrentUsers(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	f := newFacade(store, &scriptedModel{reply: "ok"})

	var wg sync.WaitGroup
	for _, u := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := f.RunTurn(ctx, "msg", user)
				assert.NoError(t, err)
			}
		}(u)
	}
	wg.Wait()

	for _, u := range []string{"a", "b", "c", "d"} {
		n, err := store.CountContext(ctx, u, 0)
		require.NoError(t, err)
		assert.Equal(t, 20, n)
	}
}
