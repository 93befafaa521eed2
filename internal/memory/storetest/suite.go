// Package storetest is a conformance suite shared by every memory.Store backend.
package storetest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/relay/internal/memory"
)

// Clock is a manually advanced time source measured in whole seconds.
type Clock struct {
	sec atomic.Int64
}

func NewClock(start int64) *Clock {
	c := &Clock{}
	c.sec.Store(start)
	return c
}

func (c *Clock) Now() time.Time { return time.Unix(c.sec.Load(), 0) }

// Advance moves the clock by d seconds; negative values step it back.
func (c *Clock) Advance(d int64) { c.sec.Add(d) }

func (c *Clock) Option() memory.Option { return memory.WithClock(c.Now) }

// MakeStore returns a clean store whose time source is clock.
type MakeStore func(t *testing.T, clock *Clock) memory.Store

// Run exercises the Store contract against a backend.
func Run(t *testing.T, makeStore MakeStore) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s memory.Store, clock *Clock)
	}{
		{"AppendAndReadBack", testAppendAndReadBack},
		{"HistoryPreservesAppendOrder", testHistoryPreservesAppendOrder},
		{"HistoryLimitKeepsMostRecent", testHistoryLimitKeepsMostRecent},
		{"HistoryUnboundedLimit", testHistoryUnboundedLimit},
		{"HistoryTTLFilter", testHistoryTTLFilter},
		{"HistoryRejectsNegativeWindow", testHistoryRejectsNegativeWindow},
		{"AppendRejectsInvalidInput", testAppendRejectsInvalidInput},
		{"TimestampsNeverDecrease", testTimestampsNeverDecrease},
		{"UsersAreIsolated", testUsersAreIsolated},
		{"PreferenceIdempotent", testPreferenceIdempotent},
		{"PreferenceCapEvictsOldest", testPreferenceCapEvictsOldest},
		{"PreferenceCapSameSecond", testPreferenceCapSameSecond},
		{"ClearPreferences", testClearPreferences},
		{"ConcurrentAppendsSameUser", testConcurrentAppendsSameUser},
		{"ConcurrentPreferencesSameUser", testConcurrentPreferencesSameUser},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := NewClock(1_700_000_000)
			s := makeStore(t, clock)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s, clock)
		})
	}
}

func newUser() string { return "u-" + uuid.NewString() }

func pairs(turns []memory.Turn) [][2]string {
	out := make([][2]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, [2]string{string(t.Role), t.Content})
	}
	return out
}

func testAppendAndReadBack(t *testing.T, s memory.Store, _ *Clock) {
	ctx := context.Background()
	user := newUser()
	require.NoError(t, s.AppendTurn(ctx, user, memory.RoleHuman, "oi"))
	require.NoError(t, s.AppendTurn(ctx, user, memory.RoleAgent, "olá"))

	got, err := s.GetHistory(ctx, user, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"human", "oi"}, {"ai", "olá"}}, pairs(got))
	for _, turn := range got {
		assert.Equal(t, user, turn.UserID)
	}
}

func testHistoryPreservesAppendOrder(t *testing.T, s memory.Store, clock *Clock) {
	ctx := context.Background()
	user := newUser()
	var want [][2]string
	for i := 0; i < 25; i++ {
		role := memory.RoleHuman
		if i%2 == 1 {
			role = memory.RoleAgent
		}
		content := fmt.Sprintf("msg-%02d", i)
		require.NoError(t, s.AppendTurn(ctx, user, role, content))
		want = append(want, [2]string{string(role), content})
		if i%7 == 0 {
			clock.Advance(1)
		}
	}

	got, err := s.GetHistory(ctx, user, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, want, pairs(got))

	n, err := s.CountContext(ctx, user, 0)
	require.NoError(t, err)
	assert.Equal(t, 25, n)
}

func testHistoryLimitKeepsMostRecent(t *testing.T, s memory.Store, clock *Clock) {
	ctx := context.Background()
	user := newUser()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.AppendTurn(ctx, user, memory.RoleHuman, fmt.Sprintf("m%d", i)))
		clock.Advance(1)
	}

	got, err := s.GetHistory(ctx, user, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"human", "m7"}, {"human", "m8"}, {"human", "m9"}}, pairs(got))

	got, err = s.GetHistory(ctx, user, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.GetHistory(ctx, user, 50, 0)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func testHistoryUnboundedLimit(t *testing.T, s memory.Store, _ *Clock) {
	ctx := context.Background()
	user := newUser()
	require.NoError(t, s.AppendTurn(ctx, user, memory.RoleHuman, "oi"))
	require.NoError(t, s.AppendTurn(ctx, user, memory.RoleAgent, "olá"))

	got, err := s.GetHistory(ctx, user, math.MaxInt, 0)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"human", "oi"}, {"ai", "olá"}}, pairs(got))

	got, err = s.GetHistory(ctx, newUser(), math.MaxInt, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testHistoryTTLFilter(t *testing.T, s memory.Store, clock *Clock) {
	ctx := context.Background()
	user := newUser()
	require.NoError(t, s.AppendTurn(ctx, user, memory.RoleHuman, "old"))
	clock.Advance(100)
	require.NoError(t, s.AppendTurn(ctx, user, memory.RoleHuman, "new"))

	got, err := s.GetHistory(ctx, user, 10, 50)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"human", "new"}}, pairs(got))
	n, err := s.CountContext(ctx, user, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The boundary is inclusive.
	got, err = s.GetHistory(ctx, user, 10, 100)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.GetHistory(ctx, user, 10, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	n, err = s.CountContext(ctx, user, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Filtering never deletes.
	clock.Advance(10_000)
	n, err = s.CountContext(ctx, user, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = s.CountContext(ctx, user, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testHistoryRejectsNegativeWindow(t *testing.T, s memory.Store, _ *Clock) {
	ctx := context.Background()
	_, err := s.GetHistory(ctx, newUser(), -1, 0)
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)
	_, err = s.GetHistory(ctx, newUser(), 1, -5)
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)
	_, err = s.CountContext(ctx, newUser(), -5)
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)
}

func testAppendRejectsInvalidInput(t *testing.T, s memory.Store, _ *Clock) {
	ctx := context.Background()
	assert.ErrorIs(t, s.AppendTurn(ctx, "", memory.RoleHuman, "x"), memory.ErrInvalidArgument)
	assert.ErrorIs(t, s.AppendTurn(ctx, newUser(), memory.Role("system"), "x"), memory.ErrInvalidArgument)
	assert.ErrorIs(t, s.AddPreference(ctx, "", "x", 5), memory.ErrInvalidArgument)
}

func testTimestampsNeverDecrease(t *testing.T, s memory.Store, clock *Clock) {
	ctx := context.Background()
	user := newUser()
	require.NoError(t, s.AppendTurn(ctx, user, memory.RoleHuman, "first"))
	clock.Advance(-30)
	require.NoError(t, s.AppendTurn(ctx, user, memory.RoleAgent, "second"))

	got, err := s.GetHistory(ctx, user, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, "second", got[1].Content)
	assert.LessOrEqual(t, got[0].Timestamp, got[1].Timestamp)
}

func testUsersAreIsolated(t *testing.T, s memory.Store, _ *Clock) {
	ctx := context.Background()
	a, b := newUser(), newUser()
	require.NoError(t, s.AppendTurn(ctx, a, memory.RoleHuman, "from a"))
	require.NoError(t, s.AddPreference(ctx, a, "a likes tea", 5))

	got, err := s.GetHistory(ctx, b, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	prefs, err := s.GetPreferences(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, prefs)

	require.NoError(t, s.ClearPreferences(ctx, b))
	prefs, err = s.GetPreferences(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{"a likes tea"}, prefs)
}

func testPreferenceIdempotent(t *testing.T, s memory.Store, _ *Clock) {
	ctx := context.Background()
	user := newUser()
	require.NoError(t, s.AddPreference(ctx, user, "gosta de café", 5))
	require.NoError(t, s.AddPreference(ctx, user, "gosta de café", 5))
	// Matching is exact and case-sensitive.
	require.NoError(t, s.AddPreference(ctx, user, "Gosta de café", 5))

	prefs, err := s.GetPreferences(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"Gosta de café", "gosta de café"}, prefs)
}

func testPreferenceCapEvictsOldest(t *testing.T, s memory.Store, clock *Clock) {
	ctx := context.Background()
	user := newUser()
	items := []string{"gosta de café", "mora em recife", "tem um gato", "prefere chá à tarde", "toca violão"}
	for _, item := range items {
		require.NoError(t, s.AddPreference(ctx, user, item, 5))
		clock.Advance(1)
	}
	require.NoError(t, s.AddPreference(ctx, user, "gosta de jazz", 5))

	prefs, err := s.GetPreferences(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"gosta de jazz", "toca violão", "prefere chá à tarde", "tem um gato", "mora em recife"}, prefs)
	assert.NotContains(t, prefs, "gosta de café")
}

func testPreferenceCapSameSecond(t *testing.T, s memory.Store, _ *Clock) {
	ctx := context.Background()
	user := newUser()
	for i := 0; i < 6; i++ {
		require.NoError(t, s.AddPreference(ctx, user, fmt.Sprintf("p%d", i), 3))
	}
	// Re-adding a retained item neither duplicates nor refreshes it.
	require.NoError(t, s.AddPreference(ctx, user, "p4", 3))

	prefs, err := s.GetPreferences(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"p5", "p4", "p3"}, prefs)
}

func testClearPreferences(t *testing.T, s memory.Store, _ *Clock) {
	ctx := context.Background()
	user := newUser()
	require.NoError(t, s.ClearPreferences(ctx, user))
	require.NoError(t, s.AddPreference(ctx, user, "x", 5))
	require.NoError(t, s.AddPreference(ctx, user, "y", 5))
	require.NoError(t, s.ClearPreferences(ctx, user))

	prefs, err := s.GetPreferences(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, prefs)

	require.NoError(t, s.AddPreference(ctx, user, "x", 5))
	prefs, err = s.GetPreferences(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, prefs)
}

func testConcurrentAppendsSameUser(t *testing.T, s memory.Store, _ *Clock) {
	ctx := context.Background()
	user, other := newUser(), newUser()
	const n = 40

	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- s.AppendTurns(ctx, user,
				memory.TurnInput{Role: memory.RoleHuman, Content: fmt.Sprintf("q%d", i)},
				memory.TurnInput{Role: memory.RoleAgent, Content: fmt.Sprintf("a%d", i)},
			)
		}(i)
		go func(i int) {
			defer wg.Done()
			errs <- s.AppendTurn(ctx, other, memory.RoleHuman, fmt.Sprintf("o%d", i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetHistory(ctx, user, 1000, 0)
	require.NoError(t, err)
	require.Len(t, got, 2*n)
	// Each batch lands contiguously, human before agent.
	for i := 0; i < len(got); i += 2 {
		require.Equal(t, memory.RoleHuman, got[i].Role)
		require.Equal(t, memory.RoleAgent, got[i+1].Role)
		require.Equal(t, "a"+got[i].Content[1:], got[i+1].Content)
	}

	count, err := s.CountContext(ctx, other, 0)
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

func testConcurrentPreferencesSameUser(t *testing.T, s memory.Store, _ *Clock) {
	ctx := context.Background()
	user := newUser()
	const n = 30

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%10 == 9 {
				errs <- s.ClearPreferences(ctx, user)
				return
			}
			errs <- s.AddPreference(ctx, user, fmt.Sprintf("item-%d", i), 5)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	prefs, err := s.GetPreferences(ctx, user)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(prefs), 5)
	seen := map[string]bool{}
	for _, p := range prefs {
		assert.False(t, seen[p], "duplicate preference %q", p)
		seen[p] = true
	}

	require.NoError(t, s.AddPreference(ctx, user, "final", 5))
	prefs, err = s.GetPreferences(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "final", prefs[0])
}
