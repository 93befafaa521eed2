package memory

import (
	"context"
	"sync"
)

// InMemoryStore is a simple in-process memory store for local/dev use.
// Nothing survives a restart.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string]*userState
	clock Clock
}

type userState struct {
	mu    sync.Mutex
	turns []Turn
	prefs []preference // oldest first
}

type preference struct {
	item string
	ts   int64
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	o := buildOptions(opts)
	return &InMemoryStore{users: make(map[string]*userState), clock: o.clock}
}

func (s *InMemoryStore) user(userID string, create bool) *userState {
	s.mu.RLock()
	u, ok := s.users[userID]
	s.mu.RUnlock()
	if ok || !create {
		return u
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok = s.users[userID]; ok {
		return u
	}
	u = &userState{}
	s.users[userID] = u
	return u
}

func (s *InMemoryStore) AppendTurn(ctx context.Context, userID string, role Role, content string) error {
	return s.AppendTurns(ctx, userID, TurnInput{Role: role, Content: content})
}

func (s *InMemoryStore) AppendTurns(ctx context.Context, userID string, turns ...TurnInput) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if err := validateTurns(turns); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storageErr("append turns", err)
	}
	if len(turns) == 0 {
		return nil
	}

	u := s.user(userID, true)
	u.mu.Lock()
	defer u.mu.Unlock()

	var last int64
	if n := len(u.turns); n > 0 {
		last = u.turns[n-1].Timestamp
	}
	ts := nextTimestamp(s.clock().Unix(), last)
	for _, t := range turns {
		u.turns = append(u.turns, Turn{UserID: userID, Role: t.Role, Content: t.Content, Timestamp: ts})
	}
	return nil
}

func (s *InMemoryStore) GetHistory(ctx context.Context, userID string, limit int, ttlSeconds int64) ([]Turn, error) {
	if err := validateWindow(limit, ttlSeconds); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storageErr("get history", err)
	}
	if limit == 0 {
		return []Turn{}, nil
	}
	u := s.user(userID, false)
	if u == nil {
		return []Turn{}, nil
	}

	from := cutoff(s.clock().Unix(), ttlSeconds)
	u.mu.Lock()
	defer u.mu.Unlock()

	// Timestamps are non-decreasing, so the surviving turns form a suffix.
	start := len(u.turns)
	for start > 0 && u.turns[start-1].Timestamp >= from {
		start--
	}
	if len(u.turns)-start > limit {
		start = len(u.turns) - limit
	}
	out := make([]Turn, len(u.turns)-start)
	copy(out, u.turns[start:])
	return out, nil
}

func (s *InMemoryStore) CountContext(ctx context.Context, userID string, ttlSeconds int64) (int, error) {
	if err := validateWindow(0, ttlSeconds); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, storageErr("count context", err)
	}
	u := s.user(userID, false)
	if u == nil {
		return 0, nil
	}

	from := cutoff(s.clock().Unix(), ttlSeconds)
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for i := len(u.turns) - 1; i >= 0 && u.turns[i].Timestamp >= from; i-- {
		n++
	}
	return n, nil
}

func (s *InMemoryStore) AddPreference(ctx context.Context, userID, item string, maxItems int) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storageErr("add preference", err)
	}
	maxItems = normalizeMax(maxItems)

	u := s.user(userID, true)
	u.mu.Lock()
	defer u.mu.Unlock()

	exists := false
	for _, p := range u.prefs {
		if p.item == item {
			exists = true
			break
		}
	}
	if !exists {
		var last int64
		if n := len(u.prefs); n > 0 {
			last = u.prefs[n-1].ts
		}
		u.prefs = append(u.prefs, preference{item: item, ts: nextTimestamp(s.clock().Unix(), last)})
	}
	// The cap is enforced even for duplicates so a lowered limit converges.
	if excess := len(u.prefs) - maxItems; excess > 0 {
		u.prefs = append([]preference(nil), u.prefs[excess:]...)
	}
	return nil
}

func (s *InMemoryStore) ClearPreferences(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return storageErr("clear preferences", err)
	}
	u := s.user(userID, false)
	if u == nil {
		return nil
	}
	u.mu.Lock()
	u.prefs = nil
	u.mu.Unlock()
	return nil
}

func (s *InMemoryStore) GetPreferences(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("get preferences", err)
	}
	u := s.user(userID, false)
	if u == nil {
		return []string{}, nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.prefs))
	for i := len(u.prefs) - 1; i >= 0; i-- {
		out = append(out, u.prefs[i].item)
	}
	return out, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
