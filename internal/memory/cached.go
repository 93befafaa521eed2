package memory

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedStore is a read-through preference cache in front of a durable Store.
//
// Every preference read and write for a user runs under that user's lock, and
// writes invalidate the cached entry before releasing it, so a cached list is
// always identical to what the durable store would return. Turn history is
// never cached.
type CachedStore struct {
	Store
	cache *ristretto.Cache
	locks *userLocks
}

// NewCachedStore wraps inner with a bounded preference cache sized for
// roughly maxUsers distinct users.
func NewCachedStore(inner Store, maxUsers int64) (*CachedStore, error) {
	if maxUsers <= 0 {
		maxUsers = 10_000
	}
	// Costs are item counts, not bytes.
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxUsers * 10,
		MaxCost:            maxUsers * int64(DefaultMaxPreferences+1),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create preference cache: %w", err)
	}
	return &CachedStore{Store: inner, cache: cache, locks: newUserLocks()}, nil
}

func (s *CachedStore) AddPreference(ctx context.Context, userID, item string, maxItems int) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	err := s.Store.AddPreference(ctx, userID, item, maxItems)
	// A failed write may still have committed; drop the entry either way.
	s.cache.Del(userID)
	return err
}

func (s *CachedStore) ClearPreferences(ctx context.Context, userID string) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	err := s.Store.ClearPreferences(ctx, userID)
	s.cache.Del(userID)
	return err
}

func (s *CachedStore) GetPreferences(ctx context.Context, userID string) ([]string, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	if v, ok := s.cache.Get(userID); ok {
		if items, ok := v.([]string); ok {
			return append([]string{}, items...), nil
		}
	}

	items, err := s.Store.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	cached := append([]string{}, items...)
	if s.cache.Set(userID, cached, int64(len(cached)+1)) {
		s.cache.Wait()
	}
	return items, nil
}

func (s *CachedStore) Close() error {
	s.cache.Close()
	return s.Store.Close()
}
