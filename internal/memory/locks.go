package memory

import (
	"sync"
	"time"
)

// userLocks hands out one mutex per user id. Entries are reference counted
// and dropped once no caller holds or waits on them.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// lock blocks until userID is held and returns its release func.
func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// Option customizes a store at construction.
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock overrides the time source used for timestamps and TTL cutoffs.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// nextTimestamp keeps per-user timestamps non-decreasing when the wall
// clock steps backwards.
func nextTimestamp(now, last int64) int64 {
	if now < last {
		return last
	}
	return now
}

func normalizeMax(maxItems int) int {
	if maxItems <= 0 {
		return DefaultMaxPreferences
	}
	return maxItems
}
