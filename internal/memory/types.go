package memory

import (
	"context"
	"errors"
	"fmt"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleHuman Role = "human"
	RoleAgent Role = "ai"
)

// Valid reports whether r is one of the persisted roles.
func (r Role) Valid() bool {
	return r == RoleHuman || r == RoleAgent
}

// Turn stores a single human or agent dialogue message.
type Turn struct {
	UserID    string `json:"user_id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"ts"`
}

// TurnInput is a turn before the store assigns its timestamp.
type TurnInput struct {
	Role    Role
	Content string
}

// DefaultMaxPreferences is the preference cap used when none is configured.
const DefaultMaxPreferences = 5

// historyPrealloc caps the row slice reserved up front; limit may be
// effectively unbounded.
const historyPrealloc = 64

// Store persists dialogue turns and remembered preferences per user.
//
// Operations scoped to different users never serialize against each other.
// Timestamps are whole seconds assigned by the store; turns sharing a
// timestamp are ordered by insertion.
type Store interface {
	// AppendTurn persists one turn stamped with the current time.
	AppendTurn(ctx context.Context, userID string, role Role, content string) error
	// AppendTurns persists turns in order inside a single write, all stamped
	// with the same time.
	AppendTurns(ctx context.Context, userID string, turns ...TurnInput) error
	// GetHistory returns up to limit of the most recent turns whose timestamp
	// is within ttlSeconds of now (0 disables the filter), oldest first.
	GetHistory(ctx context.Context, userID string, limit int, ttlSeconds int64) ([]Turn, error)
	// CountContext counts the turns GetHistory would consider under ttlSeconds.
	CountContext(ctx context.Context, userID string, ttlSeconds int64) (int, error)
	// AddPreference remembers item unless already present, then evicts the
	// oldest preferences until at most maxItems remain.
	AddPreference(ctx context.Context, userID, item string, maxItems int) error
	// ClearPreferences forgets every preference of the user.
	ClearPreferences(ctx context.Context, userID string) error
	// GetPreferences returns the user's items, most recent first.
	GetPreferences(ctx context.Context, userID string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrStorage matches every *StorageError via errors.Is.
var ErrStorage = errors.New("memory storage error")

// ErrInvalidArgument is returned for malformed requests before any I/O.
var ErrInvalidArgument = errors.New("invalid argument")

// StorageError reports a failure of the underlying persistence substrate.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("memory %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func validateUser(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}
	return nil
}

func validateTurns(turns []TurnInput) error {
	for _, t := range turns {
		if !t.Role.Valid() {
			return fmt.Errorf("%w: role %q", ErrInvalidArgument, t.Role)
		}
	}
	return nil
}

func validateWindow(limit int, ttlSeconds int64) error {
	if limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidArgument, limit)
	}
	if ttlSeconds < 0 {
		return fmt.Errorf("%w: negative ttl %d", ErrInvalidArgument, ttlSeconds)
	}
	return nil
}

// cutoff returns the oldest admissible timestamp, or 0 when ttl is disabled.
func cutoff(now, ttlSeconds int64) int64 {
	if ttlSeconds <= 0 {
		return 0
	}
	return now - ttlSeconds
}
