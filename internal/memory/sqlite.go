package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists memory in an embedded SQLite database file.
//
// Writers open IMMEDIATE transactions so the timestamp read and the insert
// happen under the database write lock, even across processes sharing the
// file. The in-process user lock keeps same-user writers from spinning on
// SQLITE_BUSY.
type SQLiteStore struct {
	db    *sql.DB
	locks *userLocks
	clock Clock
}

// OpenSQLite opens (or creates) a SQLite database at path with WAL journaling.
func OpenSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty sqlite path", ErrInvalidArgument)
	}
	// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storageErr("open", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, storageErr("open", err)
	}
	return db, nil
}

func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStoreWithDB(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreWithDB wires an existing connection and ensures the schema.
func NewSQLiteStoreWithDB(ctx context.Context, db *sql.DB, opts ...Option) (*SQLiteStore, error) {
	if err := initSQLiteSchema(ctx, db); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &SQLiteStore{db: db, locks: newUserLocks(), clock: o.clock}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			user_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('human','ai')),
			content TEXT NOT NULL,
			ts INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_ts ON messages (user_id, ts);`,
		`CREATE TABLE IF NOT EXISTS preferences (
			user_id TEXT NOT NULL,
			item TEXT NOT NULL,
			ts INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_preferences_user_ts ON preferences (user_id, ts);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return storageErr("init schema", fmt.Errorf("statement %q: %w", stmt, err))
		}
	}
	return nil
}

// DB exposes the underlying connection for tooling.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) AppendTurn(ctx context.Context, userID string, role Role, content string) error {
	return s.AppendTurns(ctx, userID, TurnInput{Role: role, Content: content})
}

func (s *SQLiteStore) AppendTurns(ctx context.Context, userID string, turns ...TurnInput) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if err := validateTurns(turns); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	return s.withTx(ctx, "append turns", func(tx *sql.Tx) error {
		var last int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(ts), 0) FROM messages WHERE user_id = ?`, userID,
		).Scan(&last); err != nil {
			return fmt.Errorf("read last ts: %w", err)
		}
		ts := nextTimestamp(s.clock().Unix(), last)
		for _, t := range turns {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (user_id, role, content, ts) VALUES (?, ?, ?, ?)`,
				userID, string(t.Role), t.Content, ts,
			); err != nil {
				return fmt.Errorf("insert turn: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetHistory(ctx context.Context, userID string, limit int, ttlSeconds int64) ([]Turn, error) {
	if err := validateWindow(limit, ttlSeconds); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []Turn{}, nil
	}

	from := cutoff(s.clock().Unix(), ttlSeconds)
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, ts FROM messages
		 WHERE user_id = ? AND ts >= ?
		 ORDER BY ts DESC, rowid DESC LIMIT ?`,
		userID, from, limit,
	)
	if err != nil {
		return nil, storageErr("get history", err)
	}
	defer rows.Close()

	items := make([]Turn, 0, min(limit, historyPrealloc))
	for rows.Next() {
		t := Turn{UserID: userID}
		var role string
		if err := rows.Scan(&role, &t.Content, &t.Timestamp); err != nil {
			return nil, storageErr("get history", fmt.Errorf("scan row: %w", err))
		}
		t.Role = Role(role)
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get history", fmt.Errorf("iterate rows: %w", err))
	}

	reverseTurns(items)
	return items, nil
}

func (s *SQLiteStore) CountContext(ctx context.Context, userID string, ttlSeconds int64) (int, error) {
	if err := validateWindow(0, ttlSeconds); err != nil {
		return 0, err
	}
	from := cutoff(s.clock().Unix(), ttlSeconds)
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM messages WHERE user_id = ? AND ts >= ?`, userID, from,
	).Scan(&n); err != nil {
		return 0, storageErr("count context", err)
	}
	return n, nil
}

func (s *SQLiteStore) AddPreference(ctx context.Context, userID, item string, maxItems int) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	maxItems = normalizeMax(maxItems)

	unlock := s.locks.lock(userID)
	defer unlock()

	return s.withTx(ctx, "add preference", func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM preferences WHERE user_id = ? AND item = ?`, userID, item,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check duplicate: %w", err)
		}
		if exists == 0 {
			var last int64
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(ts), 0) FROM preferences WHERE user_id = ?`, userID,
			).Scan(&last); err != nil {
				return fmt.Errorf("read last ts: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO preferences (user_id, item, ts) VALUES (?, ?, ?)`,
				userID, item, nextTimestamp(s.clock().Unix(), last),
			); err != nil {
				return fmt.Errorf("insert preference: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM preferences WHERE rowid IN (
				SELECT rowid FROM preferences WHERE user_id = ?
				ORDER BY ts DESC, rowid DESC LIMIT -1 OFFSET ?
			)`,
			userID, maxItems,
		); err != nil {
			return fmt.Errorf("evict preferences: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ClearPreferences(ctx context.Context, userID string) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE user_id = ?`, userID); err != nil {
		return storageErr("clear preferences", err)
	}
	return nil
}

func (s *SQLiteStore) GetPreferences(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item FROM preferences WHERE user_id = ? ORDER BY ts DESC, rowid DESC`, userID,
	)
	if err != nil {
		return nil, storageErr("get preferences", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			return nil, storageErr("get preferences", fmt.Errorf("scan row: %w", err))
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get preferences", fmt.Errorf("iterate rows: %w", err))
	}
	return out, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return storageErr("ping", s.db.PingContext(ctx))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, fmt.Errorf("begin: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func reverseTurns(items []Turn) {
	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
