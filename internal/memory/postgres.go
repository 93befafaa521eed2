package memory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversational memory in PostgreSQL.
//
// Per-user writes take a transaction-scoped advisory lock keyed on the user
// id, so writers for one user serialize across every replica while other
// users proceed independently.
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock Clock
}

func NewPostgresStore(ctx context.Context, databaseURL string, opts ...Option) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, storageErr("connect postgres", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	o := buildOptions(opts)
	return &PostgresStore{pool: pool, clock: o.clock}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('human','ai')),
			content TEXT NOT NULL,
			ts BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_ts ON messages (user_id, ts, id);`,
		`CREATE TABLE IF NOT EXISTS preferences (
			id BIGSERIAL,
			user_id TEXT NOT NULL,
			item TEXT NOT NULL,
			ts BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_preferences_user_ts ON preferences (user_id, ts, id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return storageErr("init schema", fmt.Errorf("statement %q: %w", stmt, err))
		}
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, userID string, role Role, content string) error {
	return s.AppendTurns(ctx, userID, TurnInput{Role: role, Content: content})
}

func (s *PostgresStore) AppendTurns(ctx context.Context, userID string, turns ...TurnInput) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if err := validateTurns(turns); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	return s.withUserTx(ctx, "append turns", userID, func(tx pgx.Tx) error {
		var last int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(ts), 0) FROM messages WHERE user_id = $1`, userID,
		).Scan(&last); err != nil {
			return fmt.Errorf("read last ts: %w", err)
		}
		ts := nextTimestamp(s.clock().Unix(), last)

		batch := &pgx.Batch{}
		for _, t := range turns {
			batch.Queue(
				`INSERT INTO messages (user_id, role, content, ts) VALUES ($1, $2, $3, $4)`,
				userID, string(t.Role), t.Content, ts,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert turns: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetHistory(ctx context.Context, userID string, limit int, ttlSeconds int64) ([]Turn, error) {
	if err := validateWindow(limit, ttlSeconds); err != nil {
		return nil, err
	}
	if limit == 0 {
		return []Turn{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content, ts FROM messages
		 WHERE user_id = $1 AND ts >= $2
		 ORDER BY ts DESC, id DESC LIMIT $3`,
		userID, cutoff(s.clock().Unix(), ttlSeconds), limit,
	)
	if err != nil {
		return nil, storageErr("get history", fmt.Errorf("query recent context: %w", err))
	}
	defer rows.Close()

	items := make([]Turn, 0, min(limit, historyPrealloc))
	for rows.Next() {
		t := Turn{UserID: userID}
		var role string
		if err := rows.Scan(&role, &t.Content, &t.Timestamp); err != nil {
			return nil, storageErr("get history", fmt.Errorf("scan context row: %w", err))
		}
		t.Role = Role(role)
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get history", fmt.Errorf("iterate context rows: %w", err))
	}

	reverseTurns(items)
	return items, nil
}

func (s *PostgresStore) CountContext(ctx context.Context, userID string, ttlSeconds int64) (int, error) {
	if err := validateWindow(0, ttlSeconds); err != nil {
		return 0, err
	}
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(1) FROM messages WHERE user_id = $1 AND ts >= $2`,
		userID, cutoff(s.clock().Unix(), ttlSeconds),
	).Scan(&n); err != nil {
		return 0, storageErr("count context", err)
	}
	return n, nil
}

func (s *PostgresStore) AddPreference(ctx context.Context, userID, item string, maxItems int) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	maxItems = normalizeMax(maxItems)

	return s.withUserTx(ctx, "add preference", userID, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM preferences WHERE user_id = $1 AND item = $2)`, userID, item,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check duplicate: %w", err)
		}
		if !exists {
			var last int64
			if err := tx.QueryRow(ctx,
				`SELECT COALESCE(MAX(ts), 0) FROM preferences WHERE user_id = $1`, userID,
			).Scan(&last); err != nil {
				return fmt.Errorf("read last ts: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO preferences (user_id, item, ts) VALUES ($1, $2, $3)`,
				userID, item, nextTimestamp(s.clock().Unix(), last),
			); err != nil {
				return fmt.Errorf("insert preference: %w", err)
			}
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM preferences WHERE id IN (
				SELECT id FROM preferences WHERE user_id = $1
				ORDER BY ts DESC, id DESC OFFSET $2
			)`,
			userID, maxItems,
		); err != nil {
			return fmt.Errorf("evict preferences: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ClearPreferences(ctx context.Context, userID string) error {
	return s.withUserTx(ctx, "clear preferences", userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM preferences WHERE user_id = $1`, userID)
		return err
	})
}

func (s *PostgresStore) GetPreferences(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT item FROM preferences WHERE user_id = $1 ORDER BY ts DESC, id DESC`, userID,
	)
	if err != nil {
		return nil, storageErr("get preferences", err)
	}
	items, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storageErr("get preferences", fmt.Errorf("collect rows: %w", err))
	}
	if items == nil {
		items = []string{}
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return storageErr("ping", s.pool.Ping(ctx))
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) withUserTx(ctx context.Context, op, userID string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr(op, fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return storageErr(op, fmt.Errorf("lock user: %w", err))
	}
	if err := fn(tx); err != nil {
		return storageErr(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}
