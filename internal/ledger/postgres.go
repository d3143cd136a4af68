package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rbright/brainlive/internal/transcript"
)

// Schema is the SQL DDL for the ledger tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_sessions (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL DEFAULT '',
    turns      JSONB NOT NULL DEFAULT '[]',
    state      JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ledger_sessions_updated ON ledger_sessions(updated_at DESC);
CREATE TABLE IF NOT EXISTS ledger_pointer (
    singleton  BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
    current_id TEXT NOT NULL
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Turns and summary state
// are stored as JSONB.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open connection or pool. Call Migrate before use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ledger: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	return pool, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context) ([]Session, string, error) {
	const query = `
		SELECT id, title, turns, state, created_at, updated_at
		FROM ledger_sessions
		ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, "", fmt.Errorf("ledger: load sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var turnsJSON, stateJSON []byte
		if err := rows.Scan(&sess.ID, &sess.Title, &turnsJSON, &stateJSON, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, "", fmt.Errorf("ledger: scan session: %w", err)
		}
		if err := json.Unmarshal(turnsJSON, &sess.Turns); err != nil {
			return nil, "", fmt.Errorf("ledger: unmarshal turns of %s: %w", sess.ID, err)
		}
		if err := json.Unmarshal(stateJSON, &sess.State); err != nil {
			return nil, "", fmt.Errorf("ledger: unmarshal state of %s: %w", sess.ID, err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("ledger: iterate sessions: %w", err)
	}

	var current string
	err = s.db.QueryRow(ctx, `SELECT current_id FROM ledger_pointer WHERE singleton`).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", fmt.Errorf("ledger: load current pointer: %w", err)
	}
	return sessions, current, nil
}

// Put implements Store as an upsert.
func (s *PostgresStore) Put(ctx context.Context, sess Session) error {
	turns := sess.Turns
	if turns == nil {
		turns = []transcript.Turn{}
	}
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("ledger: marshal turns: %w", err)
	}
	stateJSON, err := json.Marshal(sess.State.Normalized())
	if err != nil {
		return fmt.Errorf("ledger: marshal state: %w", err)
	}

	const query = `
		INSERT INTO ledger_sessions (id, title, turns, state, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			title      = EXCLUDED.title,
			turns      = EXCLUDED.turns,
			state      = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.db.Exec(ctx, query,
		sess.ID, sess.Title, turnsJSON, stateJSON, sess.CreatedAt, sess.UpdatedAt,
	); err != nil {
		return fmt.Errorf("ledger: put %q: %w", sess.ID, err)
	}
	return nil
}

// Remove implements Store.
func (s *PostgresStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM ledger_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("ledger: remove %q: %w", id, err)
	}
	return nil
}

// SetCurrent implements Store.
func (s *PostgresStore) SetCurrent(ctx context.Context, id string) error {
	const query = `
		INSERT INTO ledger_pointer (singleton, current_id) VALUES (TRUE, $1)
		ON CONFLICT (singleton) DO UPDATE SET current_id = EXCLUDED.current_id`

	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("ledger: set current %q: %w", id, err)
	}
	return nil
}
