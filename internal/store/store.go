package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// schema is the full ledger schema. The composite primary key is what makes
// the append-only contract enforceable by Postgres itself: a duplicate
// (conversation_id, turn_index) insert fails with a unique violation instead
// of silently overwriting history.
const schema = `
CREATE TABLE IF NOT EXISTS turns (
    conversation_id   TEXT NOT NULL,
    turn_index        INTEGER NOT NULL CHECK (turn_index > 0),
    user_prompt       TEXT NOT NULL,
    full_prompt       TEXT,
    response          TEXT NOT NULL,
    machine_state     TEXT NOT NULL,
    retrieved_context TEXT,
    content_hash      TEXT NOT NULL,
    chain_hash        TEXT NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (conversation_id, turn_index)
);
`

// EnsureSchema creates the turns table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
