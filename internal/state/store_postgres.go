package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"shelfcheck/pkg/platform/sentinel"
)

const stateSchema = `
CREATE TABLE IF NOT EXISTS actor_state (
	kind       TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	data       JSONB       NOT NULL,
	version    BIGINT      NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, key)
)`

// PostgresStore keeps documents in the actor_state table. The version column
// guards every update.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the actor_state table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, stateSchema); err != nil {
		return fmt.Errorf("create actor_state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Read(ctx context.Context, kind, key string) ([]byte, int64, error) {
	var (
		data    []byte
		version int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT data, version FROM actor_state WHERE kind = $1 AND key = $2`,
		kind, key,
	).Scan(&data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("select actor_state: %w", err)
	}
	return data, version, nil
}

func (s *PostgresStore) Write(ctx context.Context, kind, key string, data []byte, expected int64) (int64, error) {
	var (
		query string
		args  []any
	)
	if expected == 0 {
		query = `INSERT INTO actor_state (kind, key, data, version) VALUES ($1, $2, $3, 1)
			ON CONFLICT (kind, key) DO NOTHING`
		args = []any{kind, key, data}
	} else {
		query = `UPDATE actor_state SET data = $3, version = version + 1, updated_at = now()
			WHERE kind = $1 AND key = $2 AND version = $4`
		args = []any{kind, key, data, expected}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("write actor_state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("version %d is stale: %w", expected, sentinel.ErrConflict)
	}
	return expected + 1, nil
}
