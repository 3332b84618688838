package bucket

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"shelfcheck/internal/ratelimit/models"
)

const bucketSchema = `
CREATE TABLE IF NOT EXISTS rate_limit_events (
	key         TEXT        NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS rate_limit_events_key_time ON rate_limit_events (key, occurred_at);`

// PostgresBucketStore keeps one row per permit. A transaction-scoped advisory
// lock on the key serializes concurrent AllowN calls.
type PostgresBucketStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgres creates a Postgres-backed bucket store.
func NewPostgres(db *sql.DB) *PostgresBucketStore {
	return &PostgresBucketStore{db: db, now: time.Now}
}

// EnsureSchema creates the rate_limit_events table if needed.
func (s *PostgresBucketStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, bucketSchema); err != nil {
		return fmt.Errorf("create rate_limit_events: %w", err)
	}
	return nil
}

// Allow consumes a single permit.
func (s *PostgresBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	return s.AllowN(ctx, key, 1, limit, window)
}

func (s *PostgresBucketStore) AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*models.Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return nil, fmt.Errorf("advisory lock: %w", err)
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rate_limit_events WHERE key = $1 AND occurred_at <= $2`,
		key, now.Add(-window),
	); err != nil {
		return nil, fmt.Errorf("expire events: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rate_limit_events WHERE key = $1`, key,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	if count+cost > limit {
		retryAfter := window
		if idx := count + cost - limit - 1; idx >= 0 {
			var blocking time.Time
			err := tx.QueryRowContext(ctx,
				`SELECT occurred_at FROM rate_limit_events WHERE key = $1 ORDER BY occurred_at OFFSET $2 LIMIT 1`,
				key, idx,
			).Scan(&blocking)
			switch {
			case err == nil:
				retryAfter = blocking.Add(window).Sub(now)
			case !errors.Is(err, sql.ErrNoRows):
				return nil, fmt.Errorf("find blocking event: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return &models.Result{
			Allowed:    false,
			Limit:      limit,
			ResetAt:    now.Add(retryAfter),
			RetryAfter: retryAfter,
		}, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rate_limit_events (key, occurred_at) SELECT $1, $2 FROM generate_series(1, $3)`,
		key, now, cost,
	); err != nil {
		return nil, fmt.Errorf("insert events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &models.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count - cost,
		ResetAt:   now.Add(window),
	}, nil
}

func (s *PostgresBucketStore) Reset(ctx context.Context, key string) error {
	return s.ResetAll(ctx, key)
}

// ResetAll clears the permit logs for several keys in one statement.
func (s *PostgresBucketStore) ResetAll(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_limit_events WHERE key = ANY($1)`, pq.Array(keys),
	); err != nil {
		return fmt.Errorf("reset events: %w", err)
	}
	return nil
}

func (s *PostgresBucketStore) GetCurrentCount(ctx context.Context, key string, window time.Duration) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rate_limit_events WHERE key = $1 AND occurred_at > $2`,
		key, s.now().Add(-window),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}
