// Package postgres opens the two Postgres handles the service uses: a pgx
// pool for actor state and a database/sql handle (lib/pq) for the limiter's
// window store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"shelfcheck/internal/platform/config"
)

type DB struct {
	Pool *pgxpool.Pool
	SQL  *sql.DB
}

// Open connects both handles. Returns nil if the URL is empty.
func Open(ctx context.Context, cfg config.Postgres) (*DB, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
	}
	return &DB{Pool: pool, SQL: db}, nil
}

// Health pings through both handles.
func (d *DB) Health(ctx context.Context) error {
	if err := d.Pool.Ping(ctx); err != nil {
		return err
	}
	return d.SQL.PingContext(ctx)
}

func (d *DB) Close() error {
	d.Pool.Close()
	return d.SQL.Close()
}
