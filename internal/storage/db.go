package storage

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the Postgres pool used for the audit log.
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates a traced connection pool and verifies it with a ping.
func NewDB(ctx context.Context, url string, maxConns, minConns int32) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return &DB{pool: pool}, nil
}

// Pool exposes the underlying pool.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

func (db *DB) Close() {
	db.pool.Close()
}
