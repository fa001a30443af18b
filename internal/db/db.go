package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// execer is the subset of the pool used for writes
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// DB wraps pgxpool.Pool for database operations
type DB struct {
	pool *pgxpool.Pool
	conn execer
}

// NewDB creates a new DB connection pool and checks the connection
func NewDB(ctx context.Context, url string) (*DB, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{pool: pool, conn: pool}, nil
}

// Close closes the connection pool
func (d *DB) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

// Pool returns the underlying pgxpool.Pool
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

const schema = `
CREATE TABLE IF NOT EXISTS automation_history (
	id          BIGSERIAL PRIMARY KEY,
	task_id     TEXT NOT NULL,
	prayer      TEXT NOT NULL,
	relay       TEXT NOT NULL,
	state       BOOLEAN NOT NULL,
	executed_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS device_states_history (
	id        BIGSERIAL PRIMARY KEY,
	device_id TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	state     JSONB NOT NULL
);`

// EnsureSchema creates the history tables when missing
func (d *DB) EnsureSchema(ctx context.Context) error {
	if _, err := d.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
