// Package postgres persists the miner's solutions and found blocks in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// DefaultConfig returns pool settings sized for a single miner process.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		MaxLifetime:  30 * time.Minute,
	}
}

// schema is applied by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS solutions (
		id             BIGSERIAL PRIMARY KEY,
		hash           TEXT        NOT NULL UNIQUE,
		client         TEXT        NOT NULL,
		path           TEXT        NOT NULL,
		class          TEXT        NOT NULL,
		nonce          BIGINT      NOT NULL,
		version        BIGINT      NOT NULL,
		ntime          BIGINT      NOT NULL,
		bits           BIGINT      NOT NULL,
		midstate_index INTEGER     NOT NULL,
		difficulty     DOUBLE PRECISION NOT NULL,
		height         BIGINT      NOT NULL,
		stale          BOOLEAN     NOT NULL DEFAULT FALSE,
		found_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS solutions_found_at_idx ON solutions (found_at DESC)`,
	`CREATE TABLE IF NOT EXISTS blocks (
		id           BIGSERIAL PRIMARY KEY,
		hash         TEXT        NOT NULL UNIQUE,
		height       BIGINT      NOT NULL,
		prev_hash    TEXT        NOT NULL,
		client       TEXT        NOT NULL,
		status       TEXT        NOT NULL,
		error        TEXT        NOT NULL DEFAULT '',
		found_at     TIMESTAMPTZ NOT NULL,
		submitted_at TIMESTAMPTZ
	)`,
}

// NewClient opens the pool and checks connectivity.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Migrate creates the tables the repositories use.
func (c *Client) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sql.DB for advanced operations
func (c *Client) DB() *sql.DB {
	return c.db
}
