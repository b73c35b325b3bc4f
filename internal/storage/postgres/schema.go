// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the narrow pgxpool surface the stores depend on. pgxmock
// satisfies it, which keeps the SQL under unit test without a database.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PoolConfig sizes the shared connection pool. Capacity must cover the
// expected number of concurrent crawls, each of which can issue many
// concurrent page-event writes.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Connect opens a pgx pool using the provided config.
func Connect(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS crawl_sessions (
	job_id TEXT PRIMARY KEY,
	operation_type TEXT NOT NULL,
	base_url TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	success BOOLEAN NOT NULL DEFAULT FALSE,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	total_urls INTEGER NOT NULL DEFAULT 0,
	completed_urls INTEGER NOT NULL DEFAULT 0,
	failed_urls INTEGER NOT NULL DEFAULT 0,
	auto_index BOOLEAN NOT NULL DEFAULT TRUE,
	chunking_ms BIGINT NOT NULL DEFAULT 0,
	embedding_ms BIGINT NOT NULL DEFAULT 0,
	vector_write_ms BIGINT NOT NULL DEFAULT 0,
	keyword_write_ms BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS scraped_content (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES crawl_sessions(job_id) ON DELETE CASCADE,
	url TEXT NOT NULL,
	source_url TEXT NOT NULL DEFAULT '',
	content_source TEXT NOT NULL,
	markdown TEXT NOT NULL DEFAULT '',
	html TEXT NOT NULL DEFAULT '',
	links JSONB,
	extracted_metadata JSONB,
	content_hash TEXT NOT NULL,
	scraped_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (session_id, url, content_hash)
);

CREATE INDEX IF NOT EXISTS idx_scraped_content_url ON scraped_content(url);
CREATE INDEX IF NOT EXISTS idx_scraped_content_session ON scraped_content(session_id);
CREATE INDEX IF NOT EXISTS idx_scraped_content_hash ON scraped_content(content_hash);

-- correlation_id is a soft reference: metric writes race ahead of
-- session creation under out-of-order delivery, so no FK.
CREATE TABLE IF NOT EXISTS operation_metrics (
	id BIGSERIAL PRIMARY KEY,
	operation_type TEXT NOT NULL,
	correlation_id TEXT,
	document_url TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL,
	success BOOLEAN NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	ts TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_operation_metrics_correlation ON operation_metrics(correlation_id);
CREATE INDEX IF NOT EXISTS idx_operation_metrics_ts ON operation_metrics(ts);

CREATE TABLE IF NOT EXISTS index_jobs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	url TEXT NOT NULL,
	content TEXT NOT NULL,
	content_source TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_index_jobs_pending ON index_jobs(status, enqueued_at);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, pool Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
