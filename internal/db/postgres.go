// Package db opens the collector's Postgres connection and bootstraps the
// event schema.
package db

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a Postgres connection using the given DSN. Caller must call
// Close when done.
func Open(dsn string) (*sql.DB, error) {
	pool, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return pool, nil
}

// schema creates the event tables and the columns the query layer filters
// on. Statements are idempotent so startup can run them unconditionally.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY,
		tenant_id TEXT,
		kind TEXT NOT NULL,
		payload JSONB NOT NULL,
		route VARCHAR(500),
		status INT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_tenant ON events (tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_kind ON events (kind)`,
	`CREATE INDEX IF NOT EXISTS idx_events_route ON events (route)`,
	`CREATE INDEX IF NOT EXISTS idx_events_status ON events (status)`,
	`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events (created_at)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id UUID PRIMARY KEY,
		tenant_id TEXT,
		job_id TEXT NOT NULL,
		job_name TEXT NOT NULL,
		cron_expression TEXT,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		duration_ms BIGINT,
		error TEXT,
		result JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_job_name ON schedules (job_name)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_created_at ON schedules (created_at)`,
	`CREATE TABLE IF NOT EXISTS http_calls (
		id UUID PRIMARY KEY,
		tenant_id TEXT,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		status_code INT,
		duration_ms BIGINT NOT NULL,
		request_body JSONB,
		response_body JSONB,
		error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_http_calls_url ON http_calls (url)`,
	`CREATE INDEX IF NOT EXISTS idx_http_calls_created_at ON http_calls (created_at)`,
	`CREATE TABLE IF NOT EXISTS cache_ops (
		id UUID PRIMARY KEY,
		tenant_id TEXT,
		command TEXT NOT NULL,
		key TEXT,
		duration_ms BIGINT,
		error TEXT,
		db_index INT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_ops_command ON cache_ops (command)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id UUID PRIMARY KEY,
		tenant_id TEXT,
		session_id TEXT NOT NULL,
		action TEXT NOT NULL,
		user_id TEXT,
		session_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_session_id ON sessions (session_id)`,
}

// EnsureSchema creates the tables and indexes the collector persists into.
func EnsureSchema(ctx context.Context, pool *sql.DB) error {
	for _, stmt := range schema {
		if _, err := pool.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
