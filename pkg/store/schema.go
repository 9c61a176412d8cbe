package store

import (
	"context"
	"fmt"
)

// Uniqueness is load-bearing here: drafts.token, drafts.approval_idempotency_key,
// posts.tweet_id, posts.publish_idempotency_key, posts(draft_id, position),
// publish_attempts(draft_id, attempt), action_tokens.token_hash,
// weekly_reports(week_start, week_end) and users.username are contracts that
// the coordinator and token issuer rely on. Both dialects must keep them.

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	duration_ms INTEGER,
	last_error TEXT
);

CREATE TABLE IF NOT EXISTS agent_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	stage_name TEXT NOT NULL,
	start_ts TIMESTAMP NOT NULL,
	end_ts TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL,
	input_summary TEXT,
	output_summary TEXT,
	errors TEXT,
	warnings TEXT
);
CREATE INDEX IF NOT EXISTS idx_agent_logs_run ON agent_logs(run_id);

CREATE TABLE IF NOT EXISTS drafts (
	id TEXT PRIMARY KEY,
	token TEXT NOT NULL UNIQUE,
	run_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL,
	token_consumed INTEGER NOT NULL DEFAULT 0,
	consumed_at TIMESTAMP,
	thread_enabled INTEGER NOT NULL DEFAULT 0,
	tweets TEXT,
	final_text TEXT NOT NULL,
	snapshots TEXT,
	published_tweet_ids TEXT,
	approval_idempotency_key TEXT UNIQUE,
	last_error TEXT
);
CREATE INDEX IF NOT EXISTS idx_drafts_run ON drafts(run_id);
CREATE INDEX IF NOT EXISTS idx_drafts_status ON drafts(status);

CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	draft_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	tweet_id TEXT NOT NULL UNIQUE,
	content TEXT NOT NULL,
	posted_at TIMESTAMP NOT NULL,
	publish_idempotency_key TEXT NOT NULL UNIQUE,
	UNIQUE (draft_id, position)
);

CREATE TABLE IF NOT EXISTS publish_attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	draft_id TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	owner TEXT,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP,
	last_error TEXT,
	UNIQUE (draft_id, attempt)
);

CREATE TABLE IF NOT EXISTS action_tokens (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	draft_id TEXT NOT NULL,
	action TEXT NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	one_time INTEGER NOT NULL DEFAULT 0,
	consumed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_action_tokens_action_draft ON action_tokens(action, draft_id);

CREATE TABLE IF NOT EXISTS policy_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	draft_id TEXT NOT NULL,
	report TEXT NOT NULL,
	report_hash TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_policy_reports_draft ON policy_reports(draft_id);

CREATE TABLE IF NOT EXISTS style_profiles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	profile TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS weekly_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	week_start TIMESTAMP NOT NULL,
	week_end TIMESTAMP NOT NULL,
	report TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (week_start, week_end)
);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	last_login_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_sessions (
	session_id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	revoked_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TIMESTAMP NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	subject TEXT,
	detail TEXT
);

CREATE TABLE IF NOT EXISTS app_config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	duration_ms BIGINT,
	last_error TEXT
);

CREATE TABLE IF NOT EXISTS agent_logs (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	stage_name TEXT NOT NULL,
	start_ts TIMESTAMPTZ NOT NULL,
	end_ts TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL,
	input_summary TEXT,
	output_summary TEXT,
	errors TEXT,
	warnings JSONB
);
CREATE INDEX IF NOT EXISTS idx_agent_logs_run ON agent_logs(run_id);

CREATE TABLE IF NOT EXISTS drafts (
	id TEXT PRIMARY KEY,
	token TEXT NOT NULL UNIQUE,
	run_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	token_consumed BOOLEAN NOT NULL DEFAULT FALSE,
	consumed_at TIMESTAMPTZ,
	thread_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	tweets JSONB,
	final_text TEXT NOT NULL,
	snapshots JSONB,
	published_tweet_ids JSONB,
	approval_idempotency_key TEXT UNIQUE,
	last_error TEXT
);
CREATE INDEX IF NOT EXISTS idx_drafts_run ON drafts(run_id);
CREATE INDEX IF NOT EXISTS idx_drafts_status ON drafts(status);

CREATE TABLE IF NOT EXISTS posts (
	id BIGSERIAL PRIMARY KEY,
	draft_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	tweet_id TEXT NOT NULL UNIQUE,
	content TEXT NOT NULL,
	posted_at TIMESTAMPTZ NOT NULL,
	publish_idempotency_key TEXT NOT NULL UNIQUE,
	UNIQUE (draft_id, position)
);

CREATE TABLE IF NOT EXISTS publish_attempts (
	id BIGSERIAL PRIMARY KEY,
	draft_id TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	owner TEXT,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	last_error TEXT,
	UNIQUE (draft_id, attempt)
);

CREATE TABLE IF NOT EXISTS action_tokens (
	id BIGSERIAL PRIMARY KEY,
	draft_id TEXT NOT NULL,
	action TEXT NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	one_time BOOLEAN NOT NULL DEFAULT FALSE,
	consumed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_action_tokens_action_draft ON action_tokens(action, draft_id);

CREATE TABLE IF NOT EXISTS policy_reports (
	id BIGSERIAL PRIMARY KEY,
	draft_id TEXT NOT NULL,
	report JSONB NOT NULL,
	report_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_policy_reports_draft ON policy_reports(draft_id);

CREATE TABLE IF NOT EXISTS style_profiles (
	id BIGSERIAL PRIMARY KEY,
	profile JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS weekly_reports (
	id BIGSERIAL PRIMARY KEY,
	week_start TIMESTAMPTZ NOT NULL,
	week_end TIMESTAMPTZ NOT NULL,
	report JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (week_start, week_end)
);

CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	last_login_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS user_sessions (
	session_id TEXT PRIMARY KEY,
	user_id BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id BIGSERIAL PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	subject TEXT,
	detail JSONB
);

CREATE TABLE IF NOT EXISTS app_config (
	key TEXT PRIMARY KEY,
	value JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the schema for the active dialect. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := schemaSQLite
	if s.dialect == DialectPostgres {
		ddl = schemaPostgres
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: migrate (%s): %w", s.dialect, err)
	}
	return nil
}
