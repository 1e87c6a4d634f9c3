package store

import (
	"context"
	"fmt"
	"regexp"
)

var validSchemaName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// EnsureButlerSchema creates, idempotently, the three tables every butler
// schema contains at minimum per spec.md §6: state, scheduled_tasks,
// sessions. butler is used verbatim as the Postgres schema name, so it is
// validated against a conservative identifier pattern first — it is never
// safe to parameterize a schema name as a bind variable.
func (s *Store) EnsureButlerSchema(ctx context.Context, butler string) error {
	if !validSchemaName.MatchString(butler) {
		return fmt.Errorf("invalid butler schema name %q", butler)
	}
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, butler),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.state (
			key        TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, butler),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.scheduled_tasks (
			id             UUID PRIMARY KEY,
			name           TEXT NOT NULL,
			spec           TEXT NOT NULL,
			dispatch_mode  TEXT NOT NULL,
			prompt         TEXT,
			job_name       TEXT,
			job_args       JSONB,
			enabled        BOOLEAN NOT NULL DEFAULT true,
			next_run_at    TIMESTAMPTZ,
			last_run_at    TIMESTAMPTZ,
			last_result    TEXT,
			until_at       TIMESTAMPTZ,
			UNIQUE (name)
		)`, butler),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.sessions (
			id             UUID PRIMARY KEY,
			trigger_source TEXT NOT NULL,
			prompt         TEXT NOT NULL,
			started_at     TIMESTAMPTZ NOT NULL,
			completed_at   TIMESTAMPTZ,
			success        BOOLEAN,
			duration_ms    BIGINT,
			error          TEXT,
			model          TEXT,
			request_id     UUID
		)`, butler),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_sessions_started_at_idx ON %s.sessions (started_at DESC)`, butler, butler),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure butler schema %s: %w", butler, err)
		}
	}
	return nil
}
