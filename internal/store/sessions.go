package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionRecord mirrors a row of a butler's sessions table.
type SessionRecord struct {
	ID            string
	TriggerSource string
	Prompt        string
	StartedAt     time.Time
	CompletedAt   sql.NullTime
	Success       sql.NullBool
	DurationMs    sql.NullInt64
	Error         sql.NullString
	Model         sql.NullString
	RequestID     sql.NullString
}

// promptLogTruncateLen caps the prompt text kept in observability-facing
// reads; the full prompt is still stored for replay.
const promptLogTruncateLen = 200

// InsertSessionStart records the start of a spawned session.
func (s *Store) InsertSessionStart(ctx context.Context, butler string, rec SessionRecord) error {
	if !validSchemaName.MatchString(butler) {
		return fmt.Errorf("invalid butler schema name %q", butler)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.sessions (id, trigger_source, prompt, started_at, request_id)
		VALUES ($1,$2,$3,$4,$5)`, butler),
		rec.ID, rec.TriggerSource, rec.Prompt, rec.StartedAt, rec.RequestID)
	if err != nil {
		return fmt.Errorf("insert session start: %w", err)
	}
	return nil
}

// CompleteSession records the outcome of a session. Immutable after this
// call per spec.md §3.
func (s *Store) CompleteSession(ctx context.Context, butler, id string, completedAt time.Time, success bool, durationMs int64, errMsg, model string) error {
	if !validSchemaName.MatchString(butler) {
		return fmt.Errorf("invalid butler schema name %q", butler)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s.sessions SET completed_at = $2, success = $3, duration_ms = $4, error = $5, model = $6
		WHERE id = $1`, butler), id, completedAt, success, durationMs, nullableString(errMsg), nullableString(model))
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

// TruncatedPrompt returns a prompt cut to promptLogTruncateLen characters for
// observability logging, never for the actual session record.
func TruncatedPrompt(prompt string) string {
	r := []rune(prompt)
	if len(r) <= promptLogTruncateLen {
		return prompt
	}
	return string(r[:promptLogTruncateLen]) + "..."
}
