package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DispatchMode selects how a scheduled task fires.
type DispatchMode string

const (
	DispatchPrompt DispatchMode = "prompt"
	DispatchJob    DispatchMode = "job"
)

// ScheduledTask mirrors a single row of a butler's scheduled_tasks table.
type ScheduledTask struct {
	ID           string
	Name         string
	Spec         string
	DispatchMode DispatchMode
	Prompt       sql.NullString
	JobName      sql.NullString
	JobArgs      []byte
	Enabled      bool
	NextRunAt    sql.NullTime
	LastRunAt    sql.NullTime
	LastResult   sql.NullString
	UntilAt      sql.NullTime
}

// CreateScheduledTask inserts a new task. Creation with a name that already
// exists fails with a unique-constraint error (callers replacing a one-shot
// must delete the prior row first, per spec.md §4.4).
func (s *Store) CreateScheduledTask(ctx context.Context, butler string, t ScheduledTask) error {
	if !validSchemaName.MatchString(butler) {
		return fmt.Errorf("invalid butler schema name %q", butler)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.scheduled_tasks (id, name, spec, dispatch_mode, prompt, job_name, job_args, enabled, next_run_at, until_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, butler),
		t.ID, t.Name, t.Spec, string(t.DispatchMode), t.Prompt, t.JobName, t.JobArgs, t.Enabled, t.NextRunAt, t.UntilAt)
	if err != nil {
		return fmt.Errorf("create scheduled task: %w", err)
	}
	return nil
}

// DeleteScheduledTask removes a task by name; deleting an absent name is a
// no-op, matching the spec's "no residual next_run_at" invariant.
func (s *Store) DeleteScheduledTask(ctx context.Context, butler, name string) error {
	if !validSchemaName.MatchString(butler) {
		return fmt.Errorf("invalid butler schema name %q", butler)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s.scheduled_tasks WHERE name = $1`, butler), name)
	if err != nil {
		return fmt.Errorf("delete scheduled task: %w", err)
	}
	return nil
}

// ListScheduledTasks returns every task for butler.
func (s *Store) ListScheduledTasks(ctx context.Context, butler string) ([]ScheduledTask, error) {
	if !validSchemaName.MatchString(butler) {
		return nil, fmt.Errorf("invalid butler schema name %q", butler)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, spec, dispatch_mode, prompt, job_name, job_args, enabled, next_run_at, last_run_at, last_result, until_at
		FROM %s.scheduled_tasks`, butler))
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	defer rows.Close()
	return scanScheduledTasks(rows)
}

// DueScheduledTasks returns enabled tasks whose next_run_at has passed,
// locked FOR UPDATE so the scheduler's fire+advance transaction (spec.md
// §5) serializes against concurrent scheduler instances.
func DueScheduledTasks(ctx context.Context, tx *sql.Tx, butler string, now time.Time) ([]ScheduledTask, error) {
	if !validSchemaName.MatchString(butler) {
		return nil, fmt.Errorf("invalid butler schema name %q", butler)
	}
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, spec, dispatch_mode, prompt, job_name, job_args, enabled, next_run_at, last_run_at, last_result, until_at
		FROM %s.scheduled_tasks
		WHERE enabled = true AND next_run_at <= $1
		FOR UPDATE`, butler), now)
	if err != nil {
		return nil, fmt.Errorf("due scheduled tasks: %w", err)
	}
	defer rows.Close()
	return scanScheduledTasks(rows)
}

// AdvanceScheduledTask records a fire (or expiry) atomically with the next
// run time, per spec.md §4.4/§8: "last_run_at advancement is part of the
// same transaction that decides to fire."
func AdvanceScheduledTask(ctx context.Context, tx *sql.Tx, butler string, t ScheduledTask, now time.Time, nextRunAt *time.Time, result string) error {
	if !validSchemaName.MatchString(butler) {
		return fmt.Errorf("invalid butler schema name %q", butler)
	}
	enabled := nextRunAt != nil
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s.scheduled_tasks
		SET last_run_at = $2, next_run_at = $3, last_result = $4, enabled = $5
		WHERE id = $1`, butler), t.ID, now, nextRunAt, result, enabled)
	if err != nil {
		return fmt.Errorf("advance scheduled task: %w", err)
	}
	return nil
}

func scanScheduledTasks(rows *sql.Rows) ([]ScheduledTask, error) {
	var out []ScheduledTask
	for rows.Next() {
		var t ScheduledTask
		var dispatchMode string
		if err := rows.Scan(&t.ID, &t.Name, &t.Spec, &dispatchMode, &t.Prompt, &t.JobName, &t.JobArgs,
			&t.Enabled, &t.NextRunAt, &t.LastRunAt, &t.LastResult, &t.UntilAt); err != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", err)
		}
		t.DispatchMode = DispatchMode(dispatchMode)
		out = append(out, t)
	}
	return out, rows.Err()
}
