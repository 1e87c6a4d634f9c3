package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/butlerhub/switchboard/internal/store"
)

// Dispatcher enqueues a due task's trigger with the spawner. It is the
// seam between the scheduler (which decides *when*) and the spawner (which
// decides *how*); job dispatch_mode tasks are invoked through JobRunner
// instead.
type Dispatcher interface {
	Enqueue(ctx context.Context, butler string, triggerSource, prompt string) error
}

// JobRunner invokes a registered in-process job by name for dispatch_mode
// "job" tasks.
type JobRunner interface {
	RunJob(ctx context.Context, butler, jobName string, jobArgs []byte) error
}

// Manager evaluates one butler's scheduled tasks on each Tick call.
type Manager struct {
	db         *sql.DB
	butler     string
	dispatcher Dispatcher
	jobs       JobRunner
	now        func() time.Time
}

// NewManager builds a Manager for a single butler schema.
func NewManager(db *sql.DB, butler string, dispatcher Dispatcher, jobs JobRunner) *Manager {
	return &Manager{db: db, butler: butler, dispatcher: dispatcher, jobs: jobs, now: time.Now}
}

// Tick evaluates every scheduled task once: tasks whose next_run_at has
// passed fire (or, if past until_at, are disabled without firing); the fire
// decision and last_run_at/next_run_at advancement happen in one
// transaction per task, so a crash mid-tick never double-fires (spec.md
// §4.4/§8).
func (m *Manager) Tick(ctx context.Context) error {
	now := m.now()
	tasks, err := m.dueTasks(ctx, now)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := m.fireOne(ctx, t, now); err != nil {
			slog.Error("scheduler: fire failed", "butler", m.butler, "task", t.Name, "err", err)
		}
	}
	return nil
}

func (m *Manager) dueTasks(ctx context.Context, now time.Time) ([]store.ScheduledTask, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	tasks, err := store.DueScheduledTasks(ctx, tx, m.butler, now)
	if err != nil {
		return nil, err
	}
	return tasks, tx.Commit()
}

func (m *Manager) fireOne(ctx context.Context, t store.ScheduledTask, now time.Time) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Re-check under FOR UPDATE in this transaction, so the fire decision and
	// the advancement below commit together.
	due, err := store.DueScheduledTasks(ctx, tx, m.butler, now)
	if err != nil {
		return err
	}
	stillDue := false
	for _, d := range due {
		stillDue = stillDue || d.ID == t.ID
	}
	if !stillDue {
		return tx.Commit()
	}

	if t.UntilAt.Valid && now.After(t.UntilAt.Time) {
		if err := store.AdvanceScheduledTask(ctx, tx, m.butler, t, now, nil, "expired_without_firing"); err != nil {
			return err
		}
		return tx.Commit()
	}

	result := "ok"
	if err := m.dispatch(ctx, t); err != nil {
		result = "error: " + err.Error()
	}

	var next *time.Time
	if result == "ok" {
		sched, parseErr := ParseSpec(t.Spec)
		if parseErr == nil && !sched.IsOneShot() {
			n := sched.Next(now)
			if !n.IsZero() {
				next = &n
			}
		}
		// One-shot tasks (or cron schedules whose Next is exhausted) leave
		// next nil, which disables the task per spec.md §4.4.
	} else if sched, parseErr := ParseSpec(t.Spec); parseErr == nil && !sched.IsOneShot() {
		// A dispatch error still advances the cron schedule forward; missed
		// windows do not coalesce.
		if n := sched.Next(now); !n.IsZero() {
			next = &n
		}
	}

	if err := store.AdvanceScheduledTask(ctx, tx, m.butler, t, now, next, result); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) dispatch(ctx context.Context, t store.ScheduledTask) error {
	switch t.DispatchMode {
	case store.DispatchPrompt:
		if m.dispatcher == nil {
			return fmt.Errorf("no dispatcher configured")
		}
		return m.dispatcher.Enqueue(ctx, m.butler, "schedule", t.Prompt.String)
	case store.DispatchJob:
		if m.jobs == nil {
			return fmt.Errorf("no job runner configured")
		}
		return m.jobs.RunJob(ctx, m.butler, t.JobName.String, t.JobArgs)
	default:
		return fmt.Errorf("unknown dispatch_mode %q", t.DispatchMode)
	}
}

// NewTaskID mints a fresh scheduled_tasks primary key.
func NewTaskID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
