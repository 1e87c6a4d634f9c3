// Package dedupe implements the Envelope & Dedupe Core: validate an
// envelope, derive its dedupe key, and insert an inbox row at-most-once per
// key under a transaction-scoped Postgres advisory lock.
package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/butlerhub/switchboard/internal/envelope"
	"github.com/butlerhub/switchboard/internal/store"
)

// DefaultSkewBudget is how far into the future observed_at may lie before
// Accept logs a skew warning (it is still accepted, per spec.md §4.1).
const DefaultSkewBudget = 5 * time.Minute

// Result is returned by Accept.
type Result struct {
	RequestID string
	Duplicate bool
}

// Core wraps the database handle the dedupe insert runs against.
type Core struct {
	db *sql.DB
}

// New builds a Core against the given *sql.DB (the same one backing
// *store.Store).
func New(db *sql.DB) *Core {
	return &Core{db: db}
}

// Accept validates env, derives its dedupe key, and serializes the
// find-or-insert against an advisory lock keyed by a stable hash of that
// key. Returns ErrInvalidEnvelope-wrapped errors for schema violations;
// every other failure is a retryable database error.
func (c *Core) Accept(ctx context.Context, env *envelope.Envelope) (Result, error) {
	if err := env.Validate(); err != nil {
		return Result{}, err
	}

	if skew := env.ObservedSkew(time.Now()); skew > DefaultSkewBudget {
		// Accepted regardless; not treated as an error per spec.md §4.1.
		slog.Warn("dedupe: observed_at is ahead of now beyond the skew budget",
			"skew", skew, "endpoint_identity", env.Source.EndpointIdentity)
	}

	dedupeKey, strategy := envelope.DedupeKey(env)
	lockKey := envelope.HashKey64(dedupeKey)

	var result Result
	err := withTx(ctx, c.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}

		existing, err := store.FindInboxByDedupeKey(ctx, tx, dedupeKey)
		if err != nil {
			return err
		}
		if existing != nil {
			result = Result{RequestID: existing.RequestID, Duplicate: true}
			return nil
		}

		requestID, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate request id: %w", err)
		}
		if err := store.InsertInbox(ctx, tx, requestID.String(), env, dedupeKey, strategy); err != nil {
			return err
		}
		result = Result{RequestID: requestID.String(), Duplicate: false}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}
