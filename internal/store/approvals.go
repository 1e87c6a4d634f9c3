package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ApprovalStatus is the lifecycle state of a pending approval_required
// handle.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalDenied    ApprovalStatus = "denied"
	ApprovalExpired   ApprovalStatus = "expired"
	ApprovalCancelled ApprovalStatus = "cancelled"
)

// ApprovalRecord mirrors a row of switchboard.approvals.
type ApprovalRecord struct {
	ID            string
	Butler        string
	Tool          string
	ArgsJSON      string
	Description   string
	Status        ApprovalStatus
	RequestedAt   time.Time
	ExpiresAt     time.Time
	ResolvedAt    sql.NullTime
	ResolvedBy    sql.NullString
	ResolveReason sql.NullString
}

// maxApprovalIDRetries bounds retrying a fresh id on the unlikely event of a
// collision, same shape as internal/ruriko/approvals/store.go's Create.
const maxApprovalIDRetries = 3

func generateApprovalID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate approval id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CreateApproval persists a new pending approval handle.
func CreateApproval(ctx context.Context, q queryer, butler, tool string, args json.RawMessage, description string, ttl time.Duration) (ApprovalRecord, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	var lastErr error
	for attempt := 0; attempt < maxApprovalIDRetries; attempt++ {
		id, err := generateApprovalID()
		if err != nil {
			return ApprovalRecord{}, err
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO switchboard.approvals (id, butler, tool, args_json, description, status, requested_at, expires_at)
			VALUES ($1,$2,$3,$4,$5,'pending',$6,$7)`,
			id, butler, tool, string(args), description, now, expiresAt)
		if err != nil {
			lastErr = err
			continue
		}
		return ApprovalRecord{
			ID: id, Butler: butler, Tool: tool, ArgsJSON: string(args), Description: description,
			Status: ApprovalPending, RequestedAt: now, ExpiresAt: expiresAt,
		}, nil
	}
	return ApprovalRecord{}, fmt.Errorf("create approval after %d attempts: %w", maxApprovalIDRetries, lastErr)
}

// GetApproval fetches one approval by id.
func GetApproval(ctx context.Context, q queryer, id string) (ApprovalRecord, error) {
	var a ApprovalRecord
	var status string
	err := q.QueryRowContext(ctx, `
		SELECT id, butler, tool, args_json, description, status, requested_at, expires_at, resolved_at, resolved_by, resolve_reason
		FROM switchboard.approvals WHERE id = $1`, id,
	).Scan(&a.ID, &a.Butler, &a.Tool, &a.ArgsJSON, &a.Description, &status, &a.RequestedAt, &a.ExpiresAt, &a.ResolvedAt, &a.ResolvedBy, &a.ResolveReason)
	if err == sql.ErrNoRows {
		return ApprovalRecord{}, fmt.Errorf("approval not found: %s", id)
	}
	if err != nil {
		return ApprovalRecord{}, fmt.Errorf("get approval: %w", err)
	}
	a.Status = ApprovalStatus(status)
	return a, nil
}

// ResolveApproval transitions a pending approval to a terminal status.
// Resolving an already-resolved approval is rejected (no rows match the
// WHERE status = 'pending' guard).
func ResolveApproval(ctx context.Context, q queryer, id string, status ApprovalStatus, resolvedBy, reason string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE switchboard.approvals
		SET status = $2, resolved_at = now(), resolved_by = $3, resolve_reason = $4
		WHERE id = $1 AND status = 'pending'`,
		id, string(status), nullableString(resolvedBy), nullableString(reason))
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve approval rows affected: %w", err)
	}
	if n == 0 {
		existing, lookupErr := GetApproval(ctx, q, id)
		if lookupErr != nil {
			return fmt.Errorf("approval not found: %s", id)
		}
		return fmt.Errorf("approval %s is already %q and cannot be changed", id, existing.Status)
	}
	return nil
}

// ExpireStaleApprovals marks every past-deadline pending approval as
// expired and returns the count affected.
func ExpireStaleApprovals(ctx context.Context, q queryer) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE switchboard.approvals SET status = 'expired', resolved_at = now()
		WHERE status = 'pending' AND expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("expire stale approvals: %w", err)
	}
	return res.RowsAffected()
}

// ApprovalRule mirrors a row of switchboard.approval_rules: a standing rule
// that auto-approves matching future calls.
type ApprovalRule struct {
	ID          int64
	Butler      string
	Tool        string
	Constraints map[string]string
}

// ListApprovalRules returns every standing rule, in insertion order (the
// order internal/policy.Engine evaluates them first-match-wins).
func ListApprovalRules(ctx context.Context, q queryer) ([]ApprovalRule, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, butler, tool, constraints FROM switchboard.approval_rules ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list approval rules: %w", err)
	}
	defer rows.Close()

	var out []ApprovalRule
	for rows.Next() {
		var r ApprovalRule
		var raw []byte
		if err := rows.Scan(&r.ID, &r.Butler, &r.Tool, &raw); err != nil {
			return nil, fmt.Errorf("scan approval rule: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &r.Constraints); err != nil {
				return nil, fmt.Errorf("decode approval rule constraints: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateApprovalRule persists a standing auto-approval rule.
func CreateApprovalRule(ctx context.Context, q queryer, butler, tool string, constraints map[string]string) (int64, error) {
	raw, err := json.Marshal(constraints)
	if err != nil {
		return 0, fmt.Errorf("encode approval rule constraints: %w", err)
	}
	var id int64
	err = q.QueryRowContext(ctx, `
		INSERT INTO switchboard.approval_rules (butler, tool, constraints) VALUES ($1,$2,$3) RETURNING id`,
		butler, tool, raw).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create approval rule: %w", err)
	}
	return id, nil
}
