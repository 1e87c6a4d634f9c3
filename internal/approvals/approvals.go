// Package approvals implements spec.md §7's approval-gating workflow: a
// sensitive tool call that isn't covered by a standing rule is held as a
// pending approval with an opaque handle, until a separate decision (over
// whatever channel the operator uses) approves or denies it. Generalized
// from internal/ruriko/approvals' Matrix-room-specific flow to a
// channel-agnostic one — Gate itself never sends anything; it only
// persists state and answers CheckApproval/ParseDecision.
package approvals

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/butlerhub/switchboard/internal/policy"
	"github.com/butlerhub/switchboard/internal/store"
)

// DefaultTTL is how long a pending approval remains valid if the caller
// doesn't override it.
const DefaultTTL = 24 * time.Hour

// Gate implements internal/mcpserver.Approvals: it decides, for one
// sensitive tool call, whether a standing rule already covers it or whether
// a fresh approval handle must be minted.
type Gate struct {
	Store  *store.Store
	Policy *policy.Engine
	TTL    time.Duration
}

// NewGate builds a Gate. rules is the standing-rule set evaluated before
// minting a new approval handle; pass nil for no standing rules (every
// sensitive call then always requires a fresh approval).
func NewGate(st *store.Store, rules []policy.Rule, ttl time.Duration) *Gate {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Gate{Store: st, Policy: policy.New(rules), TTL: ttl}
}

// CheckApproval satisfies internal/mcpserver.Approvals. A standing-rule
// match short-circuits without touching the database at all; otherwise it
// creates a pending approval row and returns its id as the opaque handle.
func (g *Gate) CheckApproval(ctx context.Context, butler, tool string, args json.RawMessage) (string, string, error) {
	var decoded map[string]interface{}
	_ = json.Unmarshal(args, &decoded)

	decision, rule := g.Policy.Evaluate(butler, tool, decoded)
	switch decision {
	case policy.DecisionAllow:
		return "", "", nil
	case policy.DecisionDeny:
		return "", "", fmt.Errorf("call denied by standing rule %q", rule)
	}

	description := fmt.Sprintf("%s requests %s", butler, tool)
	rec, err := store.CreateApproval(ctx, g.Store.DB(), butler, tool, args, description, g.TTL)
	if err != nil {
		return "", "", fmt.Errorf("create approval: %w", err)
	}
	return rec.ID, description, nil
}

// Approve resolves handle as approved.
func (g *Gate) Approve(ctx context.Context, handle, resolvedBy, reason string) error {
	return store.ResolveApproval(ctx, g.Store.DB(), handle, store.ApprovalApproved, resolvedBy, reason)
}

// Deny resolves handle as denied.
func (g *Gate) Deny(ctx context.Context, handle, resolvedBy, reason string) error {
	return store.ResolveApproval(ctx, g.Store.DB(), handle, store.ApprovalDenied, resolvedBy, reason)
}

// ExpireStale marks every past-deadline pending approval as expired. Meant
// to be called periodically, the same way the teacher's Gate.CheckExpiry
// was driven from its reconciler loop.
func (g *Gate) ExpireStale(ctx context.Context) (int64, error) {
	return store.ExpireStaleApprovals(ctx, g.Store.DB())
}
