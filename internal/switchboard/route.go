// Package switchboard implements the ingest pipeline: dedupe, triage,
// classification and routing of an accepted envelope to one or more
// butlers.
package switchboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/butlerhub/switchboard/internal/audit"
	"github.com/butlerhub/switchboard/internal/mcp"
	"github.com/butlerhub/switchboard/internal/registry"
	"github.com/butlerhub/switchboard/internal/store"
)

var (
	errButlerNotFound  = fmt.Errorf("butler not found")
	errSelfRouteDenied = fmt.Errorf("not permitted: switchboard cannot route to itself")
)

// Router resolves a butler by name, calls its MCP endpoint, and records the
// outcome in the routing log. It implements internal/mcpserver.Router; the
// classifier's route() tool calls go through Classifier.dispatchOne instead.
type Router struct {
	Registry *registry.Registry
	Store    *store.Store
	Audit    *audit.Log
	Dial     func(endpoint string) *mcp.Client
}

// NewRouter builds a Router. dial lets tests substitute a fake MCP client;
// production callers pass a constructor wrapping mcp.NewClient.
func NewRouter(reg *registry.Registry, st *store.Store, dial func(endpoint string) *mcp.Client) *Router {
	return &Router{Registry: reg, Store: st, Audit: audit.New(st), Dial: dial}
}

// Route resolves toButler, calls tool on it, and appends a routing-log
// entry. A self-route (toButler == "switchboard") and a registry lookup
// miss are both rejected before any network call. last_seen_at is only
// touched on success; the routing-log entry is written either way, so the
// monotonicity invariant over group_id holds even across failures.
func (r *Router) Route(ctx context.Context, fromButler, toButler, tool string, args json.RawMessage) (*mcp.CallToolResult, error) {
	entry := store.RoutingLogEntry{
		SourceChannel: "mcp",
		SourceSender:  fromButler,
		PromptSummary: tool,
		TraceID:       traceIDFromContext(ctx),
	}

	if toButler == "switchboard" {
		entry.Outcome = "error:not_permitted"
		r.appendLog(ctx, entry)
		return nil, errSelfRouteDenied
	}

	target, err := r.Registry.Find(ctx, toButler)
	if err != nil {
		entry.Outcome = "error:" + err.Error()
		r.appendLog(ctx, entry)
		return nil, fmt.Errorf("lookup butler %s: %w", toButler, err)
	}
	if target == nil {
		entry.Outcome = "error:not_found"
		r.appendLog(ctx, entry)
		return nil, fmt.Errorf("%w: %s", errButlerNotFound, toButler)
	}

	client := r.Dial(target.EndpointURL)
	result, callErr := client.CallTool(ctx, tool, args)
	if callErr != nil {
		entry.Outcome = "error:" + callErr.Error()
		r.appendLog(ctx, entry)
		return nil, callErr
	}

	entry.RoutedTo.String, entry.RoutedTo.Valid = toButler, true
	entry.Outcome = "routed"
	r.appendLog(ctx, entry)

	// A failure here is not surfaced: the route itself already succeeded.
	_ = store.TouchButlerLastSeen(ctx, r.Store.DB(), toButler)
	return result, nil
}

// appendLog never fails Route itself; a routing-log write failure is
// expected to surface through the caller's observability layer, not abort
// an otherwise-successful route.
func (r *Router) appendLog(ctx context.Context, e store.RoutingLogEntry) {
	if _, err := r.Audit.RecordRoute(ctx, e); err != nil {
		slog.Warn("router: routing-log write failed", "to", e.RoutedTo.String, "outcome", e.Outcome, "err", err)
	}
}
