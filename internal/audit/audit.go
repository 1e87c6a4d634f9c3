// Package audit centralizes the two append-only logs spec.md §6 names as
// part of the Switchboard schema — routing_log and notifications — so
// Router.Route and the MCP tool server's notify() write through the same
// place instead of each holding its own *sql.DB call. Grounded on
// internal/gitai/observability's role as the one place Gitai funneled
// cross-cutting writes through, generalized here from logging to durable
// audit-trail writes.
package audit

import (
	"context"
	"database/sql"

	"github.com/butlerhub/switchboard/internal/store"
)

// Log appends to the Switchboard's routing_log and notifications tables.
type Log struct {
	Store *store.Store
}

// New builds a Log backed by st.
func New(st *store.Store) *Log {
	return &Log{Store: st}
}

// RecordRoute appends one routing-log entry. Like the teacher's logger
// calls, a write failure here is not meant to unwind the route itself —
// callers ignore the returned id and only look at the error for their own
// diagnostics.
func (l *Log) RecordRoute(ctx context.Context, e store.RoutingLogEntry) (int64, error) {
	return store.AppendRoutingLog(ctx, l.Store.DB(), e)
}

// Group returns every routing-log entry sharing groupID, in insertion order.
func (l *Log) Group(ctx context.Context, groupID string) ([]store.RoutingLogEntry, error) {
	return store.RoutingLogForGroup(ctx, l.Store.DB(), groupID)
}

// RecordNotification appends one notify() delivery attempt, filling in
// Error from deliveryErr when non-nil.
func (l *Log) RecordNotification(ctx context.Context, sourceButler, channel, message, intent, status string, deliveryErr error) (int64, error) {
	n := store.Notification{
		SourceButler: sourceButler,
		Channel:      channel,
		Message:      message,
		Intent:       intent,
		Status:       status,
	}
	if deliveryErr != nil {
		n.Error = sql.NullString{String: deliveryErr.Error(), Valid: true}
	}
	return store.RecordNotification(ctx, l.Store.DB(), n)
}
