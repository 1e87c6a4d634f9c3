package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RoutingLogEntry is an append-only record of a classification or routing
// decision.
type RoutingLogEntry struct {
	ID            int64
	SourceChannel string
	SourceSender  string
	RoutedTo      sql.NullString
	PromptSummary string
	TraceID       string
	GroupID       sql.NullString
	Outcome       string
	CreatedAt     time.Time
}

// AppendRoutingLog writes one routing-log row. routedTo and groupID may be
// empty; groupID links every sub-route of one decomposed envelope.
func AppendRoutingLog(ctx context.Context, q queryer, e RoutingLogEntry) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO switchboard.routing_log (source_channel, source_sender, routed_to, prompt_summary, trace_id, group_id, outcome)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		e.SourceChannel, e.SourceSender, nullableString(e.RoutedTo.String), e.PromptSummary, e.TraceID, nullableString(e.GroupID.String), e.Outcome,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append routing log: %w", err)
	}
	return id, nil
}

// RoutingLogForGroup returns every entry sharing groupID, ordered by
// insertion (the monotonicity invariant from spec.md §8).
func RoutingLogForGroup(ctx context.Context, q queryer, groupID string) ([]RoutingLogEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, source_channel, source_sender, routed_to, prompt_summary, trace_id, group_id, outcome, created_at
		FROM switchboard.routing_log WHERE group_id = $1 ORDER BY id ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("routing log for group: %w", err)
	}
	defer rows.Close()
	var out []RoutingLogEntry
	for rows.Next() {
		var e RoutingLogEntry
		if err := rows.Scan(&e.ID, &e.SourceChannel, &e.SourceSender, &e.RoutedTo, &e.PromptSummary, &e.TraceID, &e.GroupID, &e.Outcome, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan routing log row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
