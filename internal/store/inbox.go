package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/butlerhub/switchboard/internal/envelope"
)

// InboxRow is the persisted form of a message_inbox row.
type InboxRow struct {
	RequestID        string
	ReceivedAt       time.Time
	SourceChannel    string
	SourceProvider   string
	EndpointIdentity string
	ExternalEventID  string
	ExternalThreadID sql.NullString
	ObservedAt       time.Time
	SenderIdentity   string
	NormalizedText   string
	IngestionTier    string
	DedupeKey        string
	DedupeStrategy   string
	TriageDecision   sql.NullString
	TriageTarget     sql.NullString
	TriageRuleID     sql.NullString
}

// FindInboxByDedupeKey returns the existing row for dedupeKey, if any. It
// must always be called from inside the transaction holding the advisory
// lock on that key.
func FindInboxByDedupeKey(ctx context.Context, q queryer, dedupeKey string) (*InboxRow, error) {
	row := q.QueryRowContext(ctx, `
		SELECT request_id, received_at, source_channel, source_provider, endpoint_identity,
		       external_event_id, external_thread_id, observed_at, sender_identity,
		       normalized_text, ingestion_tier, dedupe_key, dedupe_strategy,
		       triage_decision, triage_target, triage_rule_id
		FROM switchboard.message_inbox WHERE dedupe_key = $1`, dedupeKey)
	var r InboxRow
	if err := row.Scan(&r.RequestID, &r.ReceivedAt, &r.SourceChannel, &r.SourceProvider, &r.EndpointIdentity,
		&r.ExternalEventID, &r.ExternalThreadID, &r.ObservedAt, &r.SenderIdentity,
		&r.NormalizedText, &r.IngestionTier, &r.DedupeKey, &r.DedupeStrategy,
		&r.TriageDecision, &r.TriageTarget, &r.TriageRuleID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find inbox by dedupe key: %w", err)
	}
	return &r, nil
}

// InsertInbox creates a new inbox row. Must be called inside the same
// advisory-locked transaction as the prior FindInboxByDedupeKey miss.
func InsertInbox(ctx context.Context, q queryer, requestID string, env *envelope.Envelope, dedupeKey string, strategy envelope.DedupeStrategy) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO switchboard.message_inbox (
			request_id, source_channel, source_provider, endpoint_identity,
			external_event_id, external_thread_id, observed_at, sender_identity,
			normalized_text, ingestion_tier, dedupe_key, dedupe_strategy
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		requestID, string(env.Source.Channel), string(env.Source.Provider), env.Source.EndpointIdentity,
		env.Event.ExternalEventID, nullableString(env.Event.ExternalThreadID), env.Event.ObservedAt, env.Sender.Identity,
		env.Payload.NormalizedText, string(env.Control.IngestionTier), dedupeKey, string(strategy),
	)
	if err != nil {
		return fmt.Errorf("insert inbox: %w", err)
	}
	return nil
}

// SetTriageDecision records the triage outcome for an inbox row so that
// thread-affinity lookups (internal/switchboard) can find a prior route for
// the same external_thread_id.
func SetTriageDecision(ctx context.Context, q queryer, requestID, decision, target, ruleID string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE switchboard.message_inbox
		SET triage_decision = $2, triage_target = $3, triage_rule_id = $4
		WHERE request_id = $1`, requestID, decision, nullableString(target), nullableString(ruleID))
	if err != nil {
		return fmt.Errorf("set triage decision: %w", err)
	}
	return nil
}

// PriorRouteForThread returns the butler a prior envelope on the same
// external_thread_id was routed to, for email thread-affinity triage.
func PriorRouteForThread(ctx context.Context, q queryer, channel, threadID string) (string, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT triage_target FROM switchboard.message_inbox
		WHERE source_channel = $1 AND external_thread_id = $2 AND triage_target IS NOT NULL
		ORDER BY received_at DESC LIMIT 1`, channel, threadID)
	var target string
	if err := row.Scan(&target); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("prior route for thread: %w", err)
	}
	return target, true, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
