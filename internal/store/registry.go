package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ButlerRegistration describes a single entry in switchboard.butler_registry.
type ButlerRegistration struct {
	Name        string
	EndpointURL string
	Description string
	Modules     []string
	LastSeenAt  sql.NullTime
	RegisteredAt time.Time
}

// UpsertButlerRegistration is used by discover() (config rescan) and does
// not touch LastSeenAt; a successful route() bumps LastSeenAt separately
// via TouchButlerLastSeen.
func UpsertButlerRegistration(ctx context.Context, q queryer, b ButlerRegistration) error {
	modules, err := json.Marshal(b.Modules)
	if err != nil {
		return fmt.Errorf("marshal modules: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO switchboard.butler_registry (name, endpoint_url, description, modules)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (name) DO UPDATE SET endpoint_url = EXCLUDED.endpoint_url,
			description = EXCLUDED.description, modules = EXCLUDED.modules`,
		b.Name, b.EndpointURL, b.Description, modules)
	if err != nil {
		return fmt.Errorf("upsert butler registration: %w", err)
	}
	return nil
}

// TouchButlerLastSeen bumps last_seen_at to now(), called on a successful
// route() call per spec.md §4.3.
func TouchButlerLastSeen(ctx context.Context, q queryer, name string) error {
	_, err := q.ExecContext(ctx, `UPDATE switchboard.butler_registry SET last_seen_at = now() WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("touch butler last seen: %w", err)
	}
	return nil
}

// ListButlers returns every registered butler, vanished ones included (no
// auto-removal per spec.md §4.3 discover()).
func ListButlers(ctx context.Context, q queryer) ([]ButlerRegistration, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, endpoint_url, description, modules, last_seen_at, registered_at FROM switchboard.butler_registry`)
	if err != nil {
		return nil, fmt.Errorf("list butlers: %w", err)
	}
	defer rows.Close()
	var out []ButlerRegistration
	for rows.Next() {
		var b ButlerRegistration
		var modules []byte
		if err := rows.Scan(&b.Name, &b.EndpointURL, &b.Description, &modules, &b.LastSeenAt, &b.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan butler registration: %w", err)
		}
		_ = json.Unmarshal(modules, &b.Modules)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ConnectorRegistration describes a single entry in switchboard.connector_registry.
type ConnectorRegistration struct {
	ConnectorType    string
	EndpointIdentity string
	InstanceID       string
	Version          sql.NullString
	Liveness         string
	Eligibility      string
	LastHeartbeatAt  sql.NullTime
	FirstSeenAt      time.Time
	Cursor           sql.NullString
	Counters         map[string]int64
}

// GetConnectorRegistration returns nil, nil if the connector has never
// registered.
func GetConnectorRegistration(ctx context.Context, q queryer, connectorType, endpointIdentity string) (*ConnectorRegistration, error) {
	row := q.QueryRowContext(ctx, `
		SELECT connector_type, endpoint_identity, instance_id, version, liveness, eligibility,
		       last_heartbeat_at, first_seen_at, cursor, counters
		FROM switchboard.connector_registry WHERE connector_type = $1 AND endpoint_identity = $2`,
		connectorType, endpointIdentity)
	var c ConnectorRegistration
	var counters []byte
	if err := row.Scan(&c.ConnectorType, &c.EndpointIdentity, &c.InstanceID, &c.Version, &c.Liveness, &c.Eligibility,
		&c.LastHeartbeatAt, &c.FirstSeenAt, &c.Cursor, &counters); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get connector registration: %w", err)
	}
	_ = json.Unmarshal(counters, &c.Counters)
	return &c, nil
}

// UpsertConnectorHeartbeat self-registers an unknown connector or updates an
// existing one's heartbeat bookkeeping. Liveness/eligibility are computed by
// internal/registry and passed in already derived.
func UpsertConnectorHeartbeat(ctx context.Context, q queryer, c ConnectorRegistration) error {
	counters, err := json.Marshal(c.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO switchboard.connector_registry (
			connector_type, endpoint_identity, instance_id, version, liveness, eligibility,
			last_heartbeat_at, cursor, counters
		) VALUES ($1,$2,$3,$4,$5,$6, now(), $7,$8)
		ON CONFLICT (connector_type, endpoint_identity) DO UPDATE SET
			instance_id = EXCLUDED.instance_id,
			version = EXCLUDED.version,
			liveness = EXCLUDED.liveness,
			eligibility = EXCLUDED.eligibility,
			last_heartbeat_at = now(),
			cursor = EXCLUDED.cursor,
			counters = EXCLUDED.counters`,
		c.ConnectorType, c.EndpointIdentity, c.InstanceID, c.Version, c.Liveness, c.Eligibility, c.Cursor, counters)
	if err != nil {
		return fmt.Errorf("upsert connector heartbeat: %w", err)
	}
	return nil
}

// SetConnectorEligibility updates eligibility and writes an audit row, per
// spec.md §4.7's "eligibility transitions are audited" invariant.
func SetConnectorEligibility(ctx context.Context, q queryer, connectorType, endpointIdentity, previous, next, reason string) error {
	if _, err := q.ExecContext(ctx, `
		UPDATE switchboard.connector_registry SET eligibility = $3
		WHERE connector_type = $1 AND endpoint_identity = $2`,
		connectorType, endpointIdentity, next); err != nil {
		return fmt.Errorf("set connector eligibility: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO switchboard.connector_eligibility_audit (connector_type, endpoint_identity, previous_state, new_state, reason)
		VALUES ($1,$2,$3,$4,$5)`,
		connectorType, endpointIdentity, previous, next, reason); err != nil {
		return fmt.Errorf("audit connector eligibility: %w", err)
	}
	return nil
}

// ListConnectors returns every registered connector, used by the liveness
// sweep.
func ListConnectors(ctx context.Context, q queryer) ([]ConnectorRegistration, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT connector_type, endpoint_identity, instance_id, version, liveness, eligibility,
		       last_heartbeat_at, first_seen_at, cursor, counters
		FROM switchboard.connector_registry`)
	if err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	defer rows.Close()
	var out []ConnectorRegistration
	for rows.Next() {
		var c ConnectorRegistration
		var counters []byte
		if err := rows.Scan(&c.ConnectorType, &c.EndpointIdentity, &c.InstanceID, &c.Version, &c.Liveness, &c.Eligibility,
			&c.LastHeartbeatAt, &c.FirstSeenAt, &c.Cursor, &counters); err != nil {
			return nil, fmt.Errorf("scan connector registration: %w", err)
		}
		_ = json.Unmarshal(counters, &c.Counters)
		out = append(out, c)
	}
	return out, rows.Err()
}
