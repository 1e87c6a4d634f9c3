package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/butlerhub/switchboard/internal/envelope"
	"github.com/butlerhub/switchboard/internal/store"
)

// RecordHeartbeat self-registers an unknown (connector_type, endpoint_identity)
// pair and otherwise updates its liveness/eligibility bookkeeping. The
// heartbeat's counters are stored as reported, replacing the previous
// snapshot; no delta against that snapshot is computed, and an instance_id
// change is not treated differently.
func (r *Registry) RecordHeartbeat(ctx context.Context, hb *envelope.Heartbeat) error {
	existing, err := store.GetConnectorRegistration(ctx, r.store.DB(), hb.Connector.ConnectorType, hb.Connector.EndpointIdentity)
	if err != nil {
		return fmt.Errorf("get connector registration: %w", err)
	}

	live := LivenessOnline // a heartbeat just arrived, so it is online by definition
	quarantined := existing != nil && existing.Eligibility == string(EligibilityQuarantined)
	eligibility := DeriveEligibility(live, quarantined)

	// The heartbeat's counters are cumulative since the connector instance
	// started; they are stored as-is. Nothing in this module differences them
	// or aggregates them into the connector_stats_* tables.
	counters := make(map[string]int64, len(hb.Counters))
	for k, v := range hb.Counters {
		counters[k] = v
	}

	reg := store.ConnectorRegistration{
		ConnectorType:    hb.Connector.ConnectorType,
		EndpointIdentity: hb.Connector.EndpointIdentity,
		InstanceID:       hb.Connector.InstanceID,
		Liveness:         string(live),
		Eligibility:      string(eligibility),
		Counters:         counters,
	}
	if hb.Checkpoint != nil {
		reg.Cursor.String = hb.Checkpoint.Cursor
		reg.Cursor.Valid = hb.Checkpoint.Cursor != ""
	}

	if err := store.UpsertConnectorHeartbeat(ctx, r.store.DB(), reg); err != nil {
		return fmt.Errorf("upsert connector heartbeat: %w", err)
	}

	if existing != nil && existing.Eligibility != string(eligibility) {
		if err := store.SetConnectorEligibility(ctx, r.store.DB(), hb.Connector.ConnectorType, hb.Connector.EndpointIdentity,
			existing.Eligibility, string(eligibility), "heartbeat liveness transition"); err != nil {
			return fmt.Errorf("record eligibility transition: %w", err)
		}
	}
	return nil
}

// QuarantineConnector sets a connector's eligibility to quarantined
// (quarantine true) or back to active (quarantine false). It is the only,
// operator-invoked path back from quarantined to active; spec.md §4.7
// requires this never happen automatically.
func (r *Registry) QuarantineConnector(ctx context.Context, connectorType, endpointIdentity, reason string, quarantine bool) error {
	existing, err := store.GetConnectorRegistration(ctx, r.store.DB(), connectorType, endpointIdentity)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("connector %s/%s not registered", connectorType, endpointIdentity)
	}
	next := string(EligibilityActive)
	if quarantine {
		next = string(EligibilityQuarantined)
	}
	if existing.Eligibility == next {
		return nil
	}
	return store.SetConnectorEligibility(ctx, r.store.DB(), connectorType, endpointIdentity, existing.Eligibility, next, reason)
}

// SweepLiveness recomputes liveness/eligibility for every connector based on
// heartbeat age alone, without waiting for the next heartbeat to arrive —
// this is what lets a connector age from online to stale to offline between
// heartbeats.
func (r *Registry) SweepLiveness(ctx context.Context) error {
	connectors, err := store.ListConnectors(ctx, r.store.DB())
	if err != nil {
		return fmt.Errorf("list connectors: %w", err)
	}
	now := time.Now()
	for _, c := range connectors {
		var lastSeen *time.Time
		if c.LastHeartbeatAt.Valid {
			t := c.LastHeartbeatAt.Time
			lastSeen = &t
		}
		live := DeriveLiveness(lastSeen, now)
		quarantined := c.Eligibility == string(EligibilityQuarantined)
		eligibility := DeriveEligibility(live, quarantined)
		if string(eligibility) == c.Eligibility {
			continue
		}
		if err := store.SetConnectorEligibility(ctx, r.store.DB(), c.ConnectorType, c.EndpointIdentity,
			c.Eligibility, string(eligibility), "liveness sweep"); err != nil {
			return fmt.Errorf("sweep eligibility %s/%s: %w", c.ConnectorType, c.EndpointIdentity, err)
		}
	}
	return nil
}
