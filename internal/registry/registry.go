// Package registry derives butler and connector liveness/eligibility and
// builds, from the database, the registry snapshot the Switchboard
// classifies against.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/butlerhub/switchboard/internal/store"
)

// Liveness is a connector's heartbeat-recency classification.
type Liveness string

const (
	LivenessOnline  Liveness = "online"
	LivenessStale   Liveness = "stale"
	LivenessOffline Liveness = "offline"
)

// Eligibility is whether a connector is allowed to keep submitting.
type Eligibility string

const (
	EligibilityActive      Eligibility = "active"
	EligibilityStale       Eligibility = "stale"
	EligibilityQuarantined Eligibility = "quarantined"
)

const (
	onlineThreshold = 5 * time.Minute
	staleThreshold  = 15 * time.Minute
)

// DeriveLiveness classifies a connector by the age of its last heartbeat,
// per spec.md §4.2: online <5min, stale 5-15min, offline otherwise or never.
func DeriveLiveness(lastHeartbeatAt *time.Time, now time.Time) Liveness {
	if lastHeartbeatAt == nil {
		return LivenessOffline
	}
	age := now.Sub(*lastHeartbeatAt)
	switch {
	case age < onlineThreshold:
		return LivenessOnline
	case age < staleThreshold:
		return LivenessStale
	default:
		return LivenessOffline
	}
}

// DeriveEligibility is active iff the heartbeat is within the online/stale
// TTL and the connector has not been quarantined; quarantine always wins.
func DeriveEligibility(live Liveness, quarantined bool) Eligibility {
	if quarantined {
		return EligibilityQuarantined
	}
	if live == LivenessOffline {
		return EligibilityStale
	}
	return EligibilityActive
}

// ButlerSnapshot is one entry of the in-memory registry the classifier sees.
type ButlerSnapshot struct {
	Name       string
	Endpoint   string
	Modules    []string
	Eligible   bool
	LastSeenAt *time.Time
}

// Registry reads butler and connector rows from the switchboard store on
// every call; it keeps no in-process cache.
type Registry struct {
	store *store.Store
}

// New builds a Registry backed by the switchboard's persistent store.
func New(s *store.Store) *Registry {
	return &Registry{store: s}
}

// Snapshot returns every registered butler except "switchboard" itself,
// the set the classifier is allowed to route to. A butler is eligible while
// its liveness is not offline (same online/stale/offline liveness
// classification as a connector, derived from last_seen_at).
func (r *Registry) Snapshot(ctx context.Context) ([]ButlerSnapshot, error) {
	rows, err := store.ListButlers(ctx, r.store.DB())
	if err != nil {
		return nil, fmt.Errorf("list butlers: %w", err)
	}
	now := time.Now()
	out := make([]ButlerSnapshot, 0, len(rows))
	for _, row := range rows {
		if row.Name == "switchboard" {
			continue
		}
		var lastSeen *time.Time
		if row.LastSeenAt.Valid {
			t := row.LastSeenAt.Time
			lastSeen = &t
		}
		live := DeriveLiveness(lastSeen, now)
		out = append(out, ButlerSnapshot{
			Name:       row.Name,
			Endpoint:   row.EndpointURL,
			Modules:    row.Modules,
			Eligible:   live != LivenessOffline,
			LastSeenAt: lastSeen,
		})
	}
	return out, nil
}

// Discover rescans butler config and upserts registry rows. Rows for
// vanished butlers are retained (no auto-removal); their last_seen_at is
// simply not touched until they heartbeat again.
func (r *Registry) Discover(ctx context.Context, configured []store.ButlerRegistration) error {
	for _, b := range configured {
		if err := store.UpsertButlerRegistration(ctx, r.store.DB(), b); err != nil {
			return fmt.Errorf("discover butler %s: %w", b.Name, err)
		}
	}
	return nil
}

// Find looks up a single butler by name for route().
func (r *Registry) Find(ctx context.Context, name string) (*store.ButlerRegistration, error) {
	rows, err := store.ListButlers(ctx, r.store.DB())
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Name == name {
			row := row
			return &row, nil
		}
	}
	return nil, nil
}
