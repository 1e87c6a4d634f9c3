package registry

import (
	"testing"
	"time"
)

func TestDeriveLiveness(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	if got := DeriveLiveness(nil, now); got != LivenessOffline {
		t.Fatalf("nil heartbeat = %s, want offline", got)
	}

	recent := now.Add(-1 * time.Minute)
	if got := DeriveLiveness(&recent, now); got != LivenessOnline {
		t.Fatalf("1min ago = %s, want online", got)
	}

	stale := now.Add(-10 * time.Minute)
	if got := DeriveLiveness(&stale, now); got != LivenessStale {
		t.Fatalf("10min ago = %s, want stale", got)
	}

	dead := now.Add(-20 * time.Minute)
	if got := DeriveLiveness(&dead, now); got != LivenessOffline {
		t.Fatalf("20min ago = %s, want offline", got)
	}
}

func TestDeriveEligibility(t *testing.T) {
	if got := DeriveEligibility(LivenessOnline, true); got != EligibilityQuarantined {
		t.Fatalf("quarantine always wins, got %s", got)
	}
	if got := DeriveEligibility(LivenessOnline, false); got != EligibilityActive {
		t.Fatalf("online+not quarantined = %s, want active", got)
	}
	if got := DeriveEligibility(LivenessStale, false); got != EligibilityActive {
		t.Fatalf("stale+not quarantined = %s, want active (TTL still covers it)", got)
	}
	if got := DeriveEligibility(LivenessOffline, false); got != EligibilityStale {
		t.Fatalf("offline+not quarantined = %s, want stale", got)
	}
}
