package envelope

import (
	"testing"
	"time"
)

func baseEnvelope() *Envelope {
	return &Envelope{
		SchemaVersion: SchemaVersion,
		Source: Source{
			Channel:          ChannelTelegram,
			Provider:         ProviderTelegram,
			EndpointIdentity: "telegram:bot:b1",
		},
		Event: Event{
			ExternalEventID: "42",
			ObservedAt:      time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC),
		},
		Sender: Sender{Identity: "user:123"},
		Payload: Payload{
			NormalizedText: "Log my weight 75 kg",
		},
		Control: Control{
			PolicyTier:    PolicyDefault,
			IngestionTier: IngestionMetadata,
		},
	}
}

func TestDedupeKey_PrefersIdempotencyKey(t *testing.T) {
	e := baseEnvelope()
	e.Control.IdempotencyKey = "abc-123"
	key, strategy := DedupeKey(e)
	want := "idem:telegram:telegram:bot:b1:abc-123"
	if key != want {
		t.Fatalf("key = %q, want %q", key, want)
	}
	if strategy != DedupeStrategyIdempotencyKey {
		t.Fatalf("strategy = %q, want %q", strategy, DedupeStrategyIdempotencyKey)
	}
}

func TestDedupeKey_FallsBackToEventID(t *testing.T) {
	e := baseEnvelope()
	key, strategy := DedupeKey(e)
	want := "event:telegram:telegram:telegram:bot:b1:42"
	if key != want {
		t.Fatalf("key = %q, want %q", key, want)
	}
	if strategy != DedupeStrategyEventID {
		t.Fatalf("strategy = %q, want %q", strategy, DedupeStrategyEventID)
	}
}

func TestDedupeKey_PlaceholderEventIDFallsThroughToHash(t *testing.T) {
	for _, placeholder := range []string{"", "unknown", "none", "placeholder"} {
		e := baseEnvelope()
		e.Event.ExternalEventID = placeholder
		_, strategy := DedupeKey(e)
		if strategy != DedupeStrategyHash {
			t.Fatalf("placeholder %q: strategy = %q, want hash", placeholder, strategy)
		}
	}
}

func TestDedupeKey_SameEventIDSameKeyRegardlessOfText(t *testing.T) {
	e1 := baseEnvelope()
	e2 := baseEnvelope()
	e2.Payload.NormalizedText = "a completely different message"
	k1, _ := DedupeKey(e1)
	k2, _ := DedupeKey(e2)
	if k1 != k2 {
		t.Fatalf("expected identical dedupe keys for same event id, got %q vs %q", k1, k2)
	}
}

func TestDedupeKey_HashBucketsByHour(t *testing.T) {
	e := baseEnvelope()
	e.Event.ExternalEventID = ""
	e1 := *e
	e2 := *e
	e2.Event.ObservedAt = e1.Event.ObservedAt.Add(29 * time.Minute)
	e3 := *e
	e3.Event.ObservedAt = e1.Event.ObservedAt.Add(61 * time.Minute)

	k1, _ := DedupeKey(&e1)
	k2, _ := DedupeKey(&e2)
	k3, _ := DedupeKey(&e3)
	if k1 != k2 {
		t.Fatalf("same hour bucket should produce same key: %q vs %q", k1, k2)
	}
	if k1 == k3 {
		t.Fatalf("different hour bucket should produce different key")
	}
}

func TestHashKey64Deterministic(t *testing.T) {
	a := HashKey64("event:telegram:telegram:telegram:bot:b1:42")
	b := HashKey64("event:telegram:telegram:telegram:bot:b1:42")
	if a != b {
		t.Fatalf("HashKey64 must be deterministic")
	}
}
