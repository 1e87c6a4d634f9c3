package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DedupeStrategy names which rung of the priority ladder produced a dedupe
// key, recorded on the inbox row for observability.
type DedupeStrategy string

const (
	DedupeStrategyIdempotencyKey DedupeStrategy = "idempotency_key"
	DedupeStrategyEventID        DedupeStrategy = "event_id"
	DedupeStrategyHash           DedupeStrategy = "hash"
)

// DedupeKey derives the stable dedupe key for an envelope following the
// three-rung priority ladder from spec.md §3:
//  1. control.idempotency_key, if set.
//  2. event.external_event_id, if it is not a placeholder value.
//  3. a content hash bucketed to the hour.
func DedupeKey(e *Envelope) (key string, strategy DedupeStrategy) {
	if e.Control.IdempotencyKey != "" {
		return fmt.Sprintf("idem:%s:%s:%s", e.Source.Channel, e.Source.EndpointIdentity, e.Control.IdempotencyKey), DedupeStrategyIdempotencyKey
	}
	if e.Event.HasRealEventID() {
		return fmt.Sprintf("event:%s:%s:%s:%s", e.Source.Channel, e.Source.Provider, e.Source.EndpointIdentity, e.Event.ExternalEventID), DedupeStrategyEventID
	}
	bucket := e.Event.ObservedAt.UTC().Format("2006010215")
	sum := sha256.Sum256([]byte(e.Payload.NormalizedText + ":" + e.Sender.Identity))
	hashPrefix := hex.EncodeToString(sum[:])[:16]
	return fmt.Sprintf("hash:%s:%s:%s:%s:%s", e.Source.Channel, e.Source.EndpointIdentity, e.Sender.Identity, bucket, hashPrefix), DedupeStrategyHash
}

// HashKey64 reduces an arbitrary string to a stable 64-bit value suitable as
// the key of a transaction-scoped advisory lock: internal/dedupe passes its
// result to pg_advisory_xact_lock. It is the first 8 bytes of the key's
// SHA-256, so it does not depend on Go's randomized map hashing or on the
// Postgres-side hashtext() function.
func HashKey64(key string) int64 {
	sum := sha256.Sum256([]byte(key))
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(sum[i])
	}
	return int64(v)
}
