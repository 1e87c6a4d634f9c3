// Package envelope defines the ingest.v1 and connector.heartbeat.v1 wire
// contracts: the canonical inbound message record a connector submits to the
// Switchboard, and the periodic liveness record it emits alongside it.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the only ingest schema version this build understands.
const SchemaVersion = "ingest.v1"

// HeartbeatSchemaVersion is the only heartbeat schema version this build
// understands.
const HeartbeatSchemaVersion = "connector.heartbeat.v1"

// Channel is the transport the message arrived on.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelEmail    Channel = "email"
	ChannelAPI      Channel = "api"
	ChannelMCP      Channel = "mcp"
)

// Provider is the concrete backend behind a Channel.
type Provider string

const (
	ProviderTelegram Provider = "telegram"
	ProviderGmail    Provider = "gmail"
	ProviderIMAP     Provider = "imap"
	ProviderInternal Provider = "internal"
)

// validChannelProvider is the fixed set of legal (channel, provider) pairs.
var validChannelProvider = map[Channel]map[Provider]bool{
	ChannelTelegram: {ProviderTelegram: true},
	ChannelEmail:    {ProviderGmail: true, ProviderIMAP: true},
	ChannelAPI:      {ProviderInternal: true},
	ChannelMCP:      {ProviderInternal: true},
}

// PolicyTier is a queue-ordering hint carried on the envelope.
type PolicyTier string

const (
	PolicyDefault     PolicyTier = "default"
	PolicyInteractive PolicyTier = "interactive"
	PolicyHighPri     PolicyTier = "high_priority"
)

// IngestionTier selects whether the full payload or only metadata is kept.
type IngestionTier string

const (
	IngestionFull     IngestionTier = "full"
	IngestionMetadata IngestionTier = "metadata"
)

// Source identifies where a message came from.
type Source struct {
	Channel         Channel  `json:"channel"`
	Provider        Provider `json:"provider"`
	EndpointIdentity string  `json:"endpoint_identity"`
}

// Event carries the source-native event identity and timing.
type Event struct {
	ExternalEventID  string    `json:"external_event_id"`
	ExternalThreadID string    `json:"external_thread_id,omitempty"`
	ObservedAt       time.Time `json:"observed_at"`
}

// Sender identifies who sent the message.
type Sender struct {
	Identity string `json:"identity"`
}

// Attachment is a reference to out-of-band content; bytes are never inlined.
type Attachment struct {
	MediaType  string `json:"media_type"`
	StorageRef string `json:"storage_ref"`
	SizeBytes  int64  `json:"size_bytes"`
	Filename   string `json:"filename,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}

// Payload carries the message body.
type Payload struct {
	Raw            json.RawMessage `json:"raw,omitempty"`
	NormalizedText string          `json:"normalized_text"`
	Attachments    []Attachment    `json:"attachments,omitempty"`
}

// Control carries routing and idempotency hints.
type Control struct {
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	TraceContext   string        `json:"trace_context,omitempty"`
	PolicyTier     PolicyTier    `json:"policy_tier"`
	IngestionTier  IngestionTier `json:"ingestion_tier"`
}

// Envelope is the canonical ingest.v1 inbound message record. It is
// immutable once accepted by the dedupe core.
type Envelope struct {
	SchemaVersion string  `json:"schema_version"`
	Source        Source  `json:"source"`
	Event         Event   `json:"event"`
	Sender        Sender  `json:"sender"`
	Payload       Payload `json:"payload"`
	Control       Control `json:"control"`
}

// placeholderEventIDs are external_event_id values that do not count as a
// real source-native identity for dedupe-key derivation purposes.
var placeholderEventIDs = map[string]bool{
	"":            true,
	"unknown":     true,
	"none":        true,
	"placeholder": true,
}

// HasRealEventID reports whether Event.ExternalEventID is a usable,
// non-placeholder identifier.
func (e *Event) HasRealEventID() bool {
	return !placeholderEventIDs[e.ExternalEventID]
}

// Validate runs the Go-level cross-field invariants from spec.md §3. JSON
// Schema validation (required fields, enum membership) is expected to have
// already run via Validator.ValidateIngest; Validate re-checks the
// invariants a JSON Schema cannot express (tier/raw pairing, channel/provider
// pairing, timestamp sanity).
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: envelope must not be nil", ErrInvalidEnvelope)
	}
	if e.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: unsupported schema_version %q", ErrInvalidEnvelope, e.SchemaVersion)
	}
	providers, ok := validChannelProvider[e.Source.Channel]
	if !ok || !providers[e.Source.Provider] {
		return fmt.Errorf("%w: invalid channel/provider pair %q/%q", ErrInvalidEnvelope, e.Source.Channel, e.Source.Provider)
	}
	if e.Source.EndpointIdentity == "" {
		return fmt.Errorf("%w: source.endpoint_identity must not be empty", ErrInvalidEnvelope)
	}
	if e.Event.ExternalEventID == "" {
		return fmt.Errorf("%w: event.external_event_id must not be empty", ErrInvalidEnvelope)
	}
	if e.Event.ObservedAt.IsZero() {
		return fmt.Errorf("%w: event.observed_at must be set", ErrInvalidEnvelope)
	}
	if e.Payload.NormalizedText == "" {
		return fmt.Errorf("%w: payload.normalized_text must not be empty", ErrInvalidEnvelope)
	}
	switch e.Control.IngestionTier {
	case IngestionFull:
		if len(e.Payload.Raw) == 0 || string(e.Payload.Raw) == "null" {
			return fmt.Errorf("%w: ingestion_tier=full requires a non-empty payload.raw", ErrInvalidEnvelope)
		}
	case IngestionMetadata:
		if len(e.Payload.Raw) != 0 && string(e.Payload.Raw) != "null" {
			return fmt.Errorf("%w: ingestion_tier=metadata requires payload.raw to be absent", ErrInvalidEnvelope)
		}
	default:
		return fmt.Errorf("%w: invalid control.ingestion_tier %q", ErrInvalidEnvelope, e.Control.IngestionTier)
	}
	switch e.Control.PolicyTier {
	case PolicyDefault, PolicyInteractive, PolicyHighPri:
	default:
		return fmt.Errorf("%w: invalid control.policy_tier %q", ErrInvalidEnvelope, e.Control.PolicyTier)
	}
	return nil
}

// ObservedSkew reports how far in the future observed_at lies relative to
// now. A positive result beyond the configured skew budget should be logged
// by the caller but never rejected.
func (e *Envelope) ObservedSkew(now time.Time) time.Duration {
	return e.Event.ObservedAt.Sub(now)
}
