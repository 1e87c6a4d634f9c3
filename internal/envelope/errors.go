package envelope

import "errors"

// ErrInvalidEnvelope is wrapped by every ingest.v1 validation failure, both
// the embedded-schema pass and the Go-level cross-field pass.
var ErrInvalidEnvelope = errors.New("invalid_envelope")

// ErrInvalidHeartbeat is wrapped by every connector.heartbeat.v1 validation
// failure.
var ErrInvalidHeartbeat = errors.New("invalid_heartbeat")
