package envelope

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/ingest.v1.schema.json
var ingestSchemaJSON []byte

//go:embed schema/heartbeat.v1.schema.json
var heartbeatSchemaJSON []byte

// Validator compiles the embedded ingest.v1 and connector.heartbeat.v1 JSON
// Schemas once at construction and reuses the compiled forms for every
// subsequent validation — schema compilation is not cheap enough to redo per
// call on the ingest hot path.
type Validator struct {
	ingest    *jsonschema.Schema
	heartbeat *jsonschema.Schema
}

// NewValidator compiles both embedded schemas.
func NewValidator() (*Validator, error) {
	ingestCompiler := jsonschema.NewCompiler()
	if err := ingestCompiler.AddResource("ingest.v1.schema.json", bytes.NewReader(ingestSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add ingest schema resource: %w", err)
	}
	ingestSchema, err := ingestCompiler.Compile("ingest.v1.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile ingest schema: %w", err)
	}

	hbCompiler := jsonschema.NewCompiler()
	if err := hbCompiler.AddResource("heartbeat.v1.schema.json", bytes.NewReader(heartbeatSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add heartbeat schema resource: %w", err)
	}
	hbSchema, err := hbCompiler.Compile("heartbeat.v1.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile heartbeat schema: %w", err)
	}

	return &Validator{ingest: ingestSchema, heartbeat: hbSchema}, nil
}

// ValidateIngest runs the embedded ingest.v1 schema against raw JSON, then
// decodes into an Envelope and runs the Go-level cross-field invariants.
// This is the single entry point connectors and the Switchboard should use
// to turn a wire payload into a trusted Envelope.
func (v *Validator) ValidateIngest(data []byte) (*Envelope, error) {
	var asMap map[string]interface{}
	if err := json.Unmarshal(data, &asMap); err != nil {
		return nil, fmt.Errorf("%w: malformed json: %v", ErrInvalidEnvelope, err)
	}
	if err := v.ingest.Validate(asMap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// ValidateHeartbeat runs the embedded heartbeat schema, then the Go-level
// invariants.
func (v *Validator) ValidateHeartbeat(data []byte) (*Heartbeat, error) {
	var asMap map[string]interface{}
	if err := json.Unmarshal(data, &asMap); err != nil {
		return nil, fmt.Errorf("%w: malformed json: %v", ErrInvalidHeartbeat, err)
	}
	if err := v.heartbeat.Validate(asMap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeartbeat, err)
	}
	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeartbeat, err)
	}
	if err := hb.Validate(); err != nil {
		return nil, err
	}
	return &hb, nil
}
