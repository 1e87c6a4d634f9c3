package envelope

import (
	"fmt"
	"time"
)

// ConnectorState is the health state a connector self-reports.
type ConnectorState string

const (
	ConnectorHealthy  ConnectorState = "healthy"
	ConnectorDegraded ConnectorState = "degraded"
	ConnectorError    ConnectorState = "error"
)

// MinHeartbeatInterval and MaxHeartbeatInterval bound the interval connectors
// may configure; the connector clamps locally, the server accepts whatever
// interval it is told without re-validating it (spec.md §8 boundary case).
const (
	MinHeartbeatInterval = 30 * time.Second
	MaxHeartbeatInterval = 300 * time.Second
	DefaultHeartbeatInterval = 120 * time.Second
)

// ConnectorIdentity names the (connector_type, endpoint_identity, instance_id)
// triple a heartbeat belongs to.
type ConnectorIdentity struct {
	ConnectorType    string `json:"connector_type"`
	EndpointIdentity string `json:"endpoint_identity"`
	InstanceID       string `json:"instance_id"`
	Version          string `json:"version,omitempty"`
}

// HeartbeatStatus is the connector's self-reported health at send time.
type HeartbeatStatus struct {
	State        ConnectorState `json:"state"`
	ErrorMessage string         `json:"error_message,omitempty"`
	UptimeS      int64          `json:"uptime_s"`
}

// Checkpoint is the connector's last durably-committed read position.
type Checkpoint struct {
	Cursor    string    `json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Heartbeat is the connector.heartbeat.v1 envelope.
type Heartbeat struct {
	SchemaVersion string            `json:"schema_version"`
	Connector     ConnectorIdentity `json:"connector"`
	Status        HeartbeatStatus   `json:"status"`
	Counters      map[string]int64  `json:"counters,omitempty"`
	Checkpoint    *Checkpoint       `json:"checkpoint,omitempty"`
	Capabilities  map[string]bool   `json:"capabilities,omitempty"`
	SentAt        time.Time         `json:"sent_at"`
}

// Validate runs the cross-field invariants a JSON Schema cannot express.
func (h *Heartbeat) Validate() error {
	if h.SchemaVersion != HeartbeatSchemaVersion {
		return fmt.Errorf("%w: unsupported schema_version %q", ErrInvalidHeartbeat, h.SchemaVersion)
	}
	if h.Connector.ConnectorType == "" || h.Connector.EndpointIdentity == "" || h.Connector.InstanceID == "" {
		return fmt.Errorf("%w: connector identity fields must be set", ErrInvalidHeartbeat)
	}
	switch h.Status.State {
	case ConnectorHealthy, ConnectorDegraded, ConnectorError:
	default:
		return fmt.Errorf("%w: invalid status.state %q", ErrInvalidHeartbeat, h.Status.State)
	}
	if h.Status.State == ConnectorError && h.Status.ErrorMessage == "" {
		return fmt.Errorf("%w: status.state=error requires error_message", ErrInvalidHeartbeat)
	}
	if h.SentAt.IsZero() {
		return fmt.Errorf("%w: sent_at must be set", ErrInvalidHeartbeat)
	}
	return nil
}

// ClampInterval clamps a connector-configured heartbeat interval into
// [30,300]s per spec.md §4.2/§6.
func ClampInterval(d time.Duration) time.Duration {
	if d < MinHeartbeatInterval {
		return MinHeartbeatInterval
	}
	if d > MaxHeartbeatInterval {
		return MaxHeartbeatInterval
	}
	return d
}
