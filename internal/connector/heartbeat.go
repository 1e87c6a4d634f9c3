package connector

import (
	"context"
	"log/slog"
	"time"

	"github.com/butlerhub/switchboard/internal/envelope"
)

// heartbeatLoop emits a connector.heartbeat.v1 envelope every
// cfg.HeartbeatInterval until ctx is cancelled. A heartbeat failure never
// stops the loop or the ingestion read loop; it logs and retries on the
// next tick (spec.md §4.3: "heartbeat failures are logged, not fatal").
func (r *Runtime) heartbeatLoop(ctx context.Context) {
	interval := r.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = envelope.DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.sendHeartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sendHeartbeat(ctx)
		}
	}
}

func (r *Runtime) sendHeartbeat(ctx context.Context) {
	hb := r.buildHeartbeat()
	if err := r.client.Heartbeat(ctx, hb); err != nil {
		slog.Warn("connector: heartbeat failed", "connector_type", r.cfg.ConnectorType, "endpoint_identity", r.cfg.EndpointIdentity, "err", err)
		return
	}
	r.incrCounter("heartbeats_sent")
}

// healthState maps a runtime state-machine node onto the coarser
// healthy/degraded/error vocabulary connector.heartbeat.v1 reports.
func healthState(s State) envelope.ConnectorState {
	switch s {
	case StateReading, StateStarting, StateDraining, StateStopped:
		return envelope.ConnectorHealthy
	case StateRateLimited, StateReconnecting:
		return envelope.ConnectorDegraded
	default:
		return envelope.ConnectorError
	}
}

func (r *Runtime) buildHeartbeat() *envelope.Heartbeat {
	r.mu.Lock()
	state := r.state
	lastErr := r.lastErr
	counters := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		counters[k] = v
	}
	r.mu.Unlock()

	cursor := ""
	if r.checkpoint != nil {
		if c, err := r.checkpoint.Load(r.cfg.CheckpointKey); err == nil {
			cursor = c
		}
	}

	health := healthState(state)
	status := envelope.HeartbeatStatus{
		State:   health,
		UptimeS: int64(time.Since(r.startedAt).Seconds()),
	}
	if health == envelope.ConnectorError {
		status.ErrorMessage = lastErr
	}

	return &envelope.Heartbeat{
		SchemaVersion: envelope.HeartbeatSchemaVersion,
		Connector: envelope.ConnectorIdentity{
			ConnectorType:    r.cfg.ConnectorType,
			EndpointIdentity: r.cfg.EndpointIdentity,
			InstanceID:       r.cfg.InstanceID,
			Version:          r.cfg.Version,
		},
		Status:   status,
		Counters: counters,
		Checkpoint: &envelope.Checkpoint{
			Cursor:    cursor,
			UpdatedAt: time.Now(),
		},
		SentAt: time.Now(),
	}
}
