// Package connector implements the base Connector Runtime: the
// reading/reconnecting/rate_limited state machine, bounded in-flight
// submission, durable checkpointing, and periodic heartbeat shared by every
// concrete connector (telegram, gmail, imap, internal api/mcp sources).
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/butlerhub/switchboard/internal/envelope"
)

// reconnectInitialDelay and reconnectMaxDelay bound the exponential backoff
// applied between failed Source.Next calls, mirroring common/retry's
// doubling-up-to-max shape but run as an unbounded loop (a connector keeps
// reconnecting for as long as its process runs, not for a fixed attempt
// count).
const (
	reconnectInitialDelay = 500 * time.Millisecond
	reconnectMaxDelay     = 30 * time.Second
)

// DefaultMaxInflight is the default semaphore size for concurrent live
// ingestion submissions (spec.md §4.2).
const DefaultMaxInflight = 8

// IngressClient is the subset of the Switchboard RPC surface a connector
// calls into.
type IngressClient interface {
	Ingest(ctx context.Context, env *envelope.Envelope) (requestID string, duplicate bool, err error)
	Heartbeat(ctx context.Context, hb *envelope.Heartbeat) error
}

// Source is the source-native read/subscribe adapter a concrete connector
// implements (telegram long-poll, gmail push, imap idle, ...). It is
// intentionally minimal: the runtime owns rate limiting, checkpointing, and
// heartbeating; Source only produces envelopes and reports its own cursor.
type Source interface {
	// Next blocks until the next envelope is available, ctx is cancelled, or
	// a source error occurs. It returns the envelope and an opaque cursor
	// that, once committed, means this envelope (and everything before it)
	// has been durably read.
	Next(ctx context.Context) (env *envelope.Envelope, cursor string, err error)
}

// Config controls one Runtime instance.
type Config struct {
	ConnectorType     string
	EndpointIdentity  string
	InstanceID        string
	Version           string
	MaxInflight       int
	HeartbeatInterval time.Duration
	RateLimit         rate.Limit
	RateBurst         int
	CheckpointKey     string
}

// Runtime drives one connector's read loop against a Source, submitting
// through an IngressClient, checkpointing via a CheckpointStore, and
// heartbeating on a fixed interval.
type Runtime struct {
	cfg        Config
	source     Source
	client     IngressClient
	checkpoint *CheckpointStore
	limiter    *rate.Limiter
	sem        chan struct{}

	mu             sync.Mutex
	state          State
	startedAt      time.Time
	counters       map[string]int64
	lastErr        string
	reconnectDelay time.Duration
}

// New builds a Runtime. cfg.MaxInflight defaults to DefaultMaxInflight;
// cfg.HeartbeatInterval is clamped into [30,300]s.
func New(cfg Config, source Source, client IngressClient, checkpoint *CheckpointStore) *Runtime {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = DefaultMaxInflight
	}
	cfg.HeartbeatInterval = envelope.ClampInterval(cfg.HeartbeatInterval)
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = rate.Inf
	}
	return &Runtime{
		cfg:        cfg,
		source:     source,
		client:     client,
		checkpoint: checkpoint,
		limiter:    rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		sem:        make(chan struct{}, cfg.MaxInflight),
		state:      StateStarting,
		startedAt:  time.Now(),
		counters:   make(map[string]int64),
	}
}

// Run drives the read loop until ctx is cancelled. It transitions
// starting -> reading immediately, then loops reading envelopes and
// submitting them, entering rate_limited or reconnecting as needed, and
// draining -> stopped on cancellation.
func (r *Runtime) Run(ctx context.Context) error {
	r.setState(StateReading)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go r.heartbeatLoop(heartbeatCtx)

	for {
		select {
		case <-ctx.Done():
			r.setState(StateDraining)
			r.setState(StateStopped)
			return nil
		default:
		}

		if r.limiter.Limit() != rate.Inf && r.limiter.Tokens() < 1 {
			r.setState(StateRateLimited)
		}
		if err := r.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				r.setState(StateDraining)
				r.setState(StateStopped)
				return nil
			}
			continue
		}
		r.setState(StateReading)

		env, cursor, err := r.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.setState(StateDraining)
				r.setState(StateStopped)
				return nil
			}
			r.setState(StateReconnecting)
			r.setLastError(err.Error())
			r.incrCounter("reconnects")
			delay := r.nextReconnectDelay()
			slog.Warn("connector: source read failed, backing off", "connector_type", r.cfg.ConnectorType, "err", err, "delay", delay)
			select {
			case <-ctx.Done():
				r.setState(StateDraining)
				r.setState(StateStopped)
				return nil
			case <-time.After(delay):
			}
			r.setState(StateReading)
			continue
		}
		r.resetReconnectDelay()

		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			r.setState(StateDraining)
			r.setState(StateStopped)
			return nil
		}

		func() {
			defer func() { <-r.sem }()
			if err := r.submit(ctx, env, cursor); err != nil {
				slog.Warn("connector: submission failed", "connector_type", r.cfg.ConnectorType, "err", err)
			}
		}()
	}
}

// submit sends one envelope to the Switchboard and, only on an accepted
// (or duplicate) response, commits the checkpoint past it — the ordering
// spec.md §4.2 requires for crash safety.
func (r *Runtime) submit(ctx context.Context, env *envelope.Envelope, cursor string) error {
	_, duplicate, err := r.client.Ingest(ctx, env)
	if err != nil {
		r.incrCounter("submit_errors")
		return fmt.Errorf("ingest: %w", err)
	}
	if duplicate {
		r.incrCounter("duplicates")
	} else {
		r.incrCounter("accepted")
	}
	if r.checkpoint != nil {
		if err := r.checkpoint.Commit(r.cfg.CheckpointKey, cursor); err != nil {
			return fmt.Errorf("checkpoint commit: %w", err)
		}
	}
	return nil
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// CurrentState returns the runtime's current state-machine node.
func (r *Runtime) CurrentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// nextReconnectDelay returns the current backoff delay and doubles it (up to
// reconnectMaxDelay) for the following call.
func (r *Runtime) nextReconnectDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reconnectDelay <= 0 {
		r.reconnectDelay = reconnectInitialDelay
	}
	delay := r.reconnectDelay
	r.reconnectDelay *= 2
	if r.reconnectDelay > reconnectMaxDelay {
		r.reconnectDelay = reconnectMaxDelay
	}
	return delay
}

func (r *Runtime) resetReconnectDelay() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnectDelay = 0
}

func (r *Runtime) setLastError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = msg
}

func (r *Runtime) incrCounter(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name]++
}

func (r *Runtime) snapshotCounters() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}
