// Package spawner provides the per-butler bounded-concurrency ephemeral
// session queue: a FIFO queue per butler, drained by a small worker pool
// that spawns LLM CLI sessions and records their outcome.
package spawner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/butlerhub/switchboard/internal/store"
)

// popPollInterval bounds how long a worker blocks on an empty queue before
// re-checking ctx.Done(); BRPOP itself already blocks server-side.
const popPollInterval = 5 * time.Second

// sessionDeadline bounds how long a single session may run before the
// spawner cancels it (spec.md §4.8: "every cross-process call ... runs
// under a deadline").
const sessionDeadline = 10 * time.Minute

// errQueueFull is returned by Submit's non-blocking variant when a butler's
// queue is already at its configured depth (spec.md §4.5 back-pressure).
var errQueueFull = fmt.Errorf("queue_full")

// ButlerConfig is one butler's spawner configuration.
type ButlerConfig struct {
	Butler string
	// MaxConcurrentSessions bounds worker count; default 3 if unset. A value
	// of 1 gives fully serial dispatch.
	MaxConcurrentSessions int
	// MaxQueueDepth bounds only the non-blocking Submit variant; 0 means
	// unbounded. A blocking Submit neither waits nor fails at this depth; it
	// enqueues anyway.
	MaxQueueDepth int
	Image         string
	MCPEndpoint   string
	AllowedTools  []string
}

// queuedSession is the JSON payload pushed onto a butler's queue.
type queuedSession struct {
	ID            string `json:"id"`
	TriggerSource string `json:"trigger_source"`
	Prompt        string `json:"prompt"`
	RequestID     string `json:"request_id,omitempty"`
}

// Spawner owns one FIFO queue and worker pool per registered butler.
type Spawner struct {
	Queue   queueBackend
	Store   *store.Store
	Runtime Runtime
	Metrics *Metrics

	mu      sync.RWMutex
	butlers map[string]ButlerConfig
}

// New builds a Spawner. q is typically a *Queue (Redis-backed); tests inject
// an in-memory fake.
func New(q queueBackend, st *store.Store, rt Runtime, m *Metrics) *Spawner {
	return &Spawner{Queue: q, Store: st, Runtime: rt, Metrics: m, butlers: make(map[string]ButlerConfig)}
}

// Register adds or replaces a butler's spawner configuration.
func (s *Spawner) Register(cfg ButlerConfig) {
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = 3
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.butlers[cfg.Butler] = cfg
}

func (s *Spawner) configFor(butler string) (ButlerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.butlers[butler]
	return cfg, ok
}

// Submit enqueues a session request for butler and returns its session id.
// When blocking is false and the queue is already at MaxQueueDepth, Submit
// fails fast with errQueueFull instead of enqueuing; when blocking is true
// it always enqueues at once, whatever the depth: nothing makes the caller
// wait while the queue is full.
func (s *Spawner) Submit(ctx context.Context, butler, triggerSource, prompt, requestID string, blocking bool) (string, error) {
	cfg, ok := s.configFor(butler)
	if !ok {
		return "", fmt.Errorf("spawner: unknown butler %q", butler)
	}

	if !blocking && cfg.MaxQueueDepth > 0 {
		depth, err := s.Queue.Depth(ctx, butler)
		if err != nil {
			return "", fmt.Errorf("queue depth: %w", err)
		}
		if depth >= int64(cfg.MaxQueueDepth) {
			return "", errQueueFull
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("mint session id: %w", err)
	}

	payload, err := json.Marshal(queuedSession{
		ID:            id.String(),
		TriggerSource: triggerSource,
		Prompt:        prompt,
		RequestID:     requestID,
	})
	if err != nil {
		return "", fmt.Errorf("encode session payload: %w", err)
	}
	if err := s.Queue.Push(ctx, butler, payload); err != nil {
		return "", fmt.Errorf("enqueue session: %w", err)
	}

	if depth, derr := s.Queue.Depth(ctx, butler); derr == nil {
		s.Metrics.observeQueueDepth(butler, depth)
	}

	return id.String(), nil
}

// Enqueue adapts Submit to the Dispatcher shape internal/mcpserver's
// trigger() tool and internal/scheduler's fired tasks both expect: a
// blocking submit with no caller-supplied request id.
func (s *Spawner) Enqueue(ctx context.Context, butler, triggerSource, prompt string) error {
	_, err := s.Submit(ctx, butler, triggerSource, prompt, "", true)
	return err
}

// Run starts cfg.MaxConcurrentSessions worker goroutines for butler and
// blocks until ctx is cancelled. Within one butler, workers drain the same
// FIFO queue, so sessions are processed in FIFO order; ordering across
// butlers (separate Run calls) is unspecified, matching spec.md §4.5.
func (s *Spawner) Run(ctx context.Context, butler string) error {
	cfg, ok := s.configFor(butler)
	if !ok {
		return fmt.Errorf("spawner: unknown butler %q", butler)
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.MaxConcurrentSessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, cfg)
		}()
	}
	wg.Wait()
	return nil
}

func (s *Spawner) worker(ctx context.Context, cfg ButlerConfig) {
	for {
		if ctx.Err() != nil {
			return
		}
		raw, err := s.Queue.Pop(ctx, cfg.Butler, popPollInterval)
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			slog.Error("spawner: pop failed", "butler", cfg.Butler, "err", err)
			continue
		}

		var qs queuedSession
		if err := json.Unmarshal(raw, &qs); err != nil {
			slog.Error("spawner: bad queue payload", "butler", cfg.Butler, "err", err)
			continue
		}
		s.runOne(ctx, cfg, qs)

		if depth, derr := s.Queue.Depth(ctx, cfg.Butler); derr == nil {
			s.Metrics.observeQueueDepth(cfg.Butler, depth)
		}
	}
}

// runOne is the full lifecycle of a dequeued session: INSERT, spawn+wait,
// UPDATE, as two separate transactions bracketing the external spawn per
// spec.md §4.8.
func (s *Spawner) runOne(ctx context.Context, cfg ButlerConfig, qs queuedSession) {
	started := time.Now()

	rec := store.SessionRecord{ID: qs.ID, TriggerSource: qs.TriggerSource, Prompt: qs.Prompt, StartedAt: started}
	if qs.RequestID != "" {
		rec.RequestID.String, rec.RequestID.Valid = qs.RequestID, true
	}
	if err := s.Store.InsertSessionStart(ctx, cfg.Butler, rec); err != nil {
		slog.Error("spawner: insert session start failed", "butler", cfg.Butler, "session", qs.ID, "err", err)
		return
	}

	sessionCtx, cancel := context.WithTimeout(ctx, sessionDeadline)
	defer cancel()

	outcome, runErr := s.Runtime.RunSession(sessionCtx, SessionSpec{
		ID:            qs.ID,
		Butler:        cfg.Butler,
		Image:         cfg.Image,
		Prompt:        qs.Prompt,
		TriggerSource: qs.TriggerSource,
		RequestID:     qs.RequestID,
		MCPEndpoint:   cfg.MCPEndpoint,
		AllowedTools:  cfg.AllowedTools,
	})

	duration := time.Since(started)
	success := runErr == nil && outcome.Success
	errMsg := ""
	switch {
	case runErr != nil:
		errMsg = runErr.Error()
	case outcome.Error != "":
		errMsg = outcome.Error
	}

	if err := s.Store.CompleteSession(ctx, cfg.Butler, qs.ID, time.Now(), success, duration.Milliseconds(), errMsg, ""); err != nil {
		slog.Error("spawner: complete session failed", "butler", cfg.Butler, "session", qs.ID, "err", err)
	}
	s.Metrics.observeSessionOutcome(cfg.Butler, success)
}
