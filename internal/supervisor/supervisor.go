// Package supervisor manages the lifecycle of a process's long-running
// goroutines — the scheduler tick loop, the spawner worker pool, a
// connector's read loop — restarting any that exit unexpectedly instead of
// quietly leaving the process half alive. Adapted from
// internal/gitai/supervisor's MCP subprocess manager: the teacher
// reconciled a set of named external processes against a Gosuto config and
// restarted the ones that died; this generalizes "process" to "any
// long-running func(ctx) error" so the same restart/backoff bookkeeping
// supervises in-process goroutines instead of child processes.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const restartDelay = 5 * time.Second

// Unit is one long-running task the Supervisor keeps alive. Run must block
// until ctx is cancelled or it encounters an unrecoverable error; returning
// nil is treated the same as any other exit (it gets restarted) because a
// unit that is supposed to run for the process lifetime has no legitimate
// reason to return early.
type Unit struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor runs a fixed set of Units concurrently and restarts any that
// exit before ctx is cancelled, after restartDelay.
type Supervisor struct {
	mu    sync.Mutex
	units []Unit
	done  map[string]bool
}

// New builds a Supervisor for the given units. The set is fixed at
// construction — unlike the teacher's Reconcile, there is no dynamic
// add/remove here because a daemon's set of internal loops is part of its
// own wiring, not something reread from config at runtime.
func New(units ...Unit) *Supervisor {
	return &Supervisor{units: units, done: make(map[string]bool)}
}

// Run starts every unit and blocks until ctx is cancelled, restarting any
// unit whose Run returns in the meantime.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, u := range s.units {
		wg.Add(1)
		go func(u Unit) {
			defer wg.Done()
			s.watch(ctx, u)
		}(u)
	}
	wg.Wait()
}

func (s *Supervisor) watch(ctx context.Context, u Unit) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := u.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("supervisor: unit exited with error, restarting", "unit", u.Name, "err", err, "delay", restartDelay)
		} else {
			slog.Warn("supervisor: unit returned early, restarting", "unit", u.Name, "delay", restartDelay)
		}
		s.markRestarted(u.Name)
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func (s *Supervisor) markRestarted(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[name] = true
}

// Restarted reports whether the named unit has been restarted at least
// once since Run started. Nothing in the module calls it; /status does not
// report it.
func (s *Supervisor) Restarted(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[name]
}
