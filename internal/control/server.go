// Package control implements the operator-facing health/status HTTP
// surface every daemon in the fleet exposes, adapted from Gitai's Agent
// Control Protocol server. Where the teacher's ACP pushed live config and
// secrets into a running agent, a butler daemon here reads its butler.toml
// once at startup (spec.md §6) and never hot-reloads it, so only the
// read-only health/status endpoints and the graceful-restart trigger
// survive the generalization.
//
// Endpoints:
//
//	GET  /health          → HealthResponse
//	GET  /status           → StatusResponse
//	POST /process/restart  → 202 Accepted (triggers shutdown via RequestRestart)
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Name   string `json:"name"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Uptime    float64   `json:"uptime_seconds"`
	StartedAt time.Time `json:"started_at"`
	// QueueDepths is the spawner's per-butler queue depth snapshot, empty on
	// a process that doesn't run a spawner (a bare connector).
	QueueDepths map[string]int64 `json:"queue_depths,omitempty"`
}

// Handlers bundles the callbacks the server delegates to.
type Handlers struct {
	Name      string
	Version   string
	StartedAt time.Time

	// QueueDepths reports the spawner's live per-butler backlog, or nil.
	QueueDepths func() map[string]int64
	// RequestRestart signals the application to perform a graceful restart.
	RequestRestart func()
}

// Server is the health/status HTTP server.
type Server struct {
	addr     string
	handlers Handlers
	server   *http.Server
}

// New creates a Server listening on addr.
func New(addr string, h Handlers) *Server {
	s := &Server{addr: addr, handlers: h}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/process/restart", s.handleRestart)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start begins listening. It returns once the listener is bound so callers
// can immediately start sending requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control listen %s: %w", s.addr, err)
	}
	slog.Info("control server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("control server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.server.Shutdown(context.Background())
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Name: s.handlers.Name})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var depths map[string]int64
	if s.handlers.QueueDepths != nil {
		depths = s.handlers.QueueDepths()
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Name:        s.handlers.Name,
		Version:     s.handlers.Version,
		Uptime:      time.Since(s.handlers.StartedAt).Seconds(),
		StartedAt:   s.handlers.StartedAt,
		QueueDepths: depths,
	})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	slog.Info("control: restart requested")
	if s.handlers.RequestRestart != nil {
		go s.handlers.RequestRestart()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
