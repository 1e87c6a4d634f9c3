package switchboard

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/butlerhub/switchboard/internal/envelope"
	"github.com/butlerhub/switchboard/internal/registry"
)

// IngressServer exposes the ingress-facing RPC surface spec.md §6 names:
// ingestion.ingest and connector.heartbeat. backfill.poll/backfill.progress
// are connector-internal (they run against the connector's own checkpoint
// store, never across the wire) and have no HTTP counterpart here.
type IngressServer struct {
	Pipeline  *Pipeline
	Registry  *registry.Registry
	Validator *envelope.Validator
}

// NewIngressServer builds an IngressServer.
func NewIngressServer(p *Pipeline, reg *registry.Registry, v *envelope.Validator) *IngressServer {
	return &IngressServer{Pipeline: p, Registry: reg, Validator: v}
}

// Mount registers the ingress routes on mux.
func (s *IngressServer) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/rpc/ingestion.ingest", s.handleIngest)
	mux.HandleFunc("/rpc/connector.heartbeat", s.handleHeartbeat)
}

type ingestResponse struct {
	RequestID string `json:"request_id"`
	Duplicate bool   `json:"duplicate"`
}

func (s *IngressServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, err)
		return
	}
	env, err := s.Validator.ValidateIngest(body)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, fmt.Errorf("invalid_envelope: %w", err))
		return
	}
	res, err := s.Pipeline.Ingest(r.Context(), env)
	if err != nil {
		slog.Error("ingress: ingest failed", "err", err)
		writeRPCError(w, http.StatusInternalServerError, fmt.Errorf("internal: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{RequestID: res.RequestID, Duplicate: res.Duplicate})
}

func (s *IngressServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, err)
		return
	}
	hb, err := s.Validator.ValidateHeartbeat(body)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, fmt.Errorf("invalid_envelope: %w", err))
		return
	}
	if err := s.Registry.RecordHeartbeat(r.Context(), hb); err != nil {
		slog.Error("ingress: heartbeat failed", "err", err)
		writeRPCError(w, http.StatusInternalServerError, fmt.Errorf("internal: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeRPCError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
