// Package mcpserver is the per-butler MCP tool server: it exposes the core
// tool set every butler carries (state, schedule, trigger, tick, notify)
// plus, on the Switchboard only, route(). It is reached both by ephemeral
// sessions spawned for this butler and, for route(), by other butlers'
// Switchboard clients.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/butlerhub/switchboard/internal/audit"
	"github.com/butlerhub/switchboard/internal/mcp"
	"github.com/butlerhub/switchboard/internal/scheduler"
	"github.com/butlerhub/switchboard/internal/store"
)

// Dispatcher enqueues a prompt-driven session for this butler. Shared shape
// with scheduler.Dispatcher since trigger() and schedule-fired sessions both
// land on the same spawner queue.
type Dispatcher interface {
	Enqueue(ctx context.Context, butler, triggerSource, prompt string) error
}

// Notifier delivers an outbound message on a channel. Implementations sit in
// front of the connector egress path; core tools only record the attempt and
// call through.
type Notifier interface {
	Notify(ctx context.Context, butler, channel, message, intent string, requestContext json.RawMessage) error
}

// Router is route(butler, tool, args); only installed on the Switchboard
// server instance. Every other butler's Server has Router == nil, and the
// route tool replies not_permitted.
type Router interface {
	Route(ctx context.Context, fromButler, toButler, tool string, args json.RawMessage) (*mcp.CallToolResult, error)
}

// DomainTool is a per-butler tool outside the core set, registered at
// startup from the butler's module configuration.
type DomainTool struct {
	Tool
	Sensitive bool
	Handler   func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error)
}

// Tool is the self-describing metadata surfaced by tools/list.
type Tool struct {
	Name        string
	Description string
	InputSchema interface{}
}

// Approvals gates sensitive domain tools; nil means no gating (every
// butler with sensitive tools must wire a real implementation).
type Approvals interface {
	// CheckApproval returns an empty handle and a nil error when the call is
	// authorized, or a non-empty opaque handle when approval is required.
	CheckApproval(ctx context.Context, butler, tool string, args json.RawMessage) (handle string, description string, err error)
}

// Server is one butler's MCP endpoint.
type Server struct {
	Butler          string
	Store           *store.Store
	Audit           *audit.Log
	Scheduler       *scheduler.Manager
	Dispatch        Dispatcher
	Notify          Notifier
	Router          Router
	Approvals       Approvals
	DomainTools     map[string]DomainTool
	ProtocolVersion string

	mu       sync.Mutex
	sessions map[string]time.Time
}

// New builds a Server for one butler. router should be non-nil only for the
// Switchboard's own server instance.
func New(butler string, st *store.Store, sched *scheduler.Manager, dispatch Dispatcher, notify Notifier, router Router, approvals Approvals) *Server {
	return &Server{
		Butler:          butler,
		Store:           st,
		Audit:           audit.New(st),
		Scheduler:       sched,
		Dispatch:        dispatch,
		Notify:          notify,
		Router:          router,
		Approvals:       approvals,
		DomainTools:     make(map[string]DomainTool),
		ProtocolVersion: "2024-11-05",
		sessions:        make(map[string]time.Time),
	}
}

// RegisterDomainTool adds a per-butler tool beyond the core set.
func (s *Server) RegisterDomainTool(t DomainTool) {
	s.DomainTools[t.Name] = t
}

// ServeHTTP implements http.Handler so a Server can be mounted directly on a
// mux at the butler's configured MCP path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req mcp.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 0, mcp.CodeParseError, "invalid json")
		return
	}

	sessionID := r.Header.Get("MCP-Session-Id")
	if req.Method != "initialize" && !s.isSessionValid(sessionID) {
		writeError(w, req.ID, mcp.CodeInvalidRequest, "missing or invalid MCP-Session-Id")
		return
	}

	result, callErr := s.dispatch(r.Context(), req)
	if callErr != nil {
		s.writeDispatchError(w, req.ID, callErr)
		return
	}
	if req.Method == "initialize" && sessionID == "" {
		sessionID = s.newSession()
	}
	if sessionID != "" {
		w.Header().Set("MCP-Session-Id", sessionID)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(mcp.Response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) dispatch(ctx context.Context, req mcp.Request) (interface{}, error) {
	switch req.Method {
	case "initialize":
		return mcp.InitializeResult{
			ProtocolVersion: s.ProtocolVersion,
			ServerInfo:      mcp.ServerInfo{Name: "butler-" + s.Butler, Version: "1"},
			Capabilities:    mcp.ServerCaps{Tools: &struct{}{}},
		}, nil
	case "tools/list":
		return mcp.ListToolsResult{Tools: s.listTools()}, nil
	case "tools/call":
		var params mcp.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return s.callTool(ctx, params)
	default:
		return nil, fmt.Errorf("unknown method: %s", req.Method)
	}
}

func (s *Server) listTools() []mcp.Tool {
	tools := []mcp.Tool{
		{Name: "state.get", Description: "read a JSON value from this butler's state store"},
		{Name: "state.set", Description: "write-through upsert a JSON value into this butler's state store"},
		{Name: "state.delete", Description: "idempotently delete a state key"},
		{Name: "state.list", Description: "list state keys, optionally by prefix"},
		{Name: "schedule.create", Description: "create a cron or one-shot scheduled task"},
		{Name: "schedule.delete", Description: "delete a scheduled task by name"},
		{Name: "schedule.list", Description: "list this butler's scheduled tasks"},
		{Name: "trigger", Description: "enqueue a self-dispatch session"},
		{Name: "tick", Description: "run one scheduler evaluation pass; a no-op when no scheduler is configured"},
		{Name: "notify", Description: "deliver an outbound message on a channel"},
	}
	if s.Router != nil {
		tools = append(tools, mcp.Tool{Name: "route", Description: "dispatch a tool call to another butler"})
	}
	for _, dt := range s.DomainTools {
		tools = append(tools, mcp.Tool{Name: dt.Name, Description: dt.Description, InputSchema: dt.InputSchema})
	}
	return tools
}

func (s *Server) callTool(ctx context.Context, params mcp.CallToolParams) (*mcp.CallToolResult, error) {
	if dt, ok := s.DomainTools[params.Name]; ok {
		if dt.Sensitive && s.Approvals != nil {
			handle, desc, err := s.Approvals.CheckApproval(ctx, s.Butler, params.Name, params.Arguments)
			if err != nil {
				return nil, fmt.Errorf("check approval: %w", err)
			}
			if handle != "" {
				return mcp.TextResult(map[string]interface{}{
					"error":       "approval_required",
					"handle":      handle,
					"description": desc,
				})
			}
		}
		return dt.Handler(ctx, params.Arguments)
	}

	switch params.Name {
	case "state.get":
		return s.toolStateGet(ctx, params.Arguments)
	case "state.set":
		return s.toolStateSet(ctx, params.Arguments)
	case "state.delete":
		return s.toolStateDelete(ctx, params.Arguments)
	case "state.list":
		return s.toolStateList(ctx, params.Arguments)
	case "schedule.create":
		return s.toolScheduleCreate(ctx, params.Arguments)
	case "schedule.delete":
		return s.toolScheduleDelete(ctx, params.Arguments)
	case "schedule.list":
		return s.toolScheduleList(ctx, params.Arguments)
	case "trigger":
		return s.toolTrigger(ctx, params.Arguments)
	case "tick":
		return s.toolTick(ctx)
	case "notify":
		return s.toolNotify(ctx, params.Arguments)
	case "route":
		return s.toolRoute(ctx, params.Arguments)
	default:
		return nil, fmt.Errorf("%w: unknown tool %q", errNotFound, params.Name)
	}
}

func (s *Server) newSession() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = time.Now().Add(24 * time.Hour)
	s.mu.Unlock()
	return id
}

func (s *Server) isSessionValid(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.sessions[id]
	return ok && time.Now().Before(exp)
}

func (s *Server) writeDispatchError(w http.ResponseWriter, id int64, err error) {
	switch {
	case isNotFound(err):
		writeError(w, id, mcp.CodeNotFound, err.Error())
	case isNotPermitted(err):
		writeError(w, id, mcp.CodeNotPermitted, err.Error())
	case isUnreachable(err):
		writeError(w, id, mcp.CodeUnreachable, err.Error())
	case isTooManyRoutes(err):
		writeError(w, id, mcp.CodeTooManyRoutes, err.Error())
	default:
		slog.Error("mcpserver: dispatch error", "butler", s.Butler, "err", err)
		writeError(w, id, mcp.CodeInternalError, "internal error")
	}
}

func writeError(w http.ResponseWriter, id int64, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(mcp.Response{
		JSONRPC: "2.0", ID: id,
		Error: &mcp.ResponseError{Code: code, Message: message},
	})
}
