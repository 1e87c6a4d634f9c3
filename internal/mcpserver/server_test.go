package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/butlerhub/switchboard/internal/mcp"
)

type fakeRouter struct {
	called bool
}

func (f *fakeRouter) Route(ctx context.Context, fromButler, toButler, tool string, args json.RawMessage) (*mcp.CallToolResult, error) {
	f.called = true
	return mcp.TextResult(map[string]interface{}{"ok": true})
}

func newTestServer(router Router) *Server {
	return New("health", nil, nil, nil, nil, router, nil)
}

func TestDispatchInitialize(t *testing.T) {
	s := newTestServer(nil)
	result, err := s.dispatch(context.Background(), mcp.Request{Method: "initialize"})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	init, ok := result.(mcp.InitializeResult)
	if !ok {
		t.Fatalf("result is %T, want mcp.InitializeResult", result)
	}
	if init.ServerInfo.Name != "butler-health" {
		t.Fatalf("server name = %q", init.ServerInfo.Name)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	s := newTestServer(nil)
	_, err := s.dispatch(context.Background(), mcp.Request{Method: "bogus"})
	if err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestListToolsOmitsRouteWithoutRouter(t *testing.T) {
	s := newTestServer(nil)
	for _, tool := range s.listTools() {
		if tool.Name == "route" {
			t.Fatal("route tool should not be listed without a Router")
		}
	}

	withRouter := newTestServer(&fakeRouter{})
	found := false
	for _, tool := range withRouter.listTools() {
		if tool.Name == "route" {
			found = true
		}
	}
	if !found {
		t.Fatal("route tool should be listed when a Router is configured")
	}
}

func TestToolRouteWithoutRouterIsNotPermitted(t *testing.T) {
	s := newTestServer(nil)
	_, err := s.toolRoute(context.Background(), json.RawMessage(`{"butler":"health","tool":"x","args":{}}`))
	if err == nil || !isNotPermitted(err) {
		t.Fatalf("expected not_permitted, got %v", err)
	}
}

func TestToolRouteDelegatesToRouter(t *testing.T) {
	router := &fakeRouter{}
	s := newTestServer(router)
	result, err := s.toolRoute(context.Background(), json.RawMessage(`{"butler":"finance","tool":"log_expense","args":{}}`))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !router.called {
		t.Fatal("expected Router.Route to be invoked")
	}
	if result == nil || len(result.Content) == 0 {
		t.Fatal("expected a result")
	}
}

func TestToolScheduleCreateRejectsBadSpec(t *testing.T) {
	s := newTestServer(nil)
	_, err := s.toolScheduleCreate(context.Background(), json.RawMessage(`{"name":"x","spec":"not a cron","dispatch_mode":"prompt","prompt":"hi"}`))
	if err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestToolNotifyRejectsBadIntent(t *testing.T) {
	s := newTestServer(nil)
	_, err := s.toolNotify(context.Background(), json.RawMessage(`{"channel":"telegram","message":"hi","intent":"explode"}`))
	if err == nil {
		t.Fatal("expected error for invalid intent")
	}
}

func TestToolTriggerRequiresDispatcher(t *testing.T) {
	s := newTestServer(nil)
	_, err := s.toolTrigger(context.Background(), json.RawMessage(`{"prompt":"hi"}`))
	if err == nil {
		t.Fatal("expected error without a configured dispatcher")
	}
}
