package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientCallToolRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "tools/call" {
			t.Fatalf("method = %q, want tools/call", req.Method)
		}
		var params CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			t.Fatalf("decode params: %v", err)
		}
		if params.Name != "state.get" {
			t.Fatalf("tool name = %q", params.Name)
		}
		w.Header().Set("MCP-Session-Id", "sess-1")
		result := CallToolResult{Content: []ContentItem{{Type: "text", Text: `{"value":"ok"}`}}}
		resp := Response{JSONRPC: "2.0", ID: req.ID, Result: result}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	result, err := client.CallTool(context.Background(), "state.get", json.RawMessage(`{"key":"x"}`))
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != `{"value":"ok"}` {
		t.Fatalf("unexpected result: %+v", result)
	}
	if client.sessionID != "sess-1" {
		t.Fatalf("session id not captured: %q", client.sessionID)
	}
}

func TestClientCallToolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := Response{JSONRPC: "2.0", ID: req.ID, Error: &ResponseError{Code: CodeNotFound, Message: "butler not found"}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	_, err := client.CallTool(context.Background(), "route", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error")
	}
	rpcErr, ok := err.(*ResponseError)
	if !ok {
		t.Fatalf("error is %T, want *ResponseError", err)
	}
	if rpcErr.Code != CodeNotFound {
		t.Fatalf("code = %d, want %d", rpcErr.Code, CodeNotFound)
	}
}

func TestClientUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 50*time.Millisecond)
	_, err := client.CallTool(context.Background(), "route", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
	rpcErr, ok := err.(*ResponseError)
	if !ok {
		t.Fatalf("error is %T, want *ResponseError", err)
	}
	if rpcErr.Code != CodeUnreachable {
		t.Fatalf("code = %d, want %d", rpcErr.Code, CodeUnreachable)
	}
}
