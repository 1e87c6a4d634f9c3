package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Client calls a single butler's MCP endpoint over HTTP JSON-RPC 2.0. Unlike
// the stdio client a single long-lived CLI process uses, a butler daemon is
// an independent HTTP service reachable by URL, so each call is its own
// request/response round trip rather than a line over a shared pipe.
type Client struct {
	baseURL    string
	httpClient *http.Client
	nextID     atomic.Int64
	sessionID  string
}

// NewClient builds a Client targeting a butler's MCP base URL
// (e.g. "http://butler-homer.internal:8781/mcp").
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Initialize performs the MCP handshake and caches the session id the
// server returns for subsequent calls.
func (c *Client) Initialize(ctx context.Context, clientName, clientVersion string) (*InitializeResult, error) {
	var result InitializeResult
	err := c.call(ctx, "initialize", InitializeParams{
		ProtocolVersion: "2024-11-05",
		Capabilities:    ClientCaps{},
		ClientInfo:      ClientInfo{Name: clientName, Version: clientVersion},
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTools returns the tools the remote butler exposes.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var result ListToolsResult
	if err := c.call(ctx, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a named tool on the remote butler with raw JSON
// arguments.
func (c *Client) CallTool(ctx context.Context, toolName string, args json.RawMessage) (*CallToolResult, error) {
	var result CallToolResult
	if err := c.call(ctx, "tools/call", CallToolParams{Name: toolName, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	id := c.nextID.Add(1)

	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		rawParams = b
	}

	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: rawParams}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.sessionID != "" {
		httpReq.Header.Set("MCP-Session-Id", c.sessionID)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &ResponseError{Code: CodeUnreachable, Message: fmt.Sprintf("unreachable: %v", err)}
	}
	defer httpResp.Body.Close()

	if sid := httpResp.Header.Get("MCP-Session-Id"); sid != "" {
		c.sessionID = sid
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode response: %w (status %d)", err, httpResp.StatusCode)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil {
		return nil
	}
	b, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("re-marshal result: %w", err)
	}
	return json.Unmarshal(b, result)
}
