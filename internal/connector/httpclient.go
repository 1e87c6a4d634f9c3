package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/butlerhub/switchboard/internal/envelope"
)

// HTTPIngressClient implements IngressClient against the Switchboard's
// ingestion.ingest/connector.heartbeat RPC surface (spec.md §6). It is the
// only production implementation of IngressClient; Runtime's tests supply
// their own fake instead of pointing this at a live server.
type HTTPIngressClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPIngressClient builds a client targeting a Switchboard base URL
// (e.g. "http://switchboard.internal:8780").
func NewHTTPIngressClient(baseURL string, timeout time.Duration) *HTTPIngressClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPIngressClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type ingestResponse struct {
	RequestID string `json:"request_id"`
	Duplicate bool   `json:"duplicate"`
}

// Ingest posts env to /rpc/ingestion.ingest.
func (c *HTTPIngressClient) Ingest(ctx context.Context, env *envelope.Envelope) (string, bool, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return "", false, fmt.Errorf("marshal envelope: %w", err)
	}
	var res ingestResponse
	if err := c.post(ctx, "/rpc/ingestion.ingest", body, &res); err != nil {
		return "", false, err
	}
	return res.RequestID, res.Duplicate, nil
}

// Heartbeat posts hb to /rpc/connector.heartbeat.
func (c *HTTPIngressClient) Heartbeat(ctx context.Context, hb *envelope.Heartbeat) error {
	body, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	return c.post(ctx, "/rpc/connector.heartbeat", body, nil)
}

func (c *HTTPIngressClient) post(ctx context.Context, path string, body []byte, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, string(data))
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(data, result)
}
