package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/opalhq/opal/internal/config"
)

// HTTPClient implements Client against an MCP server reachable over HTTP,
// POSTing one JSON-RPC request per call. Only the synchronous
// request/reply shape is needed, with no server-initiated notifications.
type HTTPClient struct {
	cfg    config.MCPServerConfig
	client *http.Client
	nextID atomic.Int64
}

// NewHTTPClient builds an HTTPClient for cfg.
func NewHTTPClient(cfg config.MCPServerConfig) (Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mcp: server %q has no url for http transport", cfg.Name)
	}
	return &HTTPClient{cfg: cfg, client: &http.Client{Timeout: 30 * time.Second}}, nil
}

// Connect is a no-op for the HTTP transport: there's no persistent
// connection to establish, only per-call requests.
func (c *HTTPClient) Connect(ctx context.Context) error { return nil }

func (c *HTTPClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	body, err := json.Marshal(jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: %s: %w", c.cfg.Name, err)
	}
	defer resp.Body.Close()

	var parsed jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("mcp: decode response from %s: %w", c.cfg.Name, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("mcp: %s: %s", c.cfg.Name, parsed.Error.Message)
	}
	return parsed.Result, nil
}

func (c *HTTPClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("mcp: parse tools/list: %w", err)
	}
	return parsed.Tools, nil
}

func (c *HTTPClient) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	return c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": json.RawMessage(args)})
}

// Close is a no-op: the HTTP transport holds no persistent resources.
func (c *HTTPClient) Close() error { return nil }

// DefaultClientFactory dispatches to the stdio or HTTP transport
// depending on which of Command/URL the server config sets, so one
// Manager can serve a mix of subprocess and network MCP servers.
func DefaultClientFactory(cfg config.MCPServerConfig) (Client, error) {
	if cfg.URL != "" {
		return NewHTTPClient(cfg)
	}
	return NewStdioClient(cfg)
}
