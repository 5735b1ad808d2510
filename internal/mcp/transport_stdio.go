package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/opalhq/opal/internal/config"
)

// jsonrpcRequest/jsonrpcResponse are the wire shapes MCP itself runs over:
// a JSON-RPC 2.0 stdio conversation, the same family of protocol this
// module's own internal/rpc server speaks to its client, carried
// directly over os/exec pipes.
type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// StdioClient implements Client by launching the configured command as a
// subprocess and exchanging newline-delimited JSON-RPC frames over its
// stdin/stdout.
type StdioClient struct {
	cfg config.MCPServerConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner

	mu      sync.Mutex
	pending map[int64]chan *jsonrpcResponse
	nextID  atomic.Int64
}

// NewStdioClient builds a StdioClient for cfg without starting the
// subprocess; Connect does that.
func NewStdioClient(cfg config.MCPServerConfig) (Client, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcp: server %q has no command for stdio transport", cfg.Name)
	}
	return &StdioClient{cfg: cfg, pending: make(map[int64]chan *jsonrpcResponse)}, nil
}

func (c *StdioClient) Connect(ctx context.Context) error {
	c.cmd = exec.CommandContext(ctx, c.cfg.Command, c.cfg.Args...)

	stdin, err := c.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdin pipe: %w", err)
	}
	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mcp: stdout pipe: %w", err)
	}
	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("mcp: start %q: %w", c.cfg.Command, err)
	}

	c.stdin = stdin
	c.stdout = bufio.NewScanner(stdout)
	c.stdout.Buffer(make([]byte, 64*1024), 1024*1024)

	go c.readLoop()
	return nil
}

func (c *StdioClient) readLoop() {
	for c.stdout.Scan() {
		var resp jsonrpcResponse
		if err := json.Unmarshal(c.stdout.Bytes(), &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

func (c *StdioClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	req := jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan *jsonrpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if _, err := c.stdin.Write(append(raw, '\n')); err != nil {
		return nil, fmt.Errorf("mcp: write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("mcp: %s: %s", c.cfg.Name, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (c *StdioClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
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

func (c *StdioClient) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	return c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": json.RawMessage(args)})
}

func (c *StdioClient) Close() error {
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Kill()
	}
	return nil
}
