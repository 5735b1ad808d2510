package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/opalhq/opal/internal/config"
)

type fakeClient struct {
	connectErr error
	tools      []ToolInfo
	closed     bool
}

func (f *fakeClient) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeClient) ListTools(ctx context.Context) ([]ToolInfo, error) {
	return f.tools, nil
}
func (f *fakeClient) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"ok":true}`), nil
}
func (f *fakeClient) Close() error { f.closed = true; return nil }

func TestManagerConnectAllDiscoversTools(t *testing.T) {
	fc := &fakeClient{tools: []ToolInfo{{Name: "search"}}}
	m := NewManager(func(cfg config.MCPServerConfig) (Client, error) { return fc, nil })
	m.Configure([]config.MCPServerConfig{{Name: "docs"}})

	infos := m.ConnectAll(context.Background())
	if len(infos) != 1 || infos[0].Status != StatusConnected {
		t.Fatalf("expected one connected server, got %+v", infos)
	}
	if len(infos[0].Tools) != 1 || infos[0].Tools[0].Name != "search" {
		t.Fatalf("expected discovered tool, got %+v", infos[0].Tools)
	}
}

func TestManagerConnectFailureIsIsolated(t *testing.T) {
	m := NewManager(func(cfg config.MCPServerConfig) (Client, error) {
		return nil, errors.New("spawn failed")
	})
	m.Configure([]config.MCPServerConfig{{Name: "broken"}})

	infos := m.ConnectAll(context.Background())
	if len(infos) != 1 || infos[0].Status != StatusError {
		t.Fatalf("expected error status, got %+v", infos)
	}
}

func TestCallToolUnknownServer(t *testing.T) {
	m := NewManager(func(cfg config.MCPServerConfig) (Client, error) { return &fakeClient{}, nil })
	if _, err := m.CallTool(context.Background(), "nope", "x", nil); err == nil {
		t.Fatalf("expected error for unknown server")
	}
}

func TestQualifiedName(t *testing.T) {
	if got := QualifiedName("docs", "search"); got != "mcp:docs.search" {
		t.Fatalf("unexpected qualified name: %s", got)
	}
}
