package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/opalhq/opal/internal/config"
)

// Client is implemented by a concrete MCP transport (stdio or HTTP).
// Manager holds Clients and
// exposes the discovery surface the agent core needs.
type Client interface {
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
	Close() error
}

// ClientFactory constructs a Client for one configured server. Production
// wiring supplies a factory backed by real stdio/HTTP transports;
// tests supply a fake.
type ClientFactory func(cfg config.MCPServerConfig) (Client, error)

// Manager tracks configured MCP servers, connecting them when ConnectAll
// is called and caching each server's discovered tool list.
type Manager struct {
	mu      sync.RWMutex
	factory ClientFactory
	servers map[string]*entry
}

type entry struct {
	cfg    config.MCPServerConfig
	client Client
	info   ServerInfo
}

// NewManager builds a Manager that constructs clients via factory.
func NewManager(factory ClientFactory) *Manager {
	return &Manager{factory: factory, servers: make(map[string]*entry)}
}

// Configure registers (or re-registers) the set of servers available to a
// session, matching `session/start`'s `mcp_servers` param and/or the
// process config's own `mcp_servers` list.
func (m *Manager) Configure(servers []config.MCPServerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers = make(map[string]*entry, len(servers))
	for _, s := range servers {
		m.servers[s.Name] = &entry{cfg: s, info: ServerInfo{Name: s.Name, Status: StatusDisconnected}}
	}
}

// ConnectAll connects to every configured server, discovering its tools.
// A single server's failure to connect is recorded as StatusError rather
// than failing the whole call: one bad MCP server must not block the
// session.
func (m *Manager) ConnectAll(ctx context.Context) []ServerInfo {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.servers))
	for _, e := range m.servers {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		m.connectOne(ctx, e)
	}
	return m.List()
}

func (m *Manager) connectOne(ctx context.Context, e *entry) {
	client, err := m.factory(e.cfg)
	if err != nil {
		m.setError(e.cfg.Name, err)
		return
	}
	if err := client.Connect(ctx); err != nil {
		m.setError(e.cfg.Name, err)
		return
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		m.setError(e.cfg.Name, err)
		return
	}

	m.mu.Lock()
	e.client = client
	e.info = ServerInfo{Name: e.cfg.Name, Status: StatusConnected, Tools: tools}
	m.mu.Unlock()
}

func (m *Manager) setError(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.servers[name]; ok {
		e.info = ServerInfo{Name: name, Status: StatusError, Error: err.Error()}
	}
}

// List returns the current status of every configured server.
func (m *Manager) List() []ServerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerInfo, 0, len(m.servers))
	for _, e := range m.servers {
		out = append(out, e.info)
	}
	return out
}

// CallTool dispatches a call of tool to the named server's client (the
// two parts of a qualified "mcp:<server>.<tool>" name, passed
// separately). Returns an error if the server is unknown or not
// connected.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args json.RawMessage) (json.RawMessage, error) {
	m.mu.RLock()
	e, ok := m.servers[server]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mcp: unknown server %q", server)
	}
	if e.client == nil {
		return nil, fmt.Errorf("mcp: server %q is not connected", server)
	}
	return e.client.CallTool(ctx, tool, args)
}

// CloseAll disconnects every connected client, releasing transport
// resources (subprocess handles, HTTP connections).
func (m *Manager) CloseAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.servers {
		if e.client != nil {
			_ = e.client.Close()
		}
	}
}
