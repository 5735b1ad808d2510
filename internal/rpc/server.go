package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opalhq/opal/internal/bus"
	"github.com/opalhq/opal/internal/config"
	"github.com/opalhq/opal/internal/observability"
	"github.com/opalhq/opal/internal/provider"
	"github.com/opalhq/opal/internal/session"
	"github.com/opalhq/opal/internal/taskstore"
)

// handlerFunc is one entry of the declarative method table that drives
// dispatch: every method name maps to exactly one of these, and the
// table (built in registerMethods) is the single place a new method is
// added.
type handlerFunc func(ctx context.Context, s *Server, params json.RawMessage) (any, *Error)

// Server is the newline-delimited JSON-RPC 2.0 stdio server: one
// process-wide set of shared collaborators (config, model
// provider, session store, event bus, task storage) plus a per-session
// registry of the agents, tool registries, and sub-agent supervisors each
// `session/start` call builds.
type Server struct {
	cfg      *config.Config
	prov     provider.Provider
	bus      *bus.Hub
	store    *session.Store
	tasks    *taskstore.Store
	logger   *slog.Logger
	dataDir  string
	metrics  *observability.Metrics

	methods map[string]handlerFunc

	sessMu   sync.Mutex
	sessions map[string]*sessionState

	outMu sync.Mutex
	out   *bufio.Writer

	pendingMu sync.Mutex
	pending   map[string]chan *Response
	nextS2C   atomic.Int64

	authMu sync.Mutex
	apiKey string

	distMu   sync.Mutex
	distInfo *distributionInfo
}

// NewServer wires a Server's process-wide dependencies. Per-session state
// is created lazily by the session/start handler.
func NewServer(cfg *config.Config, prov provider.Provider, hub *bus.Hub, store *session.Store, tasks *taskstore.Store, logger *slog.Logger, dataDir string, out io.Writer) *Server {
	s := &Server{
		cfg:      cfg,
		prov:     prov,
		bus:      hub,
		store:    store,
		tasks:    tasks,
		logger:   logger,
		dataDir:  dataDir,
		metrics:  observability.NewMetrics(),
		sessions: make(map[string]*sessionState),
		out:      bufio.NewWriter(out),
		pending:  make(map[string]chan *Response),
	}
	s.registerMethods()
	return s
}

// Metrics exposes the server's shared Prometheus registrations so
// cmd/opal can serve them over HTTP alongside the stdio transport.
func (s *Server) Metrics() *observability.Metrics { return s.metrics }

// Run scans newline-delimited JSON-RPC frames from in until EOF or ctx is
// done. Each request is dispatched on its own goroutine so a blocking
// handler (agent/prompt, or a server→client round-trip inside it) never
// stalls the read loop, so one session's traffic can't serialize behind
// an unrelated session's long-running call.
func (s *Server) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		go s.handleLine(ctx, line)
	}
	return scanner.Err()
}

// handleLine routes a raw line to the inbound-request path or the
// outbound-response path: a JSON-RPC request always carries "method"; a
// response to one of our own server→client calls never does.
func (s *Server) handleLine(ctx context.Context, line []byte) {
	var peek struct {
		Method *string `json:"method"`
	}
	if err := json.Unmarshal(line, &peek); err != nil {
		s.writeResponse(Response{JSONRPC: "2.0", Error: parseError(err.Error())})
		return
	}

	if peek.Method == nil {
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			s.logger.Warn("rpc: malformed response frame", "error", err)
			return
		}
		s.resolvePending(&resp)
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeResponse(Response{JSONRPC: "2.0", Error: parseError(err.Error())})
		return
	}
	s.dispatch(ctx, req)
}

func (s *Server) dispatch(ctx context.Context, req Request) {
	handler, ok := s.methods[req.Method]
	if !ok {
		s.writeResponse(Response{JSONRPC: "2.0", ID: req.ID, Error: methodNotFound(req.Method)})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("rpc: handler panic", "method", req.Method, "panic", r)
			s.writeResponse(Response{JSONRPC: "2.0", ID: req.ID, Error: internalError(fmt.Errorf("panic: %v", r))})
		}
	}()

	result, rpcErr := handler(ctx, s, req.Params)
	if rpcErr != nil {
		s.writeResponse(Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		s.writeResponse(Response{JSONRPC: "2.0", ID: req.ID, Error: internalError(err)})
		return
	}
	s.writeResponse(Response{JSONRPC: "2.0", ID: req.ID, Result: raw})
}

func (s *Server) writeResponse(resp Response) {
	s.writeLine(resp)
}

// Notify sends a server-initiated notification (only agent/event is used
// in practice).
func (s *Server) Notify(method string, params any) {
	raw, err := json.Marshal(params)
	if err != nil {
		s.logger.Error("rpc: marshal notification", "method", method, "error", err)
		return
	}
	s.writeLine(Notification{JSONRPC: "2.0", Method: method, Params: raw})
}

func (s *Server) writeLine(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("rpc: marshal frame", "error", err)
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.out.Write(raw)
	s.out.WriteByte('\n')
	s.out.Flush()
}

// registerMethods builds the declarative method table, one line per
// method.
func (s *Server) registerMethods() {
	s.methods = map[string]handlerFunc{
		"session/start":     handleSessionStart,
		"session/list":      handleSessionList,
		"session/branch":    handleSessionBranch,
		"session/compact":   handleSessionCompact,
		"session/history":   handleSessionHistory,
		"session/delete":    handleSessionDelete,
		"agent/prompt":      handleAgentPrompt,
		"agent/abort":       handleAgentAbort,
		"agent/state":       handleAgentState,
		"models/list":       handleModelsList,
		"model/set":         handleModelSet,
		"thinking/set":      handleThinkingSet,
		"auth/status":       handleAuthStatus,
		"auth/login":        handleAuthLogin,
		"auth/poll":         handleAuthPoll,
		"auth/set_key":      handleAuthSetKey,
		"tasks/list":        handleTasksList,
		"settings/get":      handleSettingsGet,
		"settings/save":     handleSettingsSave,
		"opal/config/get":   handleOpalConfigGet,
		"opal/config/set":   handleOpalConfigSet,
		"opal/ping":         handleOpalPing,
		"opal/version":      handleOpalVersion,
	}
}

func (s *Server) resolvePending(resp *Response) {
	id, ok := resp.ID.(string)
	if !ok {
		return
	}
	s.pendingMu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}
