package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opalhq/opal/internal/bus"
	"github.com/opalhq/opal/internal/config"
	"github.com/opalhq/opal/internal/provider"
	"github.com/opalhq/opal/internal/session"
	"github.com/opalhq/opal/internal/taskstore"
	"github.com/opalhq/opal/pkg/event"
)

// safeBuffer is a concurrency-safe io.Writer/String() pair, since the
// Server writes responses from per-request goroutines while the test
// polls the same buffer for output.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeProvider streams a single fixed text turn for every Complete call,
// enough to exercise session/start -> agent/prompt -> agent/event without
// needing tool calls.
type fakeProvider struct{}

func (fakeProvider) Complete(_ context.Context, _ *provider.CompletionRequest) (<-chan event.StreamEvent, error) {
	ch := make(chan event.StreamEvent, 8)
	ch <- event.TextStart()
	ch <- event.TextDelta("hi")
	ch <- event.TextDone("hi")
	ch <- event.ResponseDone(&event.StreamUsage{InputTokens: 10, OutputTokens: 2})
	close(ch)
	return ch, nil
}
func (fakeProvider) Name() string { return "fake" }
func (fakeProvider) Models() []provider.Model {
	return []provider.Model{{ID: "fake-model", Name: "Fake"}}
}
func (fakeProvider) SupportsTools() bool { return true }

var _ provider.Provider = fakeProvider{}

func newTestServer(t *testing.T) (*Server, *safeBuffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Model = config.Model{Provider: "fake", ID: "fake-model"}
	cfg.WorkingDir = t.TempDir()

	out := &safeBuffer{}
	s := NewServer(cfg, fakeProvider{}, bus.NewHub(), session.NewStore(nil), taskstore.Open(t.TempDir()),
		slog.New(slog.NewTextHandler(io.Discard, nil)), t.TempDir(), out)
	return s, out
}

// exchange feeds a single request line into the server by calling
// handleLine directly and waits for a response line carrying a matching
// id to appear in out, returning its decoded Response.
func exchange(t *testing.T, s *Server, out *safeBuffer, req Request) Response {
	t.Helper()
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	s.handleLine(context.Background(), raw)
	return waitForResponse(t, out, req.ID)
}

func waitForResponse(t *testing.T, out *safeBuffer, id any) Response {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, line := range strings.Split(out.String(), "\n") {
			if line == "" {
				continue
			}
			var resp Response
			if err := json.Unmarshal([]byte(line), &resp); err != nil {
				continue
			}
			if idsEqual(resp.ID, id) {
				return resp
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for response with id %v; buffer: %s", id, out.String())
	return Response{}
}

func idsEqual(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	s, out := newTestServer(t)
	resp := exchange(t, s, out, Request{JSONRPC: "2.0", ID: float64(1), Method: "nope", Params: json.RawMessage(`{}`)})
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestMalformedJSONReturnsParseError(t *testing.T) {
	s, out := newTestServer(t)
	s.handleLine(context.Background(), []byte(`{not valid json`))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), `"code":-32700`) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected a parse-error response; buffer: %s", out.String())
}

func TestAgentStateUnknownSessionIsInvalidParams(t *testing.T) {
	s, out := newTestServer(t)
	resp := exchange(t, s, out, Request{JSONRPC: "2.0", ID: float64(2), Method: "agent/state",
		Params: json.RawMessage(`{"session_id":"does-not-exist"}`)})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected invalid-params error, got %+v", resp.Error)
	}
}

func TestSessionStartThenPromptReachesAgentEnd(t *testing.T) {
	s, out := newTestServer(t)

	startResp := exchange(t, s, out, Request{JSONRPC: "2.0", ID: float64(3), Method: "session/start",
		Params: json.RawMessage(`{"working_dir":"."}`)})
	if startResp.Error != nil {
		t.Fatalf("session/start failed: %+v", startResp.Error)
	}
	var started sessionStartResult
	if err := json.Unmarshal(startResp.Result, &started); err != nil {
		t.Fatalf("decode session/start result: %v", err)
	}
	if started.SessionID == "" {
		t.Fatal("session/start returned empty session_id")
	}

	promptParams, _ := json.Marshal(agentPromptParams{SessionID: started.SessionID, Text: "hello"})
	promptResp := exchange(t, s, out, Request{JSONRPC: "2.0", ID: float64(4), Method: "agent/prompt", Params: promptParams})
	if promptResp.Error != nil {
		t.Fatalf("agent/prompt failed: %+v", promptResp.Error)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), `"type":"agent_end"`) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected an agent_end notification; buffer: %s", out.String())
}

func TestOpalPingAndVersion(t *testing.T) {
	s, out := newTestServer(t)
	resp := exchange(t, s, out, Request{JSONRPC: "2.0", ID: float64(5), Method: "opal/ping", Params: json.RawMessage(`{}`)})
	if resp.Error != nil {
		t.Fatalf("opal/ping failed: %+v", resp.Error)
	}
	var body map[string]any
	_ = json.Unmarshal(resp.Result, &body)
	if pong, _ := body["pong"].(bool); !pong {
		t.Fatalf("expected pong:true, got %v", body)
	}

	resp = exchange(t, s, out, Request{JSONRPC: "2.0", ID: float64(10), Method: "opal/version", Params: json.RawMessage(`{}`)})
	if resp.Error != nil {
		t.Fatalf("opal/version failed: %+v", resp.Error)
	}
	body = map[string]any{}
	_ = json.Unmarshal(resp.Result, &body)
	if v, _ := body["version"].(string); v != config.Version {
		t.Fatalf("expected version %q, got %v", config.Version, body)
	}
}

func TestSessionStartDiscoversContextFiles(t *testing.T) {
	s, out := newTestServer(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	params, _ := json.Marshal(sessionStartParams{WorkingDir: dir})
	resp := exchange(t, s, out, Request{JSONRPC: "2.0", ID: float64(7), Method: "session/start", Params: params})
	if resp.Error != nil {
		t.Fatalf("session/start failed: %+v", resp.Error)
	}
	var started sessionStartResult
	if err := json.Unmarshal(resp.Result, &started); err != nil {
		t.Fatalf("decode session/start result: %v", err)
	}
	if len(started.ContextFiles) != 1 || started.ContextFiles[0] != "AGENTS.md" {
		t.Fatalf("expected context_files to report AGENTS.md, got %v", started.ContextFiles)
	}
	if !strings.Contains(out.String(), `"type":"context_discovered"`) {
		t.Fatalf("expected a context_discovered notification; buffer: %s", out.String())
	}
}

func TestAuthLoginWithoutSessionReturnsInstructions(t *testing.T) {
	s, out := newTestServer(t)
	resp := exchange(t, s, out, Request{JSONRPC: "2.0", ID: float64(8), Method: "auth/login", Params: json.RawMessage(`{}`)})
	if resp.Error != nil {
		t.Fatalf("auth/login failed: %+v", resp.Error)
	}
	var body map[string]any
	_ = json.Unmarshal(resp.Result, &body)
	if body["method"] != "api_key" {
		t.Fatalf("expected api_key instructions, got %v", body)
	}
}

// TestAuthLoginWithSessionDrivesClientInput exercises the client/input
// server→client round-trip: auth/login blocks on an s2c-
// prefixed request until this test, standing in for the connected client,
// replies with the entered key.
func TestAuthLoginWithSessionDrivesClientInput(t *testing.T) {
	s, out := newTestServer(t)

	type loginResult struct {
		resp Response
	}
	done := make(chan loginResult, 1)
	go func() {
		resp := exchange(t, s, out, Request{JSONRPC: "2.0", ID: float64(9), Method: "auth/login",
			Params: json.RawMessage(`{"session_id":"sess-1"}`)})
		done <- loginResult{resp: resp}
	}()

	deadline := time.Now().Add(2 * time.Second)
	var reqID string
	for time.Now().Before(deadline) {
		for _, line := range strings.Split(out.String(), "\n") {
			if line == "" {
				continue
			}
			var req Request
			if err := json.Unmarshal([]byte(line), &req); err == nil && req.Method == "client/input" {
				reqID, _ = req.ID.(string)
			}
		}
		if reqID != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if reqID == "" {
		t.Fatalf("expected a client/input request; buffer: %s", out.String())
	}

	reply, _ := json.Marshal(Response{JSONRPC: "2.0", ID: reqID, Result: json.RawMessage(`{"text":"sk-test-key"}`)})
	s.handleLine(context.Background(), reply)

	select {
	case got := <-done:
		if got.resp.Error != nil {
			t.Fatalf("auth/login failed: %+v", got.resp.Error)
		}
		var status authStatusView
		if err := json.Unmarshal(got.resp.Result, &status); err != nil {
			t.Fatalf("decode auth/login result: %v", err)
		}
		if status.Status != "authenticated" {
			t.Fatalf("expected authenticated status, got %+v", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for auth/login to complete")
	}
}

func TestTasksListEmptyScope(t *testing.T) {
	s, out := newTestServer(t)
	resp := exchange(t, s, out, Request{JSONRPC: "2.0", ID: float64(6), Method: "tasks/list",
		Params: json.RawMessage(`{"working_dir":"/tmp/nowhere"}`)})
	if resp.Error != nil {
		t.Fatalf("tasks/list failed: %+v", resp.Error)
	}
	var body struct {
		Tasks []taskstore.Task `json:"tasks"`
	}
	if err := json.Unmarshal(resp.Result, &body); err != nil {
		t.Fatalf("decode tasks/list result: %v", err)
	}
	if len(body.Tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(body.Tasks))
	}
}
