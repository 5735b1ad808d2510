package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opalhq/opal/internal/bus"
	"github.com/opalhq/opal/internal/classify"
	"github.com/opalhq/opal/internal/config"
	"github.com/opalhq/opal/internal/provider"
	"github.com/opalhq/opal/internal/session"
	itool "github.com/opalhq/opal/internal/tool"
	"github.com/opalhq/opal/pkg/event"
	"github.com/opalhq/opal/pkg/message"
)

// fakeProvider serves a scripted sequence of turns: each call to Complete
// pops the next scripted []event.StreamEvent (or error) off the front.
type fakeProvider struct {
	mu     sync.Mutex
	turns  [][]event.StreamEvent
	errs   []error
	calls  int
}

func (p *fakeProvider) Complete(_ context.Context, _ *provider.CompletionRequest) (<-chan event.StreamEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	p.calls++

	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}

	var script []event.StreamEvent
	if idx < len(p.turns) {
		script = p.turns[idx]
	}
	ch := make(chan event.StreamEvent, len(script))
	for _, e := range script {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func (p *fakeProvider) Name() string            { return "fake" }
func (p *fakeProvider) Models() []provider.Model { return nil }
func (p *fakeProvider) SupportsTools() bool      { return true }

var _ provider.Provider = (*fakeProvider)(nil)

func textTurn(text string) []event.StreamEvent {
	return []event.StreamEvent{
		event.TextStart(),
		event.TextDelta(text),
		event.TextDone(text),
		event.ResponseDone(&event.StreamUsage{InputTokens: 100, OutputTokens: 10}),
	}
}

func toolCallTurn(callID, name string, args json.RawMessage) []event.StreamEvent {
	return []event.StreamEvent{
		event.ToolCallStart(callID, name),
		event.ToolCallDone(callID, name, args),
		event.ResponseDone(&event.StreamUsage{InputTokens: 100, OutputTokens: 10}),
	}
}

// echoTool is a minimal tool.Tool that echoes its "value" argument.
type echoTool struct{}

func (echoTool) Name() string                 { return "echo" }
func (echoTool) Description() string          { return "echoes value" }
func (echoTool) Parameters() json.RawMessage   { return json.RawMessage(`{}`) }
func (echoTool) Meta(json.RawMessage) string   { return "" }
func (echoTool) Execute(args json.RawMessage, _ itool.Context) itool.Result {
	var parsed struct {
		Value string `json:"value"`
	}
	_ = json.Unmarshal(args, &parsed)
	return itool.Ok(parsed.Value)
}

var _ itool.Tool = echoTool{}

func newTestAgent(t *testing.T, p *fakeProvider) (*Agent, *session.Store, chan event.AgentEvent, func()) {
	t.Helper()
	store := session.NewStore(nil)
	sessionID := "test-session"
	if _, err := store.Create(context.Background(), sessionID, "/tmp"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	registry := itool.NewRegistry()
	registry.Register(echoTool{})

	b := bus.NewHub()
	ch, cancel := b.SubscribeAll()

	a := New(Options{
		SessionID:    sessionID,
		WorkingDir:   "/tmp",
		SystemPrompt: "be helpful",
		Model:        config.Model{Provider: "fake", ID: "fake-model"},
		Features:     config.Features{},
		Store:        store,
		Bus:          b,
		Provider:     p,
		Registry:     registry,
		RetryPolicy:  classify.RetryPolicy{MaxAttempts: 2, Backoff: classify.BackoffPolicy{Base: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterMin: 1, JitterMax: 1}},
	})
	return a, store, ch, cancel
}

func collectUntil(t *testing.T, ch chan event.AgentEvent, want event.Type, timeout time.Duration) []event.AgentEvent {
	t.Helper()
	var got []event.AgentEvent
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-ch:
			got = append(got, evt)
			if evt.Type == want {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s; got %d events: %+v", want, len(got), got)
		}
	}
}

func TestPromptHappyPathNoTools(t *testing.T) {
	p := &fakeProvider{turns: [][]event.StreamEvent{textTurn("hello there")}}
	a, store, ch, cancel := newTestAgent(t, p)
	defer cancel()

	queued, err := a.Prompt(context.Background(), "hi")
	if err != nil || queued {
		t.Fatalf("Prompt() = %v, %v", queued, err)
	}

	events := collectUntil(t, ch, event.TypeAgentEnd, 2*time.Second)

	var sawStart, sawDelta, sawEnd bool
	for _, e := range events {
		switch e.Type {
		case event.TypeAgentStart:
			sawStart = true
		case event.TypeMessageDelta:
			sawDelta = true
		case event.TypeAgentEnd:
			sawEnd = true
		}
	}
	if !sawStart || !sawDelta || !sawEnd {
		t.Fatalf("missing expected events: start=%v delta=%v end=%v (%+v)", sawStart, sawDelta, sawEnd, events)
	}

	if got := a.State(); got != Idle {
		t.Fatalf("state = %v, want Idle", got)
	}

	path, err := store.CurrentPath(context.Background(), a.sessionID())
	if err != nil {
		t.Fatalf("CurrentPath: %v", err)
	}
	if len(path) != 2 {
		t.Fatalf("path len = %d, want 2 (user + assistant)", len(path))
	}
	if path[1].Content != "hello there" {
		t.Fatalf("assistant content = %q", path[1].Content)
	}
}

func TestPromptToolLoop(t *testing.T) {
	p := &fakeProvider{turns: [][]event.StreamEvent{
		toolCallTurn("call-1", "echo", json.RawMessage(`{"value":"pong"}`)),
		textTurn("done"),
	}}
	a, store, ch, cancel := newTestAgent(t, p)
	defer cancel()

	if _, err := a.Prompt(context.Background(), "say pong"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}

	events := collectUntil(t, ch, event.TypeAgentEnd, 2*time.Second)

	var sawTurnEnd, sawToolStart, sawToolEnd bool
	for _, e := range events {
		switch e.Type {
		case event.TypeTurnEnd:
			sawTurnEnd = true
		case event.TypeToolExecStart:
			sawToolStart = true
		case event.TypeToolExecEnd:
			sawToolEnd = true
			if e.Result == nil || !e.Result.OK || e.Result.Output != "pong" {
				t.Fatalf("tool_execution_end result = %+v", e.Result)
			}
		}
	}
	if !sawTurnEnd || !sawToolStart || !sawToolEnd {
		t.Fatalf("missing tool-loop events: turnEnd=%v toolStart=%v toolEnd=%v", sawTurnEnd, sawToolStart, sawToolEnd)
	}

	path, err := store.CurrentPath(context.Background(), a.sessionID())
	if err != nil {
		t.Fatalf("CurrentPath: %v", err)
	}
	// user, assistant(tool_call), tool_result, assistant(final)
	if len(path) != 4 {
		t.Fatalf("path len = %d, want 4: %+v", len(path), path)
	}
	if path[2].ToolName != "echo" || path[2].Content != "pong" {
		t.Fatalf("tool result message = %+v", path[2])
	}
	if path[3].Content != "done" {
		t.Fatalf("final assistant content = %q", path[3].Content)
	}
}

func TestPromptQueuesWhileRunning(t *testing.T) {
	p := &fakeProvider{}
	a, _, ch, cancel := newTestAgent(t, p)
	defer cancel()

	// Simulate an in-flight turn without actually driving the provider.
	a.mu.Lock()
	a.state = Running
	a.mu.Unlock()

	queued, err := a.Prompt(context.Background(), "second message")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if !queued {
		t.Fatalf("expected Prompt to queue while Running")
	}

	evt := <-ch
	if evt.Type != event.TypeMessageQueued {
		t.Fatalf("expected message_queued, got %v", evt.Type)
	}
	if evt.Text != "second message" {
		t.Fatalf("queued text = %q", evt.Text)
	}

	drained := a.drainSteer()
	if len(drained) != 1 || drained[0] != "second message" {
		t.Fatalf("drainSteer = %v", drained)
	}
}

func TestAbortRepairsOrphanedToolCalls(t *testing.T) {
	p := &fakeProvider{}
	a, store, ch, cancel := newTestAgent(t, p)
	defer cancel()

	pending := []message.ToolCall{
		{ID: "call-x", Name: "echo", Arguments: json.RawMessage(`{"value":"x"}`)},
		{ID: "call-y", Name: "echo", Arguments: json.RawMessage(`{"value":"y"}`)},
	}

	a.mu.Lock()
	a.state = ExecutingTools
	a.pendingCalls = pending
	a.completedCallID = map[string]bool{"call-x": true} // call-y is orphaned
	a.mu.Unlock()

	if err := a.Abort(context.Background()); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if got := a.State(); got != Idle {
		t.Fatalf("state after abort = %v, want Idle", got)
	}

	select {
	case evt := <-ch:
		if evt.Type != event.TypeAgentAbort {
			t.Fatalf("expected agent_abort, got %v", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for agent_abort")
	}

	path, err := store.CurrentPath(context.Background(), a.sessionID())
	if err != nil {
		t.Fatalf("CurrentPath: %v", err)
	}
	last := path[len(path)-1]
	if last.CallID != "call-y" || !last.IsError {
		t.Fatalf("expected synthetic aborted result for call-y, got %+v", last)
	}
}

func TestOverflowRecoveryThenSuccess(t *testing.T) {
	p := &fakeProvider{
		errs:  []error{errors.New("context_length_exceeded: too many tokens"), nil},
		turns: [][]event.StreamEvent{nil, textTurn("recovered")},
	}
	a, _, ch, cancel := newTestAgent(t, p)
	defer cancel()

	if _, err := a.Prompt(context.Background(), "long message"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}

	events := collectUntil(t, ch, event.TypeAgentEnd, 2*time.Second)
	var sawRecovered bool
	for _, e := range events {
		if e.Type == event.TypeAgentRecovered {
			sawRecovered = true
		}
	}
	if !sawRecovered {
		t.Fatalf("expected agent_recovered among events: %+v", events)
	}
}

func TestRetryExhaustionIsFatal(t *testing.T) {
	retryableErr := errors.New("connection reset by peer")
	p := &fakeProvider{errs: []error{retryableErr, retryableErr, retryableErr}}
	a, _, ch, cancel := newTestAgent(t, p)
	defer cancel()

	if _, err := a.Prompt(context.Background(), "hi"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}

	events := collectUntil(t, ch, event.TypeError, 2*time.Second)
	last := events[len(events)-1]
	if last.Type != event.TypeError {
		t.Fatalf("expected terminal error event, got %v", last.Type)
	}
	if got := a.State(); got != Idle {
		t.Fatalf("state after fatal error = %v, want Idle", got)
	}
}

func TestEmptyStreamEndsIdleWithNoToolCalls(t *testing.T) {
	p := &fakeProvider{turns: [][]event.StreamEvent{
		{event.ResponseDone(&event.StreamUsage{InputTokens: 5, OutputTokens: 0})},
	}}
	a, store, ch, cancel := newTestAgent(t, p)
	defer cancel()

	if _, err := a.Prompt(context.Background(), "ping"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	collectUntil(t, ch, event.TypeAgentEnd, 2*time.Second)

	path, err := store.CurrentPath(context.Background(), a.sessionID())
	if err != nil {
		t.Fatalf("CurrentPath: %v", err)
	}
	last := path[len(path)-1]
	if last.Content != "" || len(last.ToolCalls) != 0 {
		t.Fatalf("expected empty assistant message, got %+v", last)
	}
}

func TestStateStringer(t *testing.T) {
	cases := map[State]string{
		Idle: "idle", Running: "running", Streaming: "streaming", ExecutingTools: "executing_tools",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
	if got := State(99).String(); got != "unknown" {
		t.Fatalf("unknown state String() = %q", got)
	}
}

func TestConsumeStreamEmitsCanonicalOrder(t *testing.T) {
	p := &fakeProvider{}
	a, _, ch, cancel := newTestAgent(t, p)
	defer cancel()

	script := []event.StreamEvent{
		event.TextStart(),
		event.TextDelta("a"),
		event.TextDelta("b"),
		event.TextDone("ab"),
	}
	stream := make(chan event.StreamEvent, len(script))
	for _, e := range script {
		stream <- e
	}
	close(stream)

	turn := a.consumeStream(context.Background(), stream)
	if turn.Text != "ab" {
		t.Fatalf("turn.Text = %q", turn.Text)
	}

	var order []event.Type
	drain := true
	for drain {
		select {
		case e := <-ch:
			order = append(order, e.Type)
		default:
			drain = false
		}
	}
	if len(order) < 3 {
		t.Fatalf("expected at least message_start + 2 deltas, got %v", order)
	}
	if order[0] != event.TypeMessageStart {
		t.Fatalf("first event = %v, want message_start", order[0])
	}
}
