// Package agent implements the per-session agent state machine: a
// worker that drives one streaming turn at a time, dispatches
// tool calls through internal/toolrunner, recovers from context overflow,
// and broadcasts every state change on internal/bus as an AgentEvent.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opalhq/opal/internal/bus"
	"github.com/opalhq/opal/internal/classify"
	"github.com/opalhq/opal/internal/compaction"
	"github.com/opalhq/opal/internal/config"
	"github.com/opalhq/opal/internal/observability"
	"github.com/opalhq/opal/internal/provider"
	"github.com/opalhq/opal/internal/session"
	"github.com/opalhq/opal/internal/skills"
	itool "github.com/opalhq/opal/internal/tool"
	"github.com/opalhq/opal/internal/toolrunner"
	"github.com/opalhq/opal/internal/usage"
	"github.com/opalhq/opal/pkg/event"
	"github.com/opalhq/opal/pkg/message"
)

// State is one of the four discrete states. The published `status`
// equals the current State at every instant.
type State int32

const (
	Idle State = iota
	Running
	Streaming
	ExecutingTools
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Streaming:
		return "streaming"
	case ExecutingTools:
		return "executing_tools"
	default:
		return "unknown"
	}
}

// Options configures a new Agent. All fields except the session/store/bus
// identity are mutable for the lifetime of the agent via Configure.
type Options struct {
	SessionID    string
	Depth        int // 0 for a top-level agent, 1 for a sub-agent
	WorkingDir   string
	SystemPrompt string
	Model        config.Model
	Features     config.Features
	DisabledTools map[string]bool
	AutoSave     bool
	AutoTitle    bool

	Store      *session.Store
	Bus        *bus.Hub
	Provider   provider.Provider
	Registry   *itool.Registry
	Skills     *skills.Manager // nil when skills aren't discovered/enabled
	RetryPolicy classify.RetryPolicy

	// Metrics is optional; when nil the agent simply doesn't record
	// counters (tests and sub-agents commonly leave it unset).
	Metrics *observability.Metrics

	// AskUser answers a top-level client/ask_user-style question; the
	// external ask_user tool and, when this agent parents a sub-agent,
	// ask_parent both resolve through it.
	AskUser func(ctx context.Context, question string) (string, error)

	// ApprovalPatterns and Confirm wire the client/confirm round-trip
	// into the tool runner's dispatch gate. Both nil/empty
	// disables approval-gating entirely.
	ApprovalPatterns []string
	Confirm          func(ctx context.Context, sessionID, title, message string, actions []string) (string, error)
}

// Agent is one session's state machine.
type Agent struct {
	opts Options

	mu              sync.Mutex
	state           State
	retryCounter    *classify.Counter
	overflowFlag    bool
	cancelStream    context.CancelFunc
	cancelTools     context.CancelFunc
	pendingCalls    []message.ToolCall
	completedCallID map[string]bool
	titled          bool

	steerMu    sync.Mutex
	steerQueue []string

	tracker    *usage.Tracker
	compactor  *compaction.Compactor
	toolRunner *toolrunner.Runner
}

// New builds an Agent. The caller is responsible for creating the
// session in opts.Store before the first Prompt call.
func New(opts Options) *Agent {
	a := &Agent{
		opts:            opts,
		state:           Idle,
		retryCounter:    classify.NewCounter(opts.RetryPolicy),
		completedCallID: make(map[string]bool),
		tracker:         usage.NewTracker(),
	}
	a.compactor = compaction.NewCompactor(opts.Store, &providerSummarizer{provider: opts.Provider, model: opts.Model.ID})
	a.toolRunner = toolrunner.New(opts.Registry, opts.Skills, opts.WorkingDir, a.broadcast)
	a.toolRunner.Gate = a.activeToolOptions
	a.toolRunner.Depth = opts.Depth
	a.toolRunner.Metrics = opts.Metrics
	a.toolRunner.ApprovalPatterns = opts.ApprovalPatterns
	if opts.Confirm != nil {
		a.toolRunner.Confirm = func(ctx context.Context, sessionID, title, message string, actions []string) (string, error) {
			return opts.Confirm(ctx, sessionID, title, message, actions)
		}
	}
	return a
}

// State returns the agent's current discrete state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) broadcast(evt event.AgentEvent) {
	a.opts.Bus.Broadcast(evt)
}

func (a *Agent) sessionID() string { return a.opts.SessionID }

// Model returns the agent's currently configured model triple.
func (a *Agent) Model() config.Model {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opts.Model
}

// Configure applies a live update to the mutable subset of Options
// (model, thinking level, system prompt, disabled tools) without
// disturbing an in-flight turn. Session/store/bus identity never change
// after New, so they're untouched here.
func (a *Agent) Configure(fn func(*Options)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.opts)
}

// Prompt is the Idle/steer-queue split: if the
// agent is idle it starts a new turn immediately; otherwise the text is
// queued and `message_queued` fires right away. Returns whether the
// prompt was queued (true) or started a turn directly (false).
func (a *Agent) Prompt(ctx context.Context, text string) (queued bool, err error) {
	a.mu.Lock()
	idle := a.state == Idle
	if idle {
		a.state = Running
	}
	a.mu.Unlock()

	if !idle {
		a.steerMu.Lock()
		a.steerQueue = append(a.steerQueue, text)
		a.steerMu.Unlock()
		a.broadcast(event.MessageQueued(a.sessionID(), text))
		return true, nil
	}

	a.broadcast(event.AgentStart(a.sessionID()))
	if _, err := a.opts.Store.Append(ctx, a.sessionID(), message.NewUserMessage(text)); err != nil {
		a.setState(Idle)
		return false, fmt.Errorf("agent: append user message: %w", err)
	}
	go a.runTurnLoop(ctx)
	return false, nil
}

// Abort cancels any in-flight stream or tool task, repairs orphaned tool
// calls with synthetic "[Aborted by user]" results, broadcasts
// agent_abort, and returns the agent to Idle.
func (a *Agent) Abort(ctx context.Context) error {
	a.mu.Lock()
	if a.state == Idle {
		a.mu.Unlock()
		return nil
	}
	if a.cancelStream != nil {
		a.cancelStream()
	}
	if a.cancelTools != nil {
		a.cancelTools()
	}
	orphaned := a.orphanedCallsLocked()
	a.pendingCalls = nil
	a.completedCallID = make(map[string]bool)
	a.state = Idle
	a.mu.Unlock()

	for _, c := range orphaned {
		if _, err := a.opts.Store.Append(ctx, a.sessionID(), message.NewToolResultMessage(c.Name, message.AbortedResult(c.ID))); err != nil {
			return fmt.Errorf("agent: repairing orphaned tool call: %w", err)
		}
	}

	a.broadcast(event.AgentAbort(a.sessionID()))
	return nil
}

// orphanedCallsLocked returns pending calls not yet completed. Caller
// must hold a.mu.
func (a *Agent) orphanedCallsLocked() []message.ToolCall {
	var out []message.ToolCall
	for _, c := range a.pendingCalls {
		if !a.completedCallID[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// drainSteer non-blockingly empties the steer queue.
func (a *Agent) drainSteer() []string {
	a.steerMu.Lock()
	defer a.steerMu.Unlock()
	if len(a.steerQueue) == 0 {
		return nil
	}
	out := a.steerQueue
	a.steerQueue = nil
	return out
}

// Drain implements toolrunner.Steerer so the tool runner can poll the
// same queue between tool calls.
func (a *Agent) Drain() []string { return a.drainSteer() }

// stallWatchdog is the Streaming-state stall threshold: past it the
// agent only emits status_update("stream_stalled"), never kills the
// stream.
const stallWatchdog = 10 * time.Second
