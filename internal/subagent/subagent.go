// Package subagent implements sub-agent delegation:
// spawning a depth-bounded child agent with a filtered tool list, running
// it to completion, and forwarding its events to the parent session as
// sub_agent_event envelopes. It does not itself run an agent loop; that
// stays in internal/agent, which implements the Runner interface below
// and is injected at wiring time (internal/rpc's per-session setup), so
// the two packages don't
// import each other.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opalhq/opal/pkg/event"
)

// ErrMaxDepthExceeded is returned when a spawn request would create a
// sub-agent of a sub-agent; nesting is bounded to depth 1.
var ErrMaxDepthExceeded = errors.New("subagent: nesting depth exceeded (max depth is 1)")

// DefaultTimeout is how long Run waits for agent_end/agent_abort before
// giving up. Overridable per spawn via Config.Timeout.
const DefaultTimeout = 120 * time.Second

// Config describes one sub-agent spawn request.
type Config struct {
	ParentSessionID string
	ParentCallID    string // the sub_agent tool call id this spawn is servicing
	SubSessionID    string // the child's own session id, for event attribution
	Depth           int    // the PARENT's depth; the child will run at Depth+1
	Prompt          string
	SystemPrompt    string
	ToolOverrides   []string // tool names the child is restricted to, if non-empty
	Timeout         time.Duration
}

// Runner is the subset of the agent core a sub-agent needs: run one turn
// to completion against a prompt, streaming events to onEvent, and return
// the final assistant text. internal/agent.Agent implements this.
type Runner interface {
	RunToCompletion(ctx context.Context, prompt string, onEvent func(event.AgentEvent)) (string, error)
}

// Factory builds a fresh, depth-bound Runner for a sub-agent invocation:
// it is responsible for constructing a child agent whose tool registry
// has sub_agent removed (no grandchildren) and ask_user replaced with
// ask_parent.
type Factory func(cfg Config) (Runner, error)

// Supervisor enforces depth and timeout policy around Factory and
// forwards a spawned child's events to the parent as SubAgentEvent
// envelopes.
type Supervisor struct {
	factory Factory
	enabled bool
}

// NewSupervisor builds a Supervisor. enabled mirrors features.sub_agents;
// when false, Spawn always fails so the sub_agent tool degrades to an
// error result rather than a panic on a nil factory.
func NewSupervisor(factory Factory, enabled bool) *Supervisor {
	return &Supervisor{factory: factory, enabled: enabled}
}

// Spawn validates depth and feature gating, builds a child Runner via the
// factory, and returns a Handle the caller uses to run it.
func (s *Supervisor) Spawn(cfg Config) (*Handle, error) {
	if !s.enabled {
		return nil, errors.New("subagent: sub-agents are disabled for this session")
	}
	if cfg.Depth >= 1 {
		return nil, ErrMaxDepthExceeded
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	runner, err := s.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("subagent: spawn: %w", err)
	}
	return &Handle{cfg: cfg, runner: runner}, nil
}

// Handle is one spawned sub-agent, ready to be run.
type Handle struct {
	cfg    Config
	runner Runner
}

// Run executes the sub-agent to completion, forwarding every event it
// emits to onParentEvent wrapped as a SubAgentEvent, and enforces the
// configured timeout by cancelling the child's context. It returns the
// child's final assistant text, or an error if the child errored or the
// timeout elapsed first.
func (h *Handle) Run(ctx context.Context, onParentEvent func(event.AgentEvent)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	forward := func(evt event.AgentEvent) {
		if onParentEvent != nil {
			onParentEvent(event.SubAgentEvent(h.cfg.ParentSessionID, h.cfg.ParentCallID, h.cfg.SubSessionID, evt))
		}
	}

	result, err := h.runner.RunToCompletion(ctx, h.cfg.Prompt, forward)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("subagent: timed out after %s", h.cfg.Timeout)
		}
		return "", err
	}
	return result, nil
}
