// Package toolrunner implements the tool runner:
// sequential dispatch of a finalized assistant turn's tool calls,
// draining the steering queue between each one, collecting changed
// paths for skill auto-load, and materializing every call's result
// (including synthetic aborted/skipped results, so every tool_call id
// always gets a matching tool_result) into
// the session history.
package toolrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/opalhq/opal/internal/observability"
	"github.com/opalhq/opal/internal/skills"
	itool "github.com/opalhq/opal/internal/tool"
	"github.com/opalhq/opal/pkg/event"
	"github.com/opalhq/opal/pkg/message"
)

// pathMutatingTools are the calls whose successful completion feeds
// skill auto-load candidate paths.
var pathMutatingTools = map[string]bool{
	"write_file": true,
	"edit_file":  true,
}

// Runner sequentially dispatches one assistant turn's tool calls.
type Runner struct {
	registry   *itool.Registry
	skills     *skills.Manager
	workingDir string
	emit       func(event.AgentEvent)

	// Depth is the owning agent's nesting depth (0 top-level, 1
	// sub-agent), threaded into each call's itool.Context so built-in
	// orchestration tools like sub_agent can enforce depth without the
	// registry itself needing to know which agent is dispatching.
	Depth int

	// Metrics is optional; nil disables counter/histogram recording
	// (unit tests construct a bare Runner without one).
	Metrics *observability.Metrics

	// Gate, when non-nil, supplies the gating inputs the active tool
	// set is computed from at the start of each batch. A call naming a
	// tool outside that set is rejected without executing, so disabling
	// a tool or filtering a sub-agent's set holds at dispatch, not just
	// in what the model was advertised. Nil means every registered tool
	// is dispatchable (bare test Runners).
	Gate func() itool.Options

	// ApprovalPatterns are glob patterns (filepath.Match syntax) matched
	// against a call's tool name; a match gates dispatch behind Confirm.
	// Empty/nil disables approval-gating entirely.
	ApprovalPatterns []string

	// Confirm, when non-nil, implements the client/confirm round-trip
	// a call matching ApprovalPatterns blocks on before
	// execution. Any action other than "approve" (or an error, e.g. the
	// client disconnecting mid-wait) short-circuits the call into a
	// "Denied by user" error result without ever calling Execute.
	Confirm func(ctx context.Context, sessionID, title, message string, actions []string) (string, error)
}

// New builds a Runner. skillsMgr may be nil when skills are disabled for
// the session, in which case auto-load is a no-op.
func New(registry *itool.Registry, skillsMgr *skills.Manager, workingDir string, emit func(event.AgentEvent)) *Runner {
	return &Runner{registry: registry, skills: skillsMgr, workingDir: workingDir, emit: emit}
}

// Steerer is polled between tool calls; Drain returns any steering
// messages that arrived since the last poll. A non-empty result aborts
// the remaining calls in the batch as "skipped".
type Steerer interface {
	Drain() []string
}

// BatchResult is everything a completed (or steered-off) tool batch
// produced: the tool_result messages to append to history, any newly
// auto-loaded skills, and the steering messages (if any) that cut the
// batch short.
type BatchResult struct {
	Results        []message.Message
	SkillsLoaded   []skills.Skill
	SteeringDrained []string
}

// RunBatch dispatches calls in order. ctx cancellation (e.g. on abort)
// stops dispatch immediately; any calls not yet started are recorded as
// aborted, matching AbortedResult's repair marker.
func (r *Runner) RunBatch(ctx context.Context, sessionID string, calls []message.ToolCall, steer Steerer) BatchResult {
	var out BatchResult
	var changedPaths []string
	steered := false

	allowed := r.allowedSet()

	for i, call := range calls {
		if steered {
			out.Results = append(out.Results, message.NewToolResultMessage(call.Name, message.SkippedResult(call.ID)))
			r.recordOutcome(call.Name, "skipped", 0)
			continue
		}
		if err := ctx.Err(); err != nil {
			out.Results = append(out.Results, message.NewToolResultMessage(call.Name, message.AbortedResult(call.ID)))
			r.recordOutcome(call.Name, "skipped", 0)
			continue
		}

		result := r.dispatch(ctx, sessionID, call, allowed)
		out.Results = append(out.Results, message.NewToolResultMessage(call.Name, result))

		if !result.IsError && pathMutatingTools[call.Name] {
			if p := extractPath(call.Arguments); p != "" {
				changedPaths = append(changedPaths, skills.RelativeToWorkingDir(r.workingDir, p))
			}
		}

		if i < len(calls)-1 && steer != nil {
			if drained := steer.Drain(); len(drained) > 0 {
				out.SteeringDrained = append(out.SteeringDrained, drained...)
				steered = true
			}
		}
	}

	if r.skills != nil && len(changedPaths) > 0 {
		loaded := r.skills.AutoLoad(changedPaths)
		out.SkillsLoaded = loaded
		for _, sk := range loaded {
			if r.emit != nil {
				r.emit(event.SkillLoaded(sessionID, sk.Name, sk.Description))
			}
		}
	}

	return out
}

// allowedSet resolves the batch's dispatchable tool names through Gate.
// A nil return (no Gate) means no restriction.
func (r *Runner) allowedSet() map[string]bool {
	if r.Gate == nil {
		return nil
	}
	allowed := make(map[string]bool)
	for _, t := range r.registry.ActiveSet(r.Gate()) {
		allowed[t.Name()] = true
	}
	return allowed
}

// dispatch runs a single tool call: active-set gating, schema validation,
// execution with panic isolation, and tool_execution_start/end event
// emission.
func (r *Runner) dispatch(ctx context.Context, sessionID string, call message.ToolCall, allowed map[string]bool) (result message.ToolResult) {
	if allowed != nil && !allowed[call.Name] {
		r.recordOutcome(call.Name, "error", 0)
		return message.ToolResult{CallID: call.ID, IsError: true, Reason: fmt.Sprintf("tool %q is not available in this session", call.Name)}
	}
	t, ok := r.registry.Get(call.Name)
	if !ok {
		r.recordOutcome(call.Name, "error", 0)
		return message.ToolResult{CallID: call.ID, IsError: true, Reason: fmt.Sprintf("unknown tool %q", call.Name)}
	}

	meta := t.Meta(call.Arguments)
	if r.emit != nil {
		r.emit(event.ToolExecutionStart(sessionID, call.Name, call.ID, call.Arguments, meta))
	}

	if r.requiresApproval(call.Name) {
		if denied, reason := r.awaitApproval(ctx, sessionID, call.Name, meta); denied {
			r.recordOutcome(call.Name, "denied", 0)
			result = message.ToolResult{CallID: call.ID, IsError: true, Reason: reason}
			if r.emit != nil {
				r.emit(event.ToolExecutionEnd(sessionID, call.Name, call.ID, event.ToolResultView{OK: false, Error: reason}))
			}
			return result
		}
	}

	tc := itool.Context{
		Ctx:        ctx,
		SessionID:  sessionID,
		CallID:     call.ID,
		WorkingDir: r.workingDir,
		Depth:      r.Depth,
		Emit: func(chunk string) {
			if r.emit != nil {
				r.emit(event.ToolOutput(sessionID, call.Name, call.ID, chunk))
			}
		},
	}

	start := time.Now()
	res := r.runIsolated(t, call.Arguments, tc)
	elapsed := time.Since(start)
	result = message.ToolResult{CallID: call.ID, Output: res.Output, IsError: res.IsError, Reason: res.Reason}

	outcome := "ok"
	if res.IsError {
		outcome = "error"
	}
	r.recordOutcome(call.Name, outcome, elapsed)

	if r.emit != nil {
		view := event.ToolResultView{OK: !res.IsError, Output: res.Output, Error: res.Reason}
		r.emit(event.ToolExecutionEnd(sessionID, call.Name, call.ID, view))
	}
	return result
}

// recordOutcome records a dispatched call's outcome against r.Metrics.
// elapsed is only observed into the duration histogram when it's
// positive (the "unknown tool" path has nothing to time).
func (r *Runner) recordOutcome(name, outcome string, elapsed time.Duration) {
	if r.Metrics == nil {
		return
	}
	r.Metrics.ToolCallsTotal.WithLabelValues(name, outcome).Inc()
	if elapsed > 0 {
		r.Metrics.ToolCallDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}
}

// runIsolated validates arguments and executes t, converting a panic
// inside Execute into an error Result so one misbehaving tool can't take
// down the agent loop.
func (r *Runner) runIsolated(t itool.Tool, args json.RawMessage, tc itool.Context) (res itool.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			res = itool.Err(fmt.Sprintf("tool panicked: %v", rec))
		}
	}()

	if err := itool.ValidateArgs(t.Parameters(), args); err != nil {
		return itool.Err(err.Error())
	}
	return t.Execute(args, tc)
}

// requiresApproval reports whether name matches any of r.ApprovalPatterns.
func (r *Runner) requiresApproval(name string) bool {
	if r.Confirm == nil {
		return false
	}
	for _, pattern := range r.ApprovalPatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// awaitApproval blocks on the client/confirm round-trip for an
// approval-gated call. denied is true when the call must not run: either
// the client answered anything other than "approve", or the round-trip
// itself failed (client disconnect, context cancellation).
func (r *Runner) awaitApproval(ctx context.Context, sessionID, name, meta string) (denied bool, reason string) {
	action, err := r.Confirm(ctx, sessionID, name, meta, []string{"approve", "deny"})
	if err != nil {
		return true, fmt.Sprintf("approval request failed: %v", err)
	}
	if action != "approve" {
		return true, "Denied by user"
	}
	return false, ""
}

func extractPath(args json.RawMessage) string {
	var parsed struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return ""
	}
	return parsed.Path
}
