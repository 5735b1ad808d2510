package agent

import (
	"context"
	"encoding/json"

	"github.com/opalhq/opal/internal/skills"
	"github.com/opalhq/opal/internal/streamparser"
	"github.com/opalhq/opal/pkg/event"
	"github.com/opalhq/opal/pkg/message"
)

// finalize runs the end-of-stream sequence: append the assistant
// message, clear the retry budget, then pick one of overflow recovery,
// tool execution, steer drain, or agent_end. Tool-call materialization
// already happened inside streamparser.Turn.
func (a *Agent) finalize(ctx context.Context, turn streamparser.Turn) {
	msg := message.NewAssistantMessage(turn.Text, turn.Thinking, turn.ToolCalls)
	if _, err := a.opts.Store.Append(ctx, a.sessionID(), msg); err != nil {
		a.broadcast(event.Error(a.sessionID(), "append assistant message: "+err.Error()))
		a.setState(Idle)
		return
	}
	a.retryCounter.Reset()

	a.mu.Lock()
	overflow := a.overflowFlag
	a.overflowFlag = false
	a.mu.Unlock()

	if overflow {
		if err := a.recoverOverflow(ctx); err != nil {
			a.setState(Idle)
			return
		}
		a.cycle(ctx)
		return
	}

	if len(turn.ToolCalls) > 0 {
		a.broadcast(event.TurnEnd(a.sessionID(), toMessageView(msg)))
		a.runTools(ctx, turn.ToolCalls)
		return
	}

	if drained := a.applySteers(ctx); drained {
		a.cycle(ctx)
		return
	}

	a.finishIdle(ctx)
}

// runTools dispatches the batch sequentially via internal/toolrunner,
// materializes results, then always starts a fresh turn once the batch
// (and skill auto-load) settles.
func (a *Agent) runTools(ctx context.Context, calls []message.ToolCall) {
	a.setState(ExecutingTools)

	toolCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelTools = cancel
	a.pendingCalls = calls
	a.completedCallID = make(map[string]bool)
	a.mu.Unlock()

	result := a.toolRunner.RunBatch(toolCtx, a.sessionID(), calls, a)
	cancel()

	if a.State() == Idle {
		return // Abort() already repaired orphaned calls
	}

	for _, m := range result.Results {
		if _, err := a.opts.Store.Append(ctx, a.sessionID(), m); err != nil {
			a.broadcast(event.Error(a.sessionID(), "append tool result: "+err.Error()))
		}
		a.mu.Lock()
		a.completedCallID[m.CallID] = true
		a.mu.Unlock()
	}

	for _, sk := range result.SkillsLoaded {
		injection := message.NewUserMessage(skills.SystemInjection(sk))
		if _, err := a.opts.Store.Append(ctx, a.sessionID(), injection); err != nil {
			a.broadcast(event.Error(a.sessionID(), "append skill injection: "+err.Error()))
		}
	}

	a.applySteers(ctx)
	a.cycle(ctx)
}

// applySteers drains the steer queue, appending each as a user message
// and emitting message_applied. Returns whether anything was drained.
func (a *Agent) applySteers(ctx context.Context) bool {
	drained := a.drainSteer()
	for _, text := range drained {
		if _, err := a.opts.Store.Append(ctx, a.sessionID(), message.NewUserMessage(text)); err != nil {
			a.broadcast(event.Error(a.sessionID(), "append steer message: "+err.Error()))
			continue
		}
		a.broadcast(event.MessageApplied(a.sessionID(), text))
	}
	return len(drained) > 0
}

// finishIdle ends the turn loop: emit agent_end, return to
// Idle, and (if enabled) kick off a one-shot background title generation.
func (a *Agent) finishIdle(ctx context.Context) {
	cumulative := a.tracker.Cumulative()
	a.broadcast(event.AgentEnd(a.sessionID(), &event.Usage{
		PromptTokens:     int(cumulative.InputTokens),
		CompletionTokens: int(cumulative.OutputTokens),
		TotalTokens:      int(cumulative.Total()),
	}))
	a.setState(Idle)

	if !a.opts.AutoTitle {
		return
	}
	a.mu.Lock()
	already := a.titled
	a.mu.Unlock()
	if already {
		return
	}
	path, err := a.opts.Store.CurrentPath(ctx, a.sessionID())
	if err != nil || len(path) < 2 {
		return
	}
	sess, err := a.opts.Store.Get(ctx, a.sessionID())
	if err != nil || sess.Title != "" {
		return
	}
	a.mu.Lock()
	a.titled = true
	a.mu.Unlock()
	go a.generateTitle(context.Background(), path)
}

func toMessageView(msg message.Message) event.MessageView {
	view := event.MessageView{ID: msg.ID, Role: string(msg.Role), Content: msg.Content}
	for _, c := range msg.ToolCalls {
		view.ToolCalls = append(view.ToolCalls, struct {
			ID        string          `json:"id"`
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	return view
}
