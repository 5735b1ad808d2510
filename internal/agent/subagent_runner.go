package agent

import (
	"context"
	"fmt"

	"github.com/opalhq/opal/internal/subagent"
	"github.com/opalhq/opal/pkg/event"
)

// RunToCompletion implements subagent.Runner: run a single prompt to
// completion, forwarding every event this agent emits to onEvent, and
// return the concatenated assistant text once agent_end or agent_abort
// fires. A sub-agent shares the parent's bus but broadcasts under its own
// session id, so its traffic never reaches the parent's session topic
// directly; the subagent.Handle is what re-wraps and forwards it as
// sub_agent_event.
func (a *Agent) RunToCompletion(ctx context.Context, prompt string, onEvent func(event.AgentEvent)) (string, error) {
	ch, cancel := a.opts.Bus.SubscribeAll()
	defer cancel()

	if a.opts.AskUser != nil {
		ctx = subagent.WithAnswerer(ctx, func(q string) (string, error) {
			return a.opts.AskUser(ctx, q)
		})
	}

	done := make(chan struct{})
	var finalText string
	var aborted bool

	go func() {
		defer close(done)
		for evt := range ch {
			if evt.SessionID != a.sessionID() {
				continue
			}
			if onEvent != nil {
				onEvent(evt)
			}
			switch evt.Type {
			case event.TypeMessageDelta:
				finalText += evt.Text
			case event.TypeAgentEnd:
				return
			case event.TypeAgentAbort:
				aborted = true
				return
			}
		}
	}()

	if _, err := a.Prompt(ctx, prompt); err != nil {
		cancel()
		return "", fmt.Errorf("subagent: prompt: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		_ = a.Abort(context.Background())
		return "", ctx.Err()
	}

	if aborted {
		return finalText, fmt.Errorf("subagent: aborted")
	}
	return finalText, nil
}
