package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/opalhq/opal/internal/classify"
	"github.com/opalhq/opal/internal/streamparser"
	"github.com/opalhq/opal/internal/usage"
	"github.com/opalhq/opal/pkg/event"
)

// runTurnLoop drives the agent through turns until it reaches Idle or a
// fatal error. It is always
// invoked from a fresh goroutine (Prompt, or a continuation after tools
// complete / steers drain / overflow recovers).
func (a *Agent) runTurnLoop(ctx context.Context) {
	a.cycle(ctx)
}

// cycle runs exactly one LLM turn to completion (including its retry/
// overflow loop), finalizes it, and recurses as needed: into tool
// execution, into a fresh turn after overflow recovery, or into a fresh
// turn after draining queued steers. It only returns once the agent has
// reached Idle (successfully or fatally).
func (a *Agent) cycle(ctx context.Context) {
	a.maybeAutoCompact(ctx)

	start := time.Now()
	turn, fatal := a.attemptStream(ctx)
	if fatal != nil {
		a.recordTurn("error", time.Since(start))
		a.broadcast(event.Error(a.sessionID(), fatal.Error()))
		a.setState(Idle)
		return
	}
	if turn == nil {
		// Abort arrived mid-stream; Abort() already reset state to Idle.
		a.recordTurn("aborted", time.Since(start))
		return
	}

	a.recordTurn("ok", time.Since(start))
	a.finalize(ctx, *turn)
}

// recordTurn observes one completed round-trip LLM call against
// a.opts.Metrics (the actual counters live in internal/observability so
// the agent and RPC server share one registry).
func (a *Agent) recordTurn(outcome string, elapsed time.Duration) {
	if a.opts.Metrics == nil {
		return
	}
	a.opts.Metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	a.opts.Metrics.TurnDuration.WithLabelValues(a.opts.Provider.Name(), a.opts.Model.ID).Observe(elapsed.Seconds())
}

// attemptStream builds the request and drives provider.Complete under
// the retry/overflow loop. It returns a nil
// Turn (no fatal error) if the agent was aborted mid-attempt.
func (a *Agent) attemptStream(ctx context.Context) (*streamparser.Turn, error) {
	for {
		a.setState(Running)

		path, err := a.opts.Store.CurrentPath(ctx, a.sessionID())
		if err != nil {
			return nil, fmt.Errorf("agent: load current path: %w", err)
		}

		req := buildCompletionRequest(a, path)

		streamCtx, cancel := context.WithCancel(ctx)
		a.mu.Lock()
		a.cancelStream = cancel
		a.mu.Unlock()

		stream, err := a.opts.Provider.Complete(streamCtx, req)
		if err != nil {
			cancel()
			if a.State() == Idle {
				return nil, nil // aborted while dialing
			}
			if outcome, stop := a.classifyAndWait(ctx, err); stop {
				return nil, outcome
			}
			if a.State() == Idle {
				return nil, nil // aborted during backoff
			}
			continue
		}

		a.setState(Streaming)
		turn := a.consumeStream(streamCtx, stream)
		cancel()

		if a.State() == Idle {
			return nil, nil // aborted mid-stream
		}

		if turn.Err != nil {
			if outcome, stop := a.classifyAndWait(ctx, turn.Err); stop {
				return nil, outcome
			}
			if a.State() == Idle {
				return nil, nil // aborted during backoff
			}
			continue
		}

		if turn.Usage != nil {
			u := normalizeStreamUsage(turn.Usage)
			a.tracker.Record(u, len(path)+1)
			a.broadcast(event.UsageUpdate(a.sessionID(), event.Usage{
				PromptTokens:     int(u.InputTokens),
				CompletionTokens: int(u.OutputTokens),
				TotalTokens:      int(u.Total()),
			}))
			if usage.UsageBasedOverflow(a.opts.Model.ID, int(u.InputTokens)) {
				a.mu.Lock()
				a.overflowFlag = true
				a.mu.Unlock()
				a.recordOverflow("usage")
			}
		}

		return &turn, nil
	}
}

// normalizeStreamUsage reconciles the mixed key names providers report
// (prompt_tokens/input_tokens, completion_tokens/output_tokens) into the
// tracker's canonical Usage shape.
func normalizeStreamUsage(u *event.StreamUsage) usage.Usage {
	in := u.InputTokens
	if in == 0 {
		in = u.PromptTokens
	}
	out := u.OutputTokens
	if out == 0 {
		out = u.CompletionTokens
	}
	return usage.Usage{InputTokens: int64(in), OutputTokens: int64(out)}
}

// classifyAndWait classifies err. For an overflow
// error it runs recovery compaction and signals the caller to retry
// without consuming a retry-budget slot (stop=false). For a retryable
// error within budget it sleeps the backoff delay (stop=false, retry).
// Otherwise it returns the fatal error (stop=true).
func (a *Agent) classifyAndWait(ctx context.Context, err error) (fatal error, stop bool) {
	if classify.IsOverflow(err) {
		a.recordOverflow("error")
		if rerr := a.recoverOverflow(ctx); rerr != nil {
			return rerr, true
		}
		a.broadcast(event.AgentRecovered(a.sessionID()))
		return nil, false
	}

	if classify.IsRetryable(err) && !a.retryCounter.ExhaustedBudget() {
		delay, ok := a.retryCounter.NextDelay()
		if !ok {
			return fmt.Errorf("agent: retry budget exhausted: %w", err), true
		}
		a.recordRetry("transient")
		select {
		case <-time.After(delay):
			return nil, false
		case <-ctx.Done():
			return nil, false // caller checks for the Idle state a concurrent Abort leaves
		}
	}

	return err, true
}

// recoverOverflow runs the aggressive recovery compaction and clears
// the overflow flag on success.
func (a *Agent) recoverOverflow(ctx context.Context) error {
	a.recordCompaction("overflow")
	a.broadcast(event.StatusUpdate(a.sessionID(), "compaction_start: overflow recovery"))
	entry, err := a.compactor.CompactForOverflowRecovery(ctx, a.sessionID(), a.opts.Model.ID)
	if err != nil {
		a.broadcast(event.Error(a.sessionID(), fmt.Sprintf("overflow_no_session: %v", err)))
		return err
	}
	a.broadcast(event.StatusUpdate(a.sessionID(), fmt.Sprintf("compaction_end: new leaf %s", entry.ID)))
	a.mu.Lock()
	a.overflowFlag = false
	a.mu.Unlock()
	return nil
}

// maybeAutoCompact runs the pre-turn check: if the hybrid estimate
// crosses 80% of the model's context window, compact before issuing the
// request.
func (a *Agent) maybeAutoCompact(ctx context.Context) {
	if !a.opts.AutoSave {
		return
	}
	path, err := a.opts.Store.CurrentPath(ctx, a.sessionID())
	if err != nil {
		return
	}
	_, msgCountAtReport := a.tracker.LastReport()
	var newContents []string
	for i := msgCountAtReport; i < len(path); i++ {
		newContents = append(newContents, path[i].Content)
	}
	hybrid := a.tracker.HybridEstimate(newContents)
	shouldCompact, _ := usage.AutoCompactThreshold(a.opts.Model.ID, hybrid)
	if !shouldCompact {
		return
	}

	a.recordCompaction("auto")
	a.broadcast(event.StatusUpdate(a.sessionID(), fmt.Sprintf("compaction_start: %d messages", len(path))))
	entry, err := a.compactor.CompactForAutoThreshold(ctx, a.sessionID(), a.opts.Model.ID)
	if err != nil {
		a.broadcast(event.Error(a.sessionID(), fmt.Sprintf("auto-compact failed: %v", err)))
		return
	}
	a.broadcast(event.StatusUpdate(a.sessionID(), fmt.Sprintf("compaction_end: new leaf %s", entry.ID)))
}

// consumeStream wires streamparser.Sink callbacks to bus broadcasts,
// preserving the canonical per-turn event order.
func (a *Agent) consumeStream(ctx context.Context, stream <-chan event.StreamEvent) streamparser.Turn {
	parser := streamparser.NewParser()
	sessionID := a.sessionID()
	started := false
	thinkingStarted := false

	sink := streamparser.Sink{
		OnMessageStart: func() {
			if !started {
				started = true
				a.broadcast(event.MessageStart(sessionID))
			}
		},
		OnMessageDelta: func(cleaned string) {
			a.broadcast(event.MessageDelta(sessionID, cleaned))
		},
		OnThinkingStart: func() {
			if !thinkingStarted {
				thinkingStarted = true
				a.broadcast(event.ThinkingStart(sessionID))
			}
		},
		OnThinkingDelta: func(text string) {
			a.broadcast(event.ThinkingDelta(sessionID, text))
		},
		OnStatusUpdate: func(status string) {
			a.broadcast(event.StatusUpdate(sessionID, status))
		},
		OnError: func(err error) {
			a.broadcast(event.Error(sessionID, err.Error()))
		},
	}

	watchdog := time.NewTimer(stallWatchdog)
	defer watchdog.Stop()
	done := make(chan streamparser.Turn, 1)
	go func() { done <- parser.Consume(stream, sink) }()

	for {
		select {
		case t := <-done:
			return t
		case <-watchdog.C:
			a.broadcast(event.StatusUpdate(sessionID, "stream_stalled"))
			watchdog.Reset(stallWatchdog)
		case <-ctx.Done():
			// Keep waiting for the parser goroutine to observe the
			// cancellation via the closed stream channel; don't leak it.
			return <-done
		}
	}
}


func (a *Agent) recordRetry(reason string) {
	if a.opts.Metrics != nil {
		a.opts.Metrics.RetriesTotal.WithLabelValues(reason).Inc()
	}
}

func (a *Agent) recordOverflow(path string) {
	if a.opts.Metrics != nil {
		a.opts.Metrics.OverflowsTotal.WithLabelValues(path).Inc()
	}
}

func (a *Agent) recordCompaction(trigger string) {
	if a.opts.Metrics != nil {
		a.opts.Metrics.CompactionsTotal.WithLabelValues(trigger).Inc()
	}
}
