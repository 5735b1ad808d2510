package compaction

import (
	"context"
	"fmt"

	"github.com/opalhq/opal/internal/session"
	"github.com/opalhq/opal/internal/usage"
	"github.com/opalhq/opal/pkg/message"
)

// SelectRecentTail walks messages from the end and keeps as many as fit
// within budgetTokens, returning the kept tail (in original order) and
// the head that was dropped (the part to be summarized). Both
// auto-compact and overflow-recovery compaction use this keep-last
// tail selection.
//
// An assistant message carrying tool calls and the tool_result messages
// that answer it move as one indivisible unit: a cut between them would
// leave the kept branch opening with results whose originating calls
// were summarized away, a history providers reject.
func SelectRecentTail(messages []*message.Message, budgetTokens int) (tail, head []*message.Message) {
	if budgetTokens <= 0 || len(messages) == 0 {
		return nil, messages
	}
	starts := unitStarts(messages)
	kept := 0
	tokens := 0
	for u := len(starts) - 1; u >= 0; u-- {
		end := len(messages)
		if u+1 < len(starts) {
			end = starts[u+1]
		}
		t := 0
		for i := starts[u]; i < end; i++ {
			t += EstimateTokens(messages[i])
		}
		if tokens+t > budgetTokens && kept > 0 {
			break
		}
		tokens += t
		kept += end - starts[u]
	}
	split := len(messages) - kept
	return messages[split:], messages[:split]
}

// unitStarts returns the index of each indivisible unit's first message:
// an assistant message with ToolCalls absorbs the run of tool_result
// messages that follows it; everything else stands alone.
func unitStarts(messages []*message.Message) []int {
	var starts []int
	for i := 0; i < len(messages); {
		starts = append(starts, i)
		if messages[i].Role == message.RoleAssistant && len(messages[i].ToolCalls) > 0 {
			i++
			for i < len(messages) && messages[i].Role == message.RoleToolResult {
				i++
			}
			continue
		}
		i++
	}
	return starts
}

// Compactor performs the branch-on-compact operation: summarize the head
// of the current path and start a fresh branch rooted at that summary
// followed by the preserved tail.
type Compactor struct {
	Store      *session.Store
	Summarizer Summarizer
}

// NewCompactor builds a Compactor bound to a session store and a
// summary-generating backend (typically a provider.Provider wrapper).
func NewCompactor(store *session.Store, summarizer Summarizer) *Compactor {
	return &Compactor{Store: store, Summarizer: summarizer}
}

// Compact summarizes everything in the session's current path except the
// last budgetTokens worth of messages, and branches the session onto a
// new leaf containing the summary followed by that preserved tail.
// modelContextWindow parameterizes the oversized-message threshold.
func (c *Compactor) Compact(ctx context.Context, sessionID string, modelContextWindow, budgetTokens int) (message.Entry, error) {
	path, err := c.Store.CurrentPath(ctx, sessionID)
	if err != nil {
		return message.Entry{}, fmt.Errorf("compaction: load current path: %w", err)
	}
	ptrs := make([]*message.Message, len(path))
	for i := range path {
		ptrs[i] = &path[i]
	}

	tail, head := SelectRecentTail(ptrs, budgetTokens)

	cfg := DefaultSummarizationConfig()
	cfg.ContextWindow = modelContextWindow

	summaryText, err := SummarizeWithFallback(ctx, head, c.Summarizer, cfg)
	if err != nil {
		return message.Entry{}, fmt.Errorf("compaction: summarize: %w", err)
	}

	summaryMsg := message.Message{
		ID:      message.NewMessageID(),
		Role:    message.RoleSystem,
		Content: "Summary of prior conversation:\n\n" + summaryText,
		Metadata: map[string]any{
			"compaction_summary": true,
			"messages_summarized": len(head),
		},
	}

	tailMsgs := make([]message.Message, len(tail))
	for i, m := range tail {
		tailMsgs[i] = *m
	}

	return c.Store.CompactTo(ctx, sessionID, summaryMsg, tailMsgs)
}

// CompactForAutoThreshold runs compaction using the pre-turn auto-compact
// budget (context_window / 4) once the hybrid estimate crosses the 80%
// threshold. Callers should check usage.AutoCompactThreshold before
// invoking this.
func (c *Compactor) CompactForAutoThreshold(ctx context.Context, sessionID, modelID string) (message.Entry, error) {
	_, keepTokens := usage.AutoCompactThreshold(modelID, 0)
	return c.Compact(ctx, sessionID, keepTokens*4, keepTokens)
}

// CompactForOverflowRecovery runs the more aggressive recovery compaction
// (context_window / 5) triggered after a provider rejects a request as
// too large for the model's context window.
func (c *Compactor) CompactForOverflowRecovery(ctx context.Context, sessionID, modelID string) (message.Entry, error) {
	budget := usage.OverflowCompactionBudget(modelID)
	return c.Compact(ctx, sessionID, budget*5, budget)
}
