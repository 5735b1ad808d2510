// Package usage implements per-turn token accounting, hybrid context
// estimation, and auto-compact threshold detection.
package usage

import (
	"fmt"
	"sync"

	ctxwindow "github.com/opalhq/opal/internal/context"
)

// Usage is a single turn's token accounting. Providers report mixed key
// names (prompt_tokens/input_tokens, completion_tokens/output_tokens);
// callers normalize into this shape before recording.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns the combined token count.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Tracker accounts for one session's usage. It keeps both a cumulative
// total (for display) and, separately, the last observed input-token
// report; current_context_tokens tracks the
// latter, not the former, since a provider's input_tokens figure already
// reflects the whole context sent, not an incremental amount.
type Tracker struct {
	mu sync.Mutex

	cumulative Usage

	// lastPromptTokens is the most recent successful request's reported
	// input/prompt token count.
	lastPromptTokens int
	// messageCountAtReport is the session's message count at the moment
	// lastPromptTokens was recorded, used by the hybrid estimator to
	// account for messages appended since.
	messageCountAtReport int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker { return &Tracker{} }

// Record applies a successful usage report: accumulates the cumulative
// total and updates the last-observed prompt token count plus the
// message count it was measured against.
func (t *Tracker) Record(u Usage, messageCountNow int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cumulative.Add(u)
	t.lastPromptTokens = int(u.InputTokens)
	t.messageCountAtReport = messageCountNow
}

// Cumulative returns the running total for display purposes.
func (t *Tracker) Cumulative() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cumulative
}

// CurrentContextTokens equals the last
// observed input_tokens report for the most recent successful request,
// never the cumulative total.
func (t *Tracker) CurrentContextTokens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPromptTokens
}

// LastReport returns the last observed prompt token count and the
// message-count snapshot it was measured at, for hybrid estimation.
func (t *Tracker) LastReport() (promptTokens, messageCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPromptTokens, t.messageCountAtReport
}

// HybridEstimate computes last_prompt_tokens + heuristic_tokens(newContents),
// where newContents are the message bodies appended since the last report.
func (t *Tracker) HybridEstimate(newContents []string) int {
	last, _ := t.LastReport()
	return last + ctxwindow.EstimateTokensForMessages(newContents)
}

// FormatTokenCount formats a token count for display (e.g. "1.5k", "12k").
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}
