package usage

import (
	ctxwindow "github.com/opalhq/opal/internal/context"
)

// UsageBasedOverflow is the usage-based overflow detection path:
// if the reported input token count exceeds the model's context window,
// the turn is flagged for overflow recovery on the next finalization.
func UsageBasedOverflow(modelID string, reportedInputTokens int) bool {
	return reportedInputTokens > ctxwindow.WindowForModel(modelID)
}

// AutoCompactThreshold reports whether the hybrid estimate for a session
// has crossed the 80% auto-compact trigger for the given model's context
// window.
func AutoCompactThreshold(modelID string, hybridEstimate int) (shouldCompact bool, keepRecentTokens int) {
	total := ctxwindow.WindowForModel(modelID)
	threshold := int(float64(total) * 0.8)
	return hybridEstimate >= threshold, total / 4
}

// OverflowCompactionBudget returns the aggressive keep-budget used for
// recovery compaction after an overflow is detected: context_window / 5.
func OverflowCompactionBudget(modelID string) int {
	return ctxwindow.WindowForModel(modelID) / 5
}
