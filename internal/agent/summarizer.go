package agent

import (
	"context"
	"fmt"

	"github.com/opalhq/opal/internal/compaction"
	"github.com/opalhq/opal/internal/provider"
	"github.com/opalhq/opal/internal/streamparser"
	"github.com/opalhq/opal/pkg/message"
)

// providerSummarizer adapts a provider.Provider into compaction.Summarizer
// by issuing a tool-free completion request over a synthetic
// "summarize this" user message.
type providerSummarizer struct {
	provider provider.Provider
	model    string
}

var _ compaction.Summarizer = (*providerSummarizer)(nil)

// NewProviderSummarizer exposes the same provider-backed summarizer this
// package uses internally to callers that need to drive compaction
// without a running Agent (the RPC server's explicit session/compact
// method).
func NewProviderSummarizer(p provider.Provider, model string) compaction.Summarizer {
	return &providerSummarizer{provider: p, model: model}
}

func (s *providerSummarizer) GenerateSummary(ctx context.Context, messages []*message.Message, cfg *compaction.SummarizationConfig) (string, error) {
	prompt := "Summarize the following conversation concisely, preserving decisions, open tasks, and facts a continuation would need:\n\n" +
		compaction.FormatMessagesForSummary(messages)
	if cfg != nil && cfg.CustomInstructions != "" {
		prompt = cfg.CustomInstructions + "\n\n" + prompt
	}
	if cfg != nil && cfg.PreviousSummary != "" {
		prompt = "Prior summary:\n" + cfg.PreviousSummary + "\n\n" + prompt
	}

	model := s.model
	if cfg != nil && cfg.Model != "" {
		model = cfg.Model
	}

	req := &provider.CompletionRequest{
		Model:    model,
		System:   "You produce compact, factual conversation summaries.",
		Messages: []message.Message{message.NewUserMessage(prompt)},
	}

	stream, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("agent: summarizer request: %w", err)
	}

	turn := streamparser.NewParser().Consume(stream, streamparser.Sink{})
	if turn.Err != nil {
		return "", fmt.Errorf("agent: summarizer stream: %w", turn.Err)
	}
	return turn.Text, nil
}
