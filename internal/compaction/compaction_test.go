package compaction

import (
	"context"
	"errors"
	"testing"

	"github.com/opalhq/opal/pkg/message"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name     string
		msg      *message.Message
		expected int
	}{
		{"nil message", nil, 0},
		{"empty message", &message.Message{}, 0},
		{"short content", &message.Message{Content: "Hello"}, 2},     // 5 chars / 4 -> 2
		{"exact multiple", &message.Message{Content: "12345678"}, 2}, // 8 chars / 4 = 2
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.msg); got != tt.expected {
				t.Errorf("EstimateTokens() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestEstimateMessagesTokens(t *testing.T) {
	messages := []*message.Message{
		{Content: "Hello"},
		{Content: "World"},
		{Content: "12345678"},
	}
	if got := EstimateMessagesTokens(messages); got != 6 {
		t.Errorf("EstimateMessagesTokens() = %d, want 6", got)
	}
	if EstimateMessagesTokens(nil) != 0 {
		t.Error("EstimateMessagesTokens(nil) should return 0")
	}
}

func TestChunkMessagesByMaxTokens(t *testing.T) {
	messages := []*message.Message{
		{Content: "aaaa"}, // 1 token
		{Content: "bbbb"}, // 1 token
		{Content: "cccc"}, // 1 token
	}
	chunks := ChunkMessagesByMaxTokens(messages, 2)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 2 || len(chunks[1]) != 1 {
		t.Fatalf("unexpected chunk sizes: %v, %v", len(chunks[0]), len(chunks[1]))
	}
}

func TestChunkMessagesByMaxTokensSingleOversizedMessageGetsOwnChunk(t *testing.T) {
	big := &message.Message{Content: string(make([]byte, 100))}
	messages := []*message.Message{{Content: "a"}, big, {Content: "b"}}
	chunks := ChunkMessagesByMaxTokens(messages, 4)
	if len(chunks) != 3 {
		t.Fatalf("expected big message isolated into its own chunk, got %d chunks", len(chunks))
	}
}

func TestIsOversizedForSummary(t *testing.T) {
	msg := &message.Message{Content: string(make([]byte, 1000))}
	if !IsOversizedForSummary(msg, 100) {
		t.Fatal("expected message to be oversized relative to a 100-token window")
	}
	if IsOversizedForSummary(msg, 100000) {
		t.Fatal("did not expect message to be oversized relative to a large window")
	}
	if IsOversizedForSummary(nil, 100) {
		t.Fatal("nil message is never oversized")
	}
}

type stubSummarizer struct {
	calls int
	err   error
}

func (s *stubSummarizer) GenerateSummary(ctx context.Context, messages []*message.Message, config *SummarizationConfig) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "summary", nil
}

func TestSummarizeChunksSingleChunk(t *testing.T) {
	sm := &stubSummarizer{}
	messages := []*message.Message{{Content: "hello"}}
	out, err := SummarizeChunks(context.Background(), messages, sm, DefaultSummarizationConfig())
	if err != nil {
		t.Fatal(err)
	}
	if out != "summary" {
		t.Fatalf("got %q", out)
	}
	if sm.calls != 1 {
		t.Fatalf("expected exactly one summarizer call, got %d", sm.calls)
	}
}

func TestSummarizeChunksEmptyMessagesReturnsFallback(t *testing.T) {
	out, err := SummarizeChunks(context.Background(), nil, &stubSummarizer{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != DefaultSummaryFallback {
		t.Fatalf("got %q", out)
	}
}

func TestSummarizeChunksPropagatesError(t *testing.T) {
	sm := &stubSummarizer{err: errors.New("provider down")}
	_, err := SummarizeChunks(context.Background(), []*message.Message{{Content: "x"}}, sm, DefaultSummarizationConfig())
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestSummarizeWithFallbackNotesOversizedMessages(t *testing.T) {
	sm := &stubSummarizer{}
	cfg := DefaultSummarizationConfig()
	cfg.ContextWindow = 10
	big := &message.Message{Content: string(make([]byte, 1000)), Role: message.RoleUser}
	out, err := SummarizeWithFallback(context.Background(), []*message.Message{big}, sm, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if out == "" {
		t.Fatal("expected a non-empty note about the oversized message")
	}
}

func TestSelectRecentTailKeepsAtLeastOneMessage(t *testing.T) {
	messages := []*message.Message{
		{Content: string(make([]byte, 4000))},
		{Content: string(make([]byte, 4000))},
	}
	tail, head := SelectRecentTail(messages, 1)
	if len(tail) != 1 {
		t.Fatalf("expected at least one message kept even under a tiny budget, got %d", len(tail))
	}
	if len(head) != 1 {
		t.Fatalf("expected the other message in head, got %d", len(head))
	}
}

func TestSelectRecentTailZeroBudgetKeepsNothing(t *testing.T) {
	messages := []*message.Message{{Content: "a"}, {Content: "b"}}
	tail, head := SelectRecentTail(messages, 0)
	if len(tail) != 0 {
		t.Fatalf("expected empty tail for zero budget, got %d", len(tail))
	}
	if len(head) != 2 {
		t.Fatalf("expected everything in head, got %d", len(head))
	}
}

func TestSelectRecentTailFitsWithinBudget(t *testing.T) {
	// Each message is ~1 token (4 bytes), budget of 2 should keep the last two.
	messages := []*message.Message{
		{Content: "aaaa"},
		{Content: "bbbb"},
		{Content: "cccc"},
	}
	tail, head := SelectRecentTail(messages, 2)
	if len(tail) != 2 || tail[0].Content != "bbbb" || tail[1].Content != "cccc" {
		t.Fatalf("unexpected tail: %+v", tail)
	}
	if len(head) != 1 || head[0].Content != "aaaa" {
		t.Fatalf("unexpected head: %+v", head)
	}
}
