package compaction

import (
	"context"
	"strings"
	"testing"

	"github.com/opalhq/opal/internal/session"
	"github.com/opalhq/opal/pkg/message"
)

func TestCompactorProducesSummaryPlusTailBranch(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(nil)
	store.Create(ctx, "s1", "/tmp")

	for i := 0; i < 5; i++ {
		store.Append(ctx, "s1", message.NewUserMessage("turn content padding to cost tokens"))
	}
	lastTail, _ := store.Append(ctx, "s1", message.NewUserMessage("final recent message"))

	compactor := NewCompactor(store, &stubSummarizer{})
	entry, err := compactor.Compact(ctx, "s1", 200000, 10)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Message.Content != "final recent message" {
		t.Fatalf("expected leaf to be the preserved tail, got %q", entry.Message.Content)
	}

	path, err := store.CurrentPath(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(path) < 2 {
		t.Fatalf("expected summary + tail in compacted path, got %d messages", len(path))
	}
	if path[0].Role != message.RoleSystem {
		t.Fatalf("expected summary message to be first and role=system, got %v", path[0].Role)
	}

	oldPath, err := store.PathTo(ctx, "s1", lastTail.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(oldPath) != 6 {
		t.Fatalf("expected pre-compaction history still reachable, got %d", len(oldPath))
	}
}

func TestSelectRecentTailKeepsToolBatchIntact(t *testing.T) {
	older := message.NewUserMessage(strings.Repeat("earlier conversation history ", 16))
	assistant := message.NewAssistantMessage("", "", []message.ToolCall{
		{ID: "c1", Name: "read_file", Arguments: []byte(`{"path":"a.txt"}`)},
	})
	result := message.NewToolResultMessage("read_file", message.ToolResult{
		CallID: "c1",
		Output: "contents of a.txt",
	})
	final := message.NewUserMessage("follow-up question")
	msgs := []*message.Message{&older, &assistant, &result, &final}

	// Budget covers the final user message and the result, but not the
	// originating assistant message. The batch must move as a unit: the
	// result may never survive the cut without its call.
	tail, head := SelectRecentTail(msgs, EstimateTokens(&final)+EstimateTokens(&result)+1)
	for _, m := range tail {
		if m.Role == message.RoleToolResult {
			t.Fatalf("tail contains a tool_result with its originating call summarized away: %+v", tail)
		}
	}
	if len(tail) != 1 || tail[0] != &final {
		t.Fatalf("expected only the final user message kept, got %d messages", len(tail))
	}
	if len(head) != 3 {
		t.Fatalf("expected call and result dropped together, got head of %d", len(head))
	}

	// A budget large enough for the whole batch keeps it complete.
	batchTokens := EstimateTokens(&assistant) + EstimateTokens(&result) + EstimateTokens(&final)
	tail, head = SelectRecentTail(msgs, batchTokens)
	if len(tail) != 3 {
		t.Fatalf("expected complete batch plus final message kept, got %d", len(tail))
	}
	if tail[0].Role != message.RoleAssistant || len(tail[0].ToolCalls) == 0 {
		t.Fatalf("expected tail to open with the assistant tool_call message, got %v", tail[0].Role)
	}
	if len(head) != 1 || head[0] != &older {
		t.Fatalf("expected only the older history summarized, got head of %d", len(head))
	}
}
