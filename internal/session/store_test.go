package session

import (
	"context"
	"testing"

	"github.com/opalhq/opal/pkg/message"
)

func TestAppendBuildsLinearPath(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	s.Create(ctx, "s1", "/tmp")

	s.Append(ctx, "s1", message.NewUserMessage("hi"))
	s.Append(ctx, "s1", message.NewAssistantMessage("hello", "", nil))

	path, err := s.CurrentPath(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(path))
	}
	if path[0].Content != "hi" {
		t.Fatalf("expected root-first ordering, got %q first", path[0].Content)
	}
}

func TestBranchPreservesOldLeafReachability(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	s.Create(ctx, "s1", "/tmp")

	e1, _ := s.Append(ctx, "s1", message.NewUserMessage("first"))
	e2, _ := s.Append(ctx, "s1", message.NewUserMessage("second"))
	_ = e2

	if err := s.Branch(ctx, "s1", e1.ID); err != nil {
		t.Fatal(err)
	}
	e3, _ := s.Append(ctx, "s1", message.NewUserMessage("alt-branch"))

	path, err := s.PathTo(ctx, "s1", e3.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 2 || path[1].Content != "alt-branch" {
		t.Fatalf("unexpected branch path: %+v", path)
	}

	oldPath, err := s.PathTo(ctx, "s1", e2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(oldPath) != 2 || oldPath[1].Content != "second" {
		t.Fatalf("expected old branch still reachable, got %+v", oldPath)
	}
}

func TestBranchUnknownEntryErrors(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	s.Create(ctx, "s1", "/tmp")
	if err := s.Branch(ctx, "s1", "nonexistent"); err != ErrEntryNotFound {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestUnknownSessionErrors(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	if _, err := s.CurrentPath(ctx, "ghost"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCompactToStartsFreshRootButKeepsHistoryReachable(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	s.Create(ctx, "s1", "/tmp")

	s.Append(ctx, "s1", message.NewUserMessage("old-1"))
	old2, _ := s.Append(ctx, "s1", message.NewUserMessage("old-2"))

	summary := message.NewAssistantMessage("summary of prior turns", "", nil)
	tail := []message.Message{message.NewUserMessage("recent-tail")}
	leaf, err := s.CompactTo(ctx, "s1", summary, tail)
	if err != nil {
		t.Fatal(err)
	}

	newPath, err := s.CurrentPath(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(newPath) != 2 || newPath[0].Content != "summary of prior turns" || newPath[1].Content != "recent-tail" {
		t.Fatalf("unexpected compacted path: %+v", newPath)
	}
	if leaf.Message.Content != "recent-tail" {
		t.Fatalf("expected returned leaf to be the tail entry, got %q", leaf.Message.Content)
	}

	oldPath, err := s.PathTo(ctx, "s1", old2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(oldPath) != 2 {
		t.Fatalf("expected pre-compaction history still reachable, got %+v", oldPath)
	}
}

func TestSetTitleAndMetadata(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	s.Create(ctx, "s1", "/tmp")

	if err := s.SetTitle(ctx, "s1", "Fix the parser"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMetadata(ctx, "s1", "model", "claude-opus"); err != nil {
		t.Fatal(err)
	}

	sess, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Title != "Fix the parser" {
		t.Fatalf("got title %q", sess.Title)
	}
	if sess.Metadata["model"] != "claude-opus" {
		t.Fatalf("got metadata %+v", sess.Metadata)
	}
}

func TestListReturnsAllSessions(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	s.Create(ctx, "a", "/tmp")
	s.Create(ctx, "b", "/tmp")

	sessions := s.List(ctx)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestDeleteRemovesSession(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	s.Create(ctx, "a", "/tmp")
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "a"); err != ErrSessionNotFound {
		t.Fatalf("expected session gone, got %v", err)
	}
}

func TestBranchAndTitleSurviveRestart(t *testing.T) {
	ctx := context.Background()
	p := NewJSONLPersister(t.TempDir())
	s := NewStore(p)
	s.Create(ctx, "s1", "/tmp")

	first, _ := s.Append(ctx, "s1", message.NewUserMessage("one"))
	s.Append(ctx, "s1", message.NewUserMessage("two"))
	if err := s.SetTitle(ctx, "s1", "pruning run"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMetadata(ctx, "s1", "pinned", true); err != nil {
		t.Fatal(err)
	}
	if err := s.Branch(ctx, "s1", first.ID); err != nil {
		t.Fatal(err)
	}

	// A fresh store over the same files stands in for a process restart.
	reloaded := NewStore(p)
	sess, err := reloaded.Restore(ctx, "s1", "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if sess.CurrentLeaf != first.ID {
		t.Fatalf("expected restore on the branched leaf %q, got %q", first.ID, sess.CurrentLeaf)
	}
	if sess.Title != "pruning run" {
		t.Fatalf("expected title to survive restart, got %q", sess.Title)
	}
	if v, ok := sess.Metadata["pinned"].(bool); !ok || !v {
		t.Fatalf("expected metadata to survive restart, got %+v", sess.Metadata)
	}

	path, err := reloaded.CurrentPath(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 1 || path[0].Content != "one" {
		t.Fatalf("expected current path to follow the branched leaf, got %+v", path)
	}
}

func TestRestoreWithoutStateFallsBackToLastAppended(t *testing.T) {
	ctx := context.Background()
	p := NewJSONLPersister(t.TempDir())
	s := NewStore(p)
	s.Create(ctx, "s1", "/tmp")
	s.Append(ctx, "s1", message.NewUserMessage("one"))
	last, _ := s.Append(ctx, "s1", message.NewUserMessage("two"))

	reloaded := NewStore(p)
	sess, err := reloaded.Restore(ctx, "s1", "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if sess.CurrentLeaf != last.ID {
		t.Fatalf("expected last appended entry as leaf, got %q", sess.CurrentLeaf)
	}
}

func TestRestorePrefersAppendsAfterBranch(t *testing.T) {
	ctx := context.Background()
	p := NewJSONLPersister(t.TempDir())
	s := NewStore(p)
	s.Create(ctx, "s1", "/tmp")

	first, _ := s.Append(ctx, "s1", message.NewUserMessage("one"))
	s.Append(ctx, "s1", message.NewUserMessage("two"))
	if err := s.Branch(ctx, "s1", first.ID); err != nil {
		t.Fatal(err)
	}
	// Appending after the branch moves the leaf again; the stale sidecar
	// must not drag the session back to the branch point on restore.
	alt, _ := s.Append(ctx, "s1", message.NewUserMessage("alt-branch"))

	reloaded := NewStore(p)
	sess, err := reloaded.Restore(ctx, "s1", "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if sess.CurrentLeaf != alt.ID {
		t.Fatalf("expected leaf at the post-branch append %q, got %q", alt.ID, sess.CurrentLeaf)
	}
}
