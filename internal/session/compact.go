package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opalhq/opal/pkg/message"
)

// CompactTo is branch-on-compact:
// compaction is a dedicated operation that produces a new branch
// containing a summary message followed by the recent tail of the prior
// branch. The new branch starts as its own root (ParentID nil) rather
// than chaining off the old leaf, so the provider-bound current path no
// longer carries the pre-compaction history, but the old entries stay
// in the tree, reachable via PathTo, satisfying the "never delete"
// contract.
func (s *Store) CompactTo(ctx context.Context, sessionID string, summary message.Message, tail []message.Message) (message.Entry, error) {
	r, err := s.get(sessionID)
	if err != nil {
		return message.Entry{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	root := message.Entry{ID: uuid.NewString(), Message: summary}
	r.entries[root.ID] = root
	if err := s.persist.AppendEntry(ctx, sessionID, root); err != nil {
		return message.Entry{}, err
	}

	leaf := root
	for _, m := range tail {
		parent := leaf.ID
		e := message.Entry{ID: uuid.NewString(), ParentID: &parent, Message: m}
		r.entries[e.ID] = e
		if err := s.persist.AppendEntry(ctx, sessionID, e); err != nil {
			return message.Entry{}, err
		}
		leaf = e
	}

	r.session.CurrentLeaf = leaf.ID
	r.session.UpdatedAt = time.Now()
	if err := s.persist.SaveState(ctx, r.session); err != nil {
		return message.Entry{}, err
	}
	return leaf, nil
}
