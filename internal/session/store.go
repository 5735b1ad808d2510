// Package session implements the branch-capable message tree:
// append/append_many/branch, current-path resolution, and JSONL
// persistence under OPAL_DATA_DIR.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opalhq/opal/pkg/message"
)

// ErrSessionNotFound is returned when a lookup targets an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// ErrEntryNotFound is returned when a branch point doesn't exist.
var ErrEntryNotFound = errors.New("entry not found")

// record is the in-memory representation of one session's tree.
type record struct {
	mu      sync.RWMutex
	session message.Session
	entries map[string]message.Entry // id -> entry
}

// Store is an in-memory, JSONL-backed session store. A single Store
// instance is shared across all sessions in the process; per-session
// locking happens at the record level; the agent is the single writer
// for its own session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*record
	persist  Persister
}

// Persister abstracts the on-disk side of session storage
// (sessions/<id>.jsonl), so the in-memory tree logic can be tested without
// touching a filesystem.
type Persister interface {
	AppendEntry(ctx context.Context, sessionID string, entry message.Entry) error
	LoadEntries(ctx context.Context, sessionID string) ([]message.Entry, error)
	// SaveState durably records the session's mutable header (current
	// leaf, title, metadata), which the append-only entry log can't
	// carry: a branch switch moves the leaf without appending anything.
	SaveState(ctx context.Context, sess message.Session) error
	// LoadState returns the saved header, or nil when none was written.
	LoadState(ctx context.Context, sessionID string) (*message.Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// NewStore creates a session store backed by persist. Pass a NopPersister
// for pure in-memory use (tests, sub-agents, which never touch disk).
func NewStore(persist Persister) *Store {
	if persist == nil {
		persist = NopPersister{}
	}
	return &Store{sessions: make(map[string]*record), persist: persist}
}

// Create initializes a new empty session.
func (s *Store) Create(ctx context.Context, id, workingDir string) (*message.Session, error) {
	sess := message.NewSession(id, workingDir)
	s.mu.Lock()
	s.sessions[id] = &record{session: *sess, entries: make(map[string]message.Entry)}
	s.mu.Unlock()
	return sess, nil
}

func (s *Store) get(id string) (*record, error) {
	s.mu.RLock()
	r, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return r, nil
}

// Append adds msg as a new leaf, child of the session's current leaf (or
// as the root entry if the session has none yet). Returns the new entry.
func (s *Store) Append(ctx context.Context, sessionID string, msg message.Message) (message.Entry, error) {
	r, err := s.get(sessionID)
	if err != nil {
		return message.Entry{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := message.Entry{ID: uuid.NewString(), Message: msg}
	if r.session.CurrentLeaf != "" {
		parent := r.session.CurrentLeaf
		entry.ParentID = &parent
	}
	r.entries[entry.ID] = entry
	r.session.CurrentLeaf = entry.ID
	r.session.UpdatedAt = time.Now()

	if err := s.persist.AppendEntry(ctx, sessionID, entry); err != nil {
		return message.Entry{}, err
	}
	return entry, nil
}

// AppendMany appends a batch of messages as a linear chain rooted at the
// current leaf, atomically from the caller's point of view.
func (s *Store) AppendMany(ctx context.Context, sessionID string, msgs []message.Message) ([]message.Entry, error) {
	entries := make([]message.Entry, 0, len(msgs))
	for _, m := range msgs {
		e, err := s.Append(ctx, sessionID, m)
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Branch makes entryID the new current leaf, without touching any
// existing entries; siblings of entryID's old position remain reachable
// from their own terminal leaves, honoring the "never silently lose
// messages" contract.
func (s *Store) Branch(ctx context.Context, sessionID, entryID string) error {
	r, err := s.get(sessionID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[entryID]; !ok {
		return ErrEntryNotFound
	}
	r.session.CurrentLeaf = entryID
	r.session.UpdatedAt = time.Now()
	return s.persist.SaveState(ctx, r.session)
}

// CurrentPath returns the root-to-leaf path that constitutes the active
// LLM context.
func (s *Store) CurrentPath(ctx context.Context, sessionID string) ([]message.Message, error) {
	r, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return pathTo(r.entries, r.session.CurrentLeaf), nil
}

// PathTo returns the root-to-entryID path, without changing the current
// leaf.
func (s *Store) PathTo(ctx context.Context, sessionID, entryID string) ([]message.Message, error) {
	r, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.entries[entryID]; !ok {
		return nil, ErrEntryNotFound
	}
	return pathTo(r.entries, entryID), nil
}

func pathTo(entries map[string]message.Entry, leafID string) []message.Message {
	if leafID == "" {
		return nil
	}
	var chain []message.Message
	id := leafID
	for {
		e, ok := entries[id]
		if !ok {
			break
		}
		chain = append(chain, e.Message)
		if e.ParentID == nil {
			break
		}
		id = *e.ParentID
	}
	// reverse root-first
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Get returns a copy of the session's metadata.
func (s *Store) Get(ctx context.Context, sessionID string) (*message.Session, error) {
	r, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess := r.session
	return &sess, nil
}

// SetTitle sets the session title.
func (s *Store) SetTitle(ctx context.Context, sessionID, title string) error {
	r, err := s.get(sessionID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session.Title = title
	r.session.UpdatedAt = time.Now()
	return s.persist.SaveState(ctx, r.session)
}

// SetMetadata merges key/value into the session's metadata map.
func (s *Store) SetMetadata(ctx context.Context, sessionID, key string, value any) error {
	r, err := s.get(sessionID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session.Metadata == nil {
		r.session.Metadata = map[string]any{}
	}
	r.session.Metadata[key] = value
	r.session.UpdatedAt = time.Now()
	return s.persist.SaveState(ctx, r.session)
}

// List returns every known session, newest-updated first.
func (s *Store) List(ctx context.Context) []*message.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*message.Session, 0, len(s.sessions))
	for _, r := range s.sessions {
		r.mu.RLock()
		sess := r.session
		r.mu.RUnlock()
		out = append(out, &sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Delete removes a session and its on-disk history file.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return s.persist.Delete(ctx, sessionID)
}

// NopPersister discards everything; used for sub-agents and tests that
// never need disk persistence.
type NopPersister struct{}

func (NopPersister) AppendEntry(ctx context.Context, sessionID string, entry message.Entry) error {
	return nil
}
func (NopPersister) LoadEntries(ctx context.Context, sessionID string) ([]message.Entry, error) {
	return nil, nil
}
func (NopPersister) SaveState(ctx context.Context, sess message.Session) error { return nil }
func (NopPersister) LoadState(ctx context.Context, sessionID string) (*message.Session, error) {
	return nil, nil
}
func (NopPersister) Delete(ctx context.Context, sessionID string) error { return nil }
