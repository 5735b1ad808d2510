package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opalhq/opal/pkg/message"
)

// JSONLPersister writes each session's entries to <dataDir>/sessions/<id>.jsonl,
// one JSON object per line, append-only.
type JSONLPersister struct {
	mu      sync.Mutex
	dataDir string
}

// NewJSONLPersister creates a persister rooted at dataDir. The sessions
// subdirectory is created lazily on first write.
func NewJSONLPersister(dataDir string) *JSONLPersister {
	return &JSONLPersister{dataDir: dataDir}
}

func (p *JSONLPersister) path(sessionID string) string {
	return filepath.Join(p.dataDir, "sessions", sessionID+".jsonl")
}

func (p *JSONLPersister) statePath(sessionID string) string {
	return filepath.Join(p.dataDir, "sessions", sessionID+".state.json")
}

// AppendEntry appends one entry's JSON encoding as a line.
func (p *JSONLPersister) AppendEntry(ctx context.Context, sessionID string, entry message.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := p.path(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("session jsonl: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("session jsonl: open: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("session jsonl: marshal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("session jsonl: write: %w", err)
	}
	return nil
}

// LoadEntries replays a session's history file back into an entry slice,
// in append order, for crash recovery / process restart.
func (p *JSONLPersister) LoadEntries(ctx context.Context, sessionID string) ([]message.Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.Open(p.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session jsonl: open: %w", err)
	}
	defer f.Close()

	var entries []message.Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry message.Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("session jsonl: decode: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session jsonl: scan: %w", err)
	}
	return entries, nil
}

// SaveState writes the session header sidecar. The entry log is
// append-only, so leaf moves from session/branch and title/metadata
// edits live here instead.
func (p *JSONLPersister) SaveState(ctx context.Context, sess message.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := p.statePath(sess.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("session state: mkdir: %w", err)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session state: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session state: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("session state: rename: %w", err)
	}
	return nil
}

// LoadState reads the session header sidecar; a missing file means the
// session never branched or set a title, which is not an error.
func (p *JSONLPersister) LoadState(ctx context.Context, sessionID string) (*message.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.statePath(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session state: read: %w", err)
	}
	var sess message.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session state: decode: %w", err)
	}
	return &sess, nil
}

// Delete removes the on-disk history file and state sidecar. Missing
// files are not an error.
func (p *JSONLPersister) Delete(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := os.Remove(p.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session jsonl: remove: %w", err)
	}
	err = os.Remove(p.statePath(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session state: remove: %w", err)
	}
	return nil
}

// Restore loads a session's on-disk history back into the store under the
// given working directory, reconstructing the in-memory tree. The current
// leaf starts at the last appended entry; the state sidecar (if one was
// saved) carries the title, metadata, and any branch switch. Appends
// don't rewrite the sidecar, so its leaf can be stale relative to the
// entry log: whichever record is newer wins, and a session comes back on
// the branch the user actually left it on. Used on server startup to
// resume sessions that existed before a restart.
func (s *Store) Restore(ctx context.Context, sessionID, workingDir string) (*message.Session, error) {
	entries, err := s.persist.LoadEntries(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess := message.NewSession(sessionID, workingDir)
	r := &record{session: *sess, entries: make(map[string]message.Entry)}
	var lastAppend time.Time
	for _, e := range entries {
		r.entries[e.ID] = e
		r.session.CurrentLeaf = e.ID
		lastAppend = e.Message.CreatedAt
	}

	if saved, err := s.persist.LoadState(ctx, sessionID); err != nil {
		return nil, err
	} else if saved != nil {
		r.session.Title = saved.Title
		r.session.Metadata = saved.Metadata
		if _, ok := r.entries[saved.CurrentLeaf]; ok && !lastAppend.After(saved.UpdatedAt) {
			r.session.CurrentLeaf = saved.CurrentLeaf
		}
	}

	s.mu.Lock()
	s.sessions[sessionID] = r
	s.mu.Unlock()
	out := r.session
	return &out, nil
}
