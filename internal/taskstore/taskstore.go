// Package taskstore implements durable task record storage: one store
// per scope (a session id or, absent one, a working-directory string),
// each carrying a monotonic id counter that survives process restarts.
// The store itself is read/write; a `tasks` tool is the component that
// would normally create and update records; the RPC server's `tasks/list`
// method only ever reads.
package taskstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Status is a task record's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Task is one persisted task record.
type Task struct {
	ID        int64     `json:"id"`
	Scope     string    `json:"scope"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScopeKey is "session:<id>" when a session id is available, else the
// working directory string.
func ScopeKey(sessionID, workingDir string) string {
	if sessionID != "" {
		return "session:" + sessionID
	}
	return workingDir
}

// scopeFile hashes a scope key into its on-disk filename, so scope
// strings containing path separators or other filesystem-hostile
// characters never leak into a path component.
func scopeFile(scope string) string {
	sum := sha256.Sum256([]byte(scope))
	return hex.EncodeToString(sum[:])[:16] + ".db"
}

// Store owns one sqlite-backed database per scope, opened lazily and
// cached for the process lifetime. Each database holds exactly that
// scope's task rows plus the counter sqlite's own AUTOINCREMENT already
// persists durably across restarts.
type Store struct {
	mu      sync.Mutex
	dataDir string
	dbs     map[string]*sql.DB
}

// Open creates a Store rooted at <dataDir>/tasks.
func Open(dataDir string) *Store {
	return &Store{dataDir: dataDir, dbs: make(map[string]*sql.DB)}
}

func (s *Store) dbFor(scope string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[scope]; ok {
		return db, nil
	}

	dir := filepath.Join(s.dataDir, "tasks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("taskstore: mkdir: %w", err)
	}
	path := filepath.Join(dir, scopeFile(scope))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("taskstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite's own locking serializes writers anyway

	const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("taskstore: migrate %s: %w", path, err)
	}

	s.dbs[scope] = db
	return db, nil
}

// Create inserts a new pending task, its id assigned by sqlite's
// AUTOINCREMENT counter, which is monotonic and survives restarts.
func (s *Store) Create(ctx context.Context, scope, title string) (Task, error) {
	db, err := s.dbFor(scope)
	if err != nil {
		return Task{}, err
	}
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx,
		`INSERT INTO tasks (title, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		title, StatusPending, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return Task{}, fmt.Errorf("taskstore: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, fmt.Errorf("taskstore: last insert id: %w", err)
	}
	return Task{ID: id, Scope: scope, Title: title, Status: StatusPending, CreatedAt: now, UpdatedAt: now}, nil
}

// List returns every task recorded for scope, oldest first.
func (s *Store) List(ctx context.Context, scope string) ([]Task, error) {
	db, err := s.dbFor(scope)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, title, status, created_at, updated_at FROM tasks ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("taskstore: query: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var created, updated string
		if err := rows.Scan(&t.ID, &t.Title, &t.Status, &created, &updated); err != nil {
			return nil, fmt.Errorf("taskstore: scan: %w", err)
		}
		t.Scope = scope
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetStatus updates one task's status in place.
func (s *Store) SetStatus(ctx context.Context, scope string, id int64, status Status) error {
	db, err := s.dbFor(scope)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("taskstore: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("taskstore: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("taskstore: no task %d in scope %q", id, scope)
	}
	return nil
}

// Delete removes one task record.
func (s *Store) Delete(ctx context.Context, scope string, id int64) error {
	db, err := s.dbFor(scope)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("taskstore: delete: %w", err)
	}
	return nil
}

// Close closes every scope database this Store opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for scope, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("taskstore: close %s: %w", scope, err)
		}
	}
	return firstErr
}
