package context

import (
	"os"
	"path/filepath"
)

// WellKnownContextFiles are the project-context filenames a session/start
// scan looks for in the session's working directory.
var WellKnownContextFiles = []string{
	"AGENTS.md",
	"CLAUDE.md",
	"README.md",
	".opal/context.md",
}

// Discover returns the well-known context files that exist directly under
// workingDir, in WellKnownContextFiles order. Used by session/start to
// populate its context_files result field and broadcast
// event.ContextDiscovered.
func Discover(workingDir string) []string {
	if workingDir == "" {
		return nil
	}
	var found []string
	for _, name := range WellKnownContextFiles {
		path := filepath.Join(workingDir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			found = append(found, name)
		}
	}
	return found
}
