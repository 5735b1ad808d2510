package skills

import (
	"path/filepath"
	"strings"
)

// MatchesPath reports whether a skill's glob pattern matches relPath (a
// path already made relative to the working directory). A skill with no
// glob never auto-loads; it must be explicitly activated via use_skill.
func (sk Skill) MatchesPath(relPath string) bool {
	if sk.Glob == "" {
		return false
	}
	ok, err := filepath.Match(sk.Glob, relPath)
	if err == nil && ok {
		return true
	}
	// Also try matching just the base name, so a glob like "*.tf" matches
	// "infra/main.tf" the way a human reads the pattern, not only a
	// single-path-segment literal match.
	ok, err = filepath.Match(sk.Glob, filepath.Base(relPath))
	return err == nil && ok
}

// AutoLoadCandidates returns every inactive skill in s whose glob matches
// any of changedPaths (already relativized to the working directory),
// collected from successful write_file/edit_file calls in a completed
// tool batch.
func (s *Set) AutoLoadCandidates(changedPaths []string) []Skill {
	var matches []Skill
	for _, sk := range s.Available() {
		if s.IsActive(sk.Name) {
			continue
		}
		for _, p := range changedPaths {
			if sk.MatchesPath(p) {
				matches = append(matches, sk)
				break
			}
		}
	}
	return matches
}

// RelativeToWorkingDir makes absPath relative to workingDir for glob
// matching, falling back to the original path if it isn't under
// workingDir (e.g. an absolute path outside the session's sandbox).
func RelativeToWorkingDir(workingDir, absPath string) string {
	rel, err := filepath.Rel(workingDir, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return absPath
	}
	return rel
}
