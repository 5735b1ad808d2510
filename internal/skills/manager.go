package skills

import "fmt"

// Manager owns one session's skill Set plus the synthetic-message
// formatting used when a skill activates.
type Manager struct {
	set *Set
}

// NewManager builds a Manager from a session's discovered skills.
func NewManager(discovered []Skill) *Manager {
	return &Manager{set: NewSet(discovered)}
}

// Available returns every discovered skill for `session/start`'s
// `available_skills` result field.
func (m *Manager) Available() []Skill { return m.set.Available() }

// UseResult is the outcome of a use_skill tool invocation.
type UseResult struct {
	Message      string
	Instructions string // non-empty only when newly activated
}

// Use implements the use_skill tool: activating an already-active skill
// is a no-op that returns "already loaded", while activating a fresh
// skill returns its instructions for
// the caller to inject as a "[System]"-prefixed user message and to
// broadcast as skill_loaded.
func (m *Manager) Use(name string) (UseResult, error) {
	sk, ok := m.set.Get(name)
	if !ok {
		return UseResult{}, fmt.Errorf("skills: unknown skill %q", name)
	}
	if !m.set.Activate(name) {
		return UseResult{Message: fmt.Sprintf("skill %q already loaded", name)}, nil
	}
	return UseResult{
		Message:      fmt.Sprintf("skill %q loaded", name),
		Instructions: sk.Instructions,
	}, nil
}

// AutoLoad activates every skill whose glob matches a changed path,
// returning the newly-activated skills in match order. Already-active
// skills are excluded by AutoLoadCandidates, so this never re-fires
// skill_loaded for a skill the turn (or an earlier tool in the same
// batch) already activated.
func (m *Manager) AutoLoad(changedPaths []string) []Skill {
	candidates := m.set.AutoLoadCandidates(changedPaths)
	loaded := make([]Skill, 0, len(candidates))
	for _, sk := range candidates {
		if m.set.Activate(sk.Name) {
			loaded = append(loaded, sk)
		}
	}
	return loaded
}

// SystemInjection formats sk's instructions as the "[System]"-prefixed
// user message appended to history on activation.
func SystemInjection(sk Skill) string {
	return "[System] Skill \"" + sk.Name + "\" loaded:\n\n" + sk.Instructions
}
