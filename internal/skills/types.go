// Package skills implements skill discovery, glob-based auto-load gating,
// and the use_skill tool. A skill is a named bundle of instructions that
// activates either explicitly via use_skill or automatically when a tool
// batch writes a path matching the skill's glob.
package skills

// Skill is one discovered skill: a name, a natural-language description
// shown to the model, the markdown instructions injected on activation,
// and the glob pattern that triggers auto-load when a write_file/edit_file
// call touches a matching path.
type Skill struct {
	Name         string `yaml:"name" json:"name"`
	Description  string `yaml:"description" json:"description"`
	Glob         string `yaml:"glob,omitempty" json:"glob,omitempty"`
	Instructions string `json:"-"`
	Path         string `json:"path"`
}

// Set tracks which discovered skills are currently active for a session.
type Set struct {
	available map[string]Skill
	active    map[string]bool
}

// NewSet builds a Set from the discovered skills, none active initially.
func NewSet(discovered []Skill) *Set {
	s := &Set{available: make(map[string]Skill, len(discovered)), active: make(map[string]bool)}
	for _, sk := range discovered {
		s.available[sk.Name] = sk
	}
	return s
}

// Available returns every discovered skill, active or not.
func (s *Set) Available() []Skill {
	out := make([]Skill, 0, len(s.available))
	for _, sk := range s.available {
		out = append(out, sk)
	}
	return out
}

// IsActive reports whether name is currently active.
func (s *Set) IsActive(name string) bool { return s.active[name] }

// Get returns the named skill and whether it's known.
func (s *Set) Get(name string) (Skill, bool) {
	sk, ok := s.available[name]
	return sk, ok
}

// Activate marks name active, returning false if it was already active
// (the use_skill tool's "already loaded" no-op case) or true if this call
// actually activated it.
func (s *Set) Activate(name string) bool {
	if s.active[name] {
		return false
	}
	if _, ok := s.available[name]; !ok {
		return false
	}
	s.active[name] = true
	return true
}
