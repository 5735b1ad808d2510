package tool

import (
	"encoding/json"
	"testing"
)

type stubTool struct{ name string }

func (s stubTool) Name() string                    { return s.name }
func (stubTool) Description() string               { return "stub" }
func (stubTool) Parameters() json.RawMessage       { return nil }
func (stubTool) Execute(json.RawMessage, Context) Result { return Ok("ok") }
func (stubTool) Meta(json.RawMessage) string       { return "" }

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register(stubTool{name: "read_file"})
	r.Register(stubTool{name: NameAskUser})
	r.Register(stubTool{name: NameSubAgent})
	r.Register(stubTool{name: NameUseSkill})
	r.Register(stubTool{name: "mcp:docs.search"})
	return r
}

func TestActiveSetDefaultGating(t *testing.T) {
	r := newTestRegistry()
	active := r.ActiveSet(Options{IsTopLevel: true})
	names := toolNames(active)
	if !contains(names, "read_file") {
		t.Fatalf("expected read_file always active, got %v", names)
	}
	if contains(names, NameSubAgent) || contains(names, NameUseSkill) || contains(names, "mcp:docs.search") {
		t.Fatalf("expected gated tools excluded by default, got %v", names)
	}
}

func TestActiveSetSubAgentExcludesAskUser(t *testing.T) {
	r := newTestRegistry()
	active := r.ActiveSet(Options{IsTopLevel: false, SubAgentsOn: true})
	names := toolNames(active)
	if contains(names, NameAskUser) {
		t.Fatalf("expected ask_user excluded for sub-agent call, got %v", names)
	}
}

func TestActiveSetDisabledOverridesFeatureFlags(t *testing.T) {
	r := newTestRegistry()
	active := r.ActiveSet(Options{
		IsTopLevel:  true,
		SkillsOn:    true,
		SkillsExist: true,
		Disabled:    map[string]bool{NameUseSkill: true},
	})
	if contains(toolNames(active), NameUseSkill) {
		t.Fatalf("expected disabled name to stay excluded even when feature enabled")
	}
}

func toolNames(tools []Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
