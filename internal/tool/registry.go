package tool

import "sort"

// Registry holds every Tool known to a process (built-ins plus whatever
// MCP servers and skills contribute) and computes the active subset for
// a given call. The active set is a pure function of configured tools,
// disabled names, enabled features, and the calling session, never
// session-mutable state tracked elsewhere.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Options gates which built-in and dynamically-discovered tools are part
// of a call's active set.
type Options struct {
	Disabled      map[string]bool
	SubAgentsOn   bool
	SkillsOn      bool
	MCPOn         bool
	IsTopLevel    bool // ask_user only exists for the top-level agent
	SkillsExist   bool // use_skill only exists once a skill manifest is found
	MCPToolExists bool // at least one MCP server tool is connected
}

// names of built-ins that are conditionally included rather than always
// present; every other registered tool is included unless disabled.
const (
	NameAskUser   = "ask_user"
	NameAskParent = "ask_parent"
	NameSubAgent  = "sub_agent"
	NameUseSkill  = "use_skill"
)

// ActiveSet returns, in stable name order, every tool available to a call
// under opts. A tool is excluded when: its name is in Disabled; it is
// ask_user and the call isn't top-level (sub-agents get ask_parent
// instead, substituted by the caller, not the registry); it is ask_parent
// and the call is top-level; it is sub_agent and either sub-agents are
// gated off or the call isn't top-level; it is use_skill and either
// skills are gated off or no skill manifests were discovered; or it is an
// mcp: prefixed tool and either MCP is gated off or no MCP tool is
// connected.
func (r *Registry) ActiveSet(opts Options) []Tool {
	var names []string
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	active := make([]Tool, 0, len(names))
	for _, name := range names {
		if opts.Disabled[name] {
			continue
		}
		switch {
		case name == NameAskUser && !opts.IsTopLevel:
			continue
		case name == NameAskParent && opts.IsTopLevel:
			continue
		case name == NameSubAgent && (!opts.SubAgentsOn || !opts.IsTopLevel):
			continue
		case name == NameUseSkill && (!opts.SkillsOn || !opts.SkillsExist):
			continue
		case isMCPTool(name) && (!opts.MCPOn || !opts.MCPToolExists):
			continue
		}
		active = append(active, r.tools[name])
	}
	return active
}

func isMCPTool(name string) bool {
	return len(name) > 4 && name[:4] == "mcp:"
}
