// Package config holds the declarative configuration and feature-gating
// rules: the default model, system prompt, working
// directory, MCP server list, and the sub_agents/skills/mcp/debug feature
// switches that the tool runner consults when computing a session's
// active tool set.
package config

import "strings"

// Model identifies a provider + model id + thinking level triple.
type Model struct {
	Provider      string `yaml:"provider" json:"provider"`
	ID            string `yaml:"id" json:"id"`
	ThinkingLevel string `yaml:"thinking_level,omitempty" json:"thinking_level,omitempty"`
}

// Features gates the optional subsystems: sub-agents, skills, MCP tool
// bridging, and the debug tool.
type Features struct {
	SubAgents bool `yaml:"sub_agents" json:"sub_agents"`
	Skills    bool `yaml:"skills" json:"skills"`
	MCP       bool `yaml:"mcp" json:"mcp"`
	Debug     bool `yaml:"debug" json:"debug"`
}

// ToolsConfig carries the set of tool names excluded from every
// session's active set.
type ToolsConfig struct {
	Disabled []string `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// SessionConfig controls end-of-turn persistence and background title
// generation.
type SessionConfig struct {
	AutoSave  bool `yaml:"auto_save" json:"auto_save"`
	AutoTitle bool `yaml:"auto_title" json:"auto_title"`
}

// RetryConfig mirrors classify.RetryPolicy/BackoffPolicy so operators can
// override the defaults (base=1s, max=30s, attempts=5) without code
// changes.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	BaseDelayMS int     `yaml:"base_delay_ms,omitempty" json:"base_delay_ms,omitempty"`
	MaxDelayMS  int     `yaml:"max_delay_ms,omitempty" json:"max_delay_ms,omitempty"`
	JitterMin   float64 `yaml:"jitter_min,omitempty" json:"jitter_min,omitempty"`
	JitterMax   float64 `yaml:"jitter_max,omitempty" json:"jitter_max,omitempty"`
}

// MCPServerConfig describes one configured MCP server, supplied either in
// `nexus.yaml`-style config or via `session/start`'s `mcp_servers` param.
type MCPServerConfig struct {
	Name    string   `yaml:"name" json:"name"`
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
	URL     string   `yaml:"url,omitempty" json:"url,omitempty"`
}

// ApprovalConfig names tool-name patterns that require a client/confirm
// round-trip before dispatch (an extension the tool runner consults
// alongside the sub_agents/skills/mcp/debug feature gates).
type ApprovalConfig struct {
	RequireApproval []string `yaml:"require_approval,omitempty" json:"require_approval,omitempty"`
}

// Config is the process-wide configuration: defaults applied to a session
// at `session/start` unless the request overrides them.
type Config struct {
	DataDir      string            `yaml:"data_dir,omitempty" json:"data_dir,omitempty"`
	Model        Model             `yaml:"model" json:"model"`
	SystemPrompt string            `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	WorkingDir   string            `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	Features     Features          `yaml:"features" json:"features"`
	Tools        ToolsConfig       `yaml:"tools" json:"tools"`
	Session      SessionConfig     `yaml:"session" json:"session"`
	Retry        RetryConfig       `yaml:"retry,omitempty" json:"retry,omitempty"`
	Approval     ApprovalConfig    `yaml:"approval,omitempty" json:"approval,omitempty"`
	MCPServers   []MCPServerConfig `yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`
}

// Default returns a Config with baseline defaults: an Anthropic model,
// every feature off (an operator opts in via `session/start.features`),
// auto-save and auto-title both on.
func Default() *Config {
	return &Config{
		Model:   Model{Provider: "anthropic", ID: "claude-sonnet-4-20250514"},
		Session: SessionConfig{AutoSave: true, AutoTitle: true},
	}
}

// IsToolDisabled reports whether name is in the configured disabled set.
func (c *Config) IsToolDisabled(name string) bool {
	if c == nil {
		return false
	}
	for _, d := range c.Tools.Disabled {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}

// Clone returns a deep-enough copy for per-session overriding: slices are
// copied so a session's overrides never mutate the process-wide default.
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	clone := *c
	clone.Tools.Disabled = append([]string(nil), c.Tools.Disabled...)
	clone.MCPServers = append([]MCPServerConfig(nil), c.MCPServers...)
	clone.Approval.RequireApproval = append([]string(nil), c.Approval.RequireApproval...)
	return &clone
}
