// Package tool defines the closed Tool interface the agent core dispatches
// against, the per-invocation Context
// a tool receives, and the Registry that resolves names to Tools and
// computes a session's active set. Concrete tool implementations (shell,
// read, edit, grep, tasks) are external collaborators that only need to
// satisfy Tool. The built-in orchestration tools that close over core
// state satisfy it too but live beside that state: use_skill in
// internal/skills, ask_parent and sub_agent in internal/subagent, and
// ask_user in internal/rpc; this package only names them.
package tool

import (
	"context"
	"encoding/json"
)

// Result is the outcome of executing a tool call: either a successful
// output or an error reason, before it's keyed by call id and wrapped as
// a tool_result message.
type Result struct {
	Output  string
	IsError bool
	Reason  string
}

// Ok builds a successful Result.
func Ok(output string) Result { return Result{Output: output} }

// Err builds an error Result.
func Err(reason string) Result { return Result{IsError: true, Reason: reason} }

// Context is the per-call context built by the tool runner:
// working directory, session identity, and an Emit callback for
// streaming tool_output chunks back to the client mid-execution.
type Context struct {
	Ctx        context.Context
	SessionID  string
	CallID     string
	WorkingDir string
	Depth      int // 0 for a top-level agent, 1 for a sub-agent
	Emit       func(chunk string)
}

// EmitChunk is a nil-safe wrapper so tools don't have to guard against an
// unset Emit callback (e.g. in unit tests that construct a bare Context).
func (c Context) EmitChunk(chunk string) {
	if c.Emit != nil {
		c.Emit(chunk)
	}
}

// Tool is the closed interface every dispatchable tool implements.
type Tool interface {
	// Name is the dispatch name the model calls (e.g. "read_file",
	// "sub_agent", "mcp:docs.search").
	Name() string

	// Description is shown to the model alongside Parameters.
	Description() string

	// Parameters returns a JSON Schema document describing the tool's
	// arguments.
	Parameters() json.RawMessage

	// Execute runs the tool. args is the call's raw JSON arguments.
	Execute(args json.RawMessage, tc Context) Result

	// Meta renders a short human-readable summary of args for display,
	// e.g. a read_file call's meta is its path.
	Meta(args json.RawMessage) string
}
