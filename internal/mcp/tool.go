package mcp

import (
	"encoding/json"

	"github.com/opalhq/opal/internal/tool"
)

// ToolAdapter exposes one MCP server tool as a dispatchable tool.Tool,
// named "mcp:<server>.<name>" per QualifiedName so the registry's
// isMCPTool gate and features.mcp switch apply to it uniformly with
// every other MCP-discovered tool.
type ToolAdapter struct {
	Manager *Manager
	Server  string
	Info    ToolInfo
}

var _ tool.Tool = (*ToolAdapter)(nil)

func (a *ToolAdapter) Name() string { return QualifiedName(a.Server, a.Info.Name) }

func (a *ToolAdapter) Description() string { return a.Info.Description }

func (a *ToolAdapter) Parameters() json.RawMessage {
	if len(a.Info.InputSchema) > 0 {
		return a.Info.InputSchema
	}
	return json.RawMessage(`{"type":"object"}`)
}

func (a *ToolAdapter) Execute(args json.RawMessage, tc tool.Context) tool.Result {
	result, err := a.Manager.CallTool(tc.Ctx, a.Server, a.Info.Name, args)
	if err != nil {
		return tool.Err(err.Error())
	}
	return tool.Ok(string(result))
}

func (a *ToolAdapter) Meta(args json.RawMessage) string {
	return a.Server + "." + a.Info.Name
}
