package agent

import (
	"github.com/opalhq/opal/internal/provider"
	itool "github.com/opalhq/opal/internal/tool"
	"github.com/opalhq/opal/pkg/message"
)

// thinkingBudgets maps a configured thinking level to a token budget, a
// coarse low/medium/high knob rather than a raw token count.
var thinkingBudgets = map[string]int{
	"low":    2000,
	"medium": 8000,
	"high":   24000,
}

// activeToolOptions snapshots the gating inputs for this session's
// active tool set. Both the LLM-advertised schema list and the tool
// runner's dispatch gate resolve through it, so a tool the model was
// never offered can't be executed either.
func (a *Agent) activeToolOptions() itool.Options {
	a.mu.Lock()
	defer a.mu.Unlock()
	return itool.Options{
		Disabled:      a.opts.DisabledTools,
		SubAgentsOn:   a.opts.Features.SubAgents,
		SkillsOn:      a.opts.Features.Skills,
		MCPOn:         a.opts.Features.MCP,
		IsTopLevel:    a.opts.Depth == 0,
		SkillsExist:   a.opts.Skills != nil && len(a.opts.Skills.Available()) > 0,
		MCPToolExists: a.opts.Features.MCP,
	}
}

// buildCompletionRequest assembles one turn's request: full history,
// system prompt, and the session's active tool schemas.
func buildCompletionRequest(a *Agent, path []message.Message) *provider.CompletionRequest {
	active := a.opts.Registry.ActiveSet(a.activeToolOptions())

	schemas := make([]provider.ToolSchema, 0, len(active))
	for _, t := range active {
		schemas = append(schemas, provider.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}

	req := &provider.CompletionRequest{
		Model:    a.opts.Model.ID,
		System:   a.opts.SystemPrompt,
		Messages: path,
		Tools:    schemas,
	}

	if budget, ok := thinkingBudgets[a.opts.Model.ThinkingLevel]; ok {
		req.EnableThinking = true
		req.ThinkingBudgetTokens = budget
	}
	return req
}
