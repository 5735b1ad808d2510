package subagent

import (
	"encoding/json"
	"fmt"

	"github.com/opalhq/opal/internal/observability"
	"github.com/opalhq/opal/internal/tool"
	"github.com/opalhq/opal/pkg/event"
)

const subAgentSchema = `{
  "type": "object",
  "properties": {
    "prompt": {"type": "string", "description": "the task to hand off to a fresh sub-agent"},
    "system_prompt": {"type": "string", "description": "optional system prompt override for the sub-agent"}
  },
  "required": ["prompt"]
}`

// Tool adapts a Supervisor into the dispatchable sub_agent tool.
// The parent's session id, call id, and depth come from
// each call's tool.Context rather than from Tool itself, since one
// process-wide Registry serves every agent.
type Tool struct {
	Supervisor      *Supervisor
	NewSubSessionID func() string
	Broadcast       func(event.AgentEvent) // forwards sub_agent_event to the parent's session bus
	Metrics         *observability.Metrics // optional
}

var _ tool.Tool = (*Tool)(nil)

func (*Tool) Name() string { return "sub_agent" }

func (*Tool) Description() string {
	return "Delegate a self-contained task to a fresh sub-agent and return its final answer. Sub-agents cannot spawn further sub-agents."
}

func (*Tool) Parameters() json.RawMessage { return json.RawMessage(subAgentSchema) }

func (t *Tool) Execute(args json.RawMessage, tc tool.Context) tool.Result {
	var parsed struct {
		Prompt       string `json:"prompt"`
		SystemPrompt string `json:"system_prompt"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil || parsed.Prompt == "" {
		return tool.Err("sub_agent requires a \"prompt\" argument")
	}

	subSessionID := tc.SessionID + ":sub"
	if t.NewSubSessionID != nil {
		subSessionID = t.NewSubSessionID()
	}

	handle, err := t.Supervisor.Spawn(Config{
		ParentSessionID: tc.SessionID,
		ParentCallID:    tc.CallID,
		SubSessionID:    subSessionID,
		Depth:           tc.Depth,
		Prompt:          parsed.Prompt,
		SystemPrompt:    parsed.SystemPrompt,
	})
	if err != nil {
		return tool.Err(err.Error())
	}
	if t.Metrics != nil {
		t.Metrics.SubAgentsSpawned.Inc()
	}

	result, err := handle.Run(tc.Ctx, t.Broadcast)
	if err != nil {
		return tool.Err(fmt.Sprintf("sub-agent failed: %v", err))
	}
	return tool.Ok(result)
}

func (*Tool) Meta(args json.RawMessage) string {
	var parsed struct {
		Prompt string `json:"prompt"`
	}
	_ = json.Unmarshal(args, &parsed)
	return parsed.Prompt
}
