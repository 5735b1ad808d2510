package rpc

import (
	"encoding/json"

	"github.com/opalhq/opal/internal/tool"
)

const askUserSchema = `{
  "type": "object",
  "properties": {
    "question": {"type": "string", "description": "the question to ask the connected human user"}
  },
  "required": ["question"]
}`

// askUserTool adapts the server's client/ask_user round-trip into the
// dispatchable ask_user tool. It closes over an Ask
// closure bound to one session rather than the whole Server, matching
// the shape of subagent.Tool/AskParentTool: a tool.Context carries the
// session id for attribution, but the actual round-trip target (this
// connected client) is fixed per session at construction time.
type askUserTool struct {
	Ask func(tc tool.Context, question string) (string, error)
}

var _ tool.Tool = (*askUserTool)(nil)

func (*askUserTool) Name() string { return tool.NameAskUser }

func (*askUserTool) Description() string {
	return "Ask the connected human user a clarifying question and wait for their answer."
}

func (*askUserTool) Parameters() json.RawMessage { return json.RawMessage(askUserSchema) }

func (t *askUserTool) Execute(args json.RawMessage, tc tool.Context) tool.Result {
	var parsed struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil || parsed.Question == "" {
		return tool.Err("ask_user requires a \"question\" argument")
	}
	answer, err := t.Ask(tc, parsed.Question)
	if err != nil {
		return tool.Err(err.Error())
	}
	return tool.Ok(answer)
}

func (*askUserTool) Meta(args json.RawMessage) string {
	var parsed struct {
		Question string `json:"question"`
	}
	_ = json.Unmarshal(args, &parsed)
	return parsed.Question
}
