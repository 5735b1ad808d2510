package subagent

import (
	"encoding/json"

	"github.com/opalhq/opal/internal/tool"
)

const askParentSchema = `{
  "type": "object",
  "properties": {
    "question": {"type": "string", "description": "the question to ask the parent agent"}
  },
  "required": ["question"]
}`

// AskParentTool is substituted for ask_user in a sub-agent's active set:
// rather than round-tripping to the human client, a
// sub-agent's question is answered by whatever Answerer its run context
// carries (WithAnswerer), bound per-run to the actual parent rather than
// shared across every agent the process-wide Registry serves.
type AskParentTool struct{}

var _ tool.Tool = (*AskParentTool)(nil)

func (*AskParentTool) Name() string { return tool.NameAskParent }

func (*AskParentTool) Description() string {
	return "Ask the parent agent a clarifying question and wait for its answer."
}

func (*AskParentTool) Parameters() json.RawMessage { return json.RawMessage(askParentSchema) }

func (*AskParentTool) Execute(args json.RawMessage, tc tool.Context) tool.Result {
	var parsed struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil || parsed.Question == "" {
		return tool.Err("ask_parent requires a \"question\" argument")
	}
	answerer, ok := AnswererFromContext(tc.Ctx)
	if !ok {
		return tool.Err("ask_parent: no parent answerer available for this run")
	}
	answer, err := answerer(parsed.Question)
	if err != nil {
		return tool.Err(err.Error())
	}
	return tool.Ok(answer)
}

func (*AskParentTool) Meta(args json.RawMessage) string {
	var parsed struct {
		Question string `json:"question"`
	}
	_ = json.Unmarshal(args, &parsed)
	return parsed.Question
}
