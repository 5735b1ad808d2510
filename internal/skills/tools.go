package skills

import (
	"encoding/json"

	"github.com/opalhq/opal/internal/tool"
)

const useSkillSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string", "description": "the skill's name, as listed in available_skills"}
  },
  "required": ["name"]
}`

// UseSkillTool adapts a session's Manager into the dispatchable use_skill
// tool. It closes
// over core session state (the Manager), which is why it lives alongside
// the other built-in orchestration tools rather than as an external
// collaborator.
type UseSkillTool struct {
	Manager *Manager
}

var _ tool.Tool = UseSkillTool{}

func (UseSkillTool) Name() string { return "use_skill" }

func (UseSkillTool) Description() string {
	return "Load a skill's instructions into context by name. Activating an already-loaded skill is a no-op."
}

func (UseSkillTool) Parameters() json.RawMessage { return json.RawMessage(useSkillSchema) }

func (t UseSkillTool) Execute(args json.RawMessage, _ tool.Context) tool.Result {
	var parsed struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil || parsed.Name == "" {
		return tool.Err("use_skill requires a \"name\" argument")
	}

	result, err := t.Manager.Use(parsed.Name)
	if err != nil {
		return tool.Err(err.Error())
	}
	if result.Instructions == "" {
		return tool.Ok(result.Message)
	}
	return tool.Ok(SystemInjection(Skill{Name: parsed.Name, Instructions: result.Instructions}))
}

func (UseSkillTool) Meta(args json.RawMessage) string {
	var parsed struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(args, &parsed)
	return parsed.Name
}
