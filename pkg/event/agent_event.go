// Package event defines the wire-visible AgentEvent vocabulary and the
// provider-facing stream event vocabulary the core consumes internally.
package event

import "encoding/json"

// Type discriminates the 20 AgentEvent variants.
type Type string

const (
	TypeAgentStart      Type = "agent_start"
	TypeAgentEnd         Type = "agent_end"
	TypeAgentAbort       Type = "agent_abort"
	TypeAgentRecovered   Type = "agent_recovered"
	TypeMessageStart     Type = "message_start"
	TypeMessageDelta     Type = "message_delta"
	TypeMessageQueued    Type = "message_queued"
	TypeMessageApplied   Type = "message_applied"
	TypeThinkingStart    Type = "thinking_start"
	TypeThinkingDelta    Type = "thinking_delta"
	TypeToolExecStart    Type = "tool_execution_start"
	TypeToolExecEnd      Type = "tool_execution_end"
	TypeToolOutput       Type = "tool_output"
	TypeTurnEnd          Type = "turn_end"
	TypeError            Type = "error"
	TypeUsageUpdate      Type = "usage_update"
	TypeStatusUpdate     Type = "status_update"
	TypeContextDiscovered Type = "context_discovered"
	TypeSkillLoaded      Type = "skill_loaded"
	TypeSubAgentEvent    Type = "sub_agent_event"
)

// AgentEvent is the single envelope used for every variant above. Exactly
// the fields relevant to Type are populated; the rest are zero-valued and
// omitted from JSON via `omitempty`. One flat struct (rather than a
// payload pointer per variant) because every variant is small and the
// wire shape is a single flat `{session_id, type, ...}` object.
type AgentEvent struct {
	SessionID string `json:"session_id"`
	Type      Type   `json:"type"`

	// agent_end
	Usage *Usage `json:"usage,omitempty"`

	// message_delta / message_queued / message_applied / thinking_delta /
	// status_update / error
	Text string `json:"text,omitempty"`

	// tool_execution_start / tool_execution_end / tool_output
	Tool   string          `json:"tool,omitempty"`
	CallID string          `json:"call_id,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Meta   string          `json:"meta,omitempty"`
	Result *ToolResultView `json:"result,omitempty"`
	Chunk  string          `json:"chunk,omitempty"`

	// turn_end
	Message *MessageView `json:"message,omitempty"`

	// usage_update
	UsageSnapshot *Usage `json:"usage_snapshot,omitempty"`

	// context_discovered
	Files []string `json:"files,omitempty"`

	// skill_loaded
	SkillName        string `json:"name,omitempty"`
	SkillDescription string `json:"description,omitempty"`

	// sub_agent_event
	ParentCallID string      `json:"parent_call_id,omitempty"`
	SubSessionID string      `json:"sub_session_id,omitempty"`
	Inner        *AgentEvent `json:"inner,omitempty"`
}

// ToolResultView is the JSON shape of a tool result on the wire.
type ToolResultView struct {
	OK     bool   `json:"ok"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// MessageView is the JSON shape of a finalized assistant message on the
// wire, carried by turn_end.
type MessageView struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	ToolCalls []struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"tool_calls,omitempty"`
}

// Usage is the wire shape of token accounting, matching provider field
// names where possible (both snake_case spellings are accepted on input
// by the usage tracker; this is the canonical outbound shape).
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// AgentStart builds the agent_start event.
func AgentStart(sessionID string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeAgentStart}
}

// AgentEnd builds the agent_end event, usage optional.
func AgentEnd(sessionID string, usage *Usage) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeAgentEnd, Usage: usage}
}

// AgentAbort builds the agent_abort event.
func AgentAbort(sessionID string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeAgentAbort}
}

// AgentRecovered builds the agent_recovered event.
func AgentRecovered(sessionID string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeAgentRecovered}
}

// MessageStart builds the message_start event.
func MessageStart(sessionID string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeMessageStart}
}

// MessageDelta builds the message_delta event.
func MessageDelta(sessionID, delta string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeMessageDelta, Text: delta}
}

// MessageQueued builds the message_queued event.
func MessageQueued(sessionID, text string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeMessageQueued, Text: text}
}

// MessageApplied builds the message_applied event.
func MessageApplied(sessionID, text string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeMessageApplied, Text: text}
}

// ThinkingStart builds the thinking_start event.
func ThinkingStart(sessionID string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeThinkingStart}
}

// ThinkingDelta builds the thinking_delta event.
func ThinkingDelta(sessionID, delta string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeThinkingDelta, Text: delta}
}

// ToolExecutionStart builds the tool_execution_start event.
func ToolExecutionStart(sessionID, tool, callID string, args json.RawMessage, meta string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeToolExecStart, Tool: tool, CallID: callID, Args: args, Meta: meta}
}

// ToolExecutionEnd builds the tool_execution_end event.
func ToolExecutionEnd(sessionID, tool, callID string, result ToolResultView) AgentEvent {
	r := result
	return AgentEvent{SessionID: sessionID, Type: TypeToolExecEnd, Tool: tool, CallID: callID, Result: &r}
}

// ToolOutput builds the tool_output event.
func ToolOutput(sessionID, tool, callID, chunk string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeToolOutput, Tool: tool, CallID: callID, Chunk: chunk}
}

// TurnEnd builds the turn_end event.
func TurnEnd(sessionID string, msg MessageView) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeTurnEnd, Message: &msg}
}

// Error builds the error event.
func Error(sessionID, reason string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeError, Text: reason}
}

// UsageUpdate builds the usage_update event.
func UsageUpdate(sessionID string, u Usage) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeUsageUpdate, UsageSnapshot: &u}
}

// StatusUpdate builds the status_update event.
func StatusUpdate(sessionID, message string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeStatusUpdate, Text: message}
}

// ContextDiscovered builds the context_discovered event.
func ContextDiscovered(sessionID string, files []string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeContextDiscovered, Files: files}
}

// SkillLoaded builds the skill_loaded event.
func SkillLoaded(sessionID, name, description string) AgentEvent {
	return AgentEvent{SessionID: sessionID, Type: TypeSkillLoaded, SkillName: name, SkillDescription: description}
}

// SubAgentEvent wraps an inner event emitted by a sub-agent for
// re-broadcast on the parent's session bus.
func SubAgentEvent(sessionID, parentCallID, subSessionID string, inner AgentEvent) AgentEvent {
	return AgentEvent{
		SessionID:    sessionID,
		Type:         TypeSubAgentEvent,
		ParentCallID: parentCallID,
		SubSessionID: subSessionID,
		Inner:        &inner,
	}
}
