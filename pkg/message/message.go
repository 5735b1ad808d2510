// Package message defines the conversation data model: messages, tool
// calls/results, and the branchable session tree they live in.
package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role indicates the author of a message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystem     Role = "system"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
)

// Message is an entry in a session's conversation tree.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Thinking  string         `json:"thinking,omitempty"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`

	// CallID and ToolName are set only for tool_call / tool_result roles.
	CallID   string `json:"call_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	IsError  bool   `json:"is_error,omitempty"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a ToolCall, keyed by call id.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Output  string `json:"output,omitempty"`
	IsError bool   `json:"is_error"`
	Reason  string `json:"reason,omitempty"`
}

// NewMessageID mints a fresh message identifier.
func NewMessageID() string { return uuid.NewString() }

// NewCallID mints a fresh tool-call identifier.
func NewCallID() string { return "call_" + uuid.NewString() }

// NewUserMessage constructs a user message with a fresh id and timestamp.
func NewUserMessage(content string) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewAssistantMessage constructs an assistant message from finalized turn
// state (text, thinking, and the fully-materialized tool calls).
func NewAssistantMessage(text, thinking string, calls []ToolCall) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      RoleAssistant,
		Content:   text,
		Thinking:  thinking,
		ToolCalls: calls,
		CreatedAt: time.Now(),
	}
}

// NewToolResultMessage wraps a ToolResult as a message for the history.
func NewToolResultMessage(toolName string, r ToolResult) Message {
	content := r.Output
	if r.IsError {
		content = r.Reason
	}
	return Message{
		ID:        NewMessageID(),
		Role:      RoleToolResult,
		Content:   content,
		CallID:    r.CallID,
		ToolName:  toolName,
		IsError:   r.IsError,
		CreatedAt: time.Now(),
	}
}

// AbortedResult builds the synthetic tool_result injected
// when a tool call is orphaned by an abort: content is always the fixed
// "[Aborted by user]" marker with the error flag set.
func AbortedResult(callID string) ToolResult {
	return ToolResult{CallID: callID, IsError: true, Reason: "[Aborted by user]"}
}

// SkippedResult builds the synthetic tool_result used when remaining tools
// in a batch are skipped because a steering message arrived mid-batch.
func SkippedResult(callID string) ToolResult {
	return ToolResult{CallID: callID, IsError: true, Reason: "Skipped — user sent a steering message"}
}
