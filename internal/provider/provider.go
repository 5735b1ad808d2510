// Package provider defines the boundary between the agent core and an LLM
// backend: a streaming completion call plus the tool-schema shape the
// model sees. Concrete backends (internal/provideradapter/anthropic, etc.)
// implement Provider.
package provider

import (
	"context"
	"encoding/json"

	"github.com/opalhq/opal/pkg/event"
	"github.com/opalhq/opal/pkg/message"
)

// Provider is the interface every LLM backend must satisfy. Complete must
// be safe for concurrent use across sessions; a single session only ever
// has one call in flight at a time.
type Provider interface {
	Complete(ctx context.Context, req *CompletionRequest) (<-chan event.StreamEvent, error)
	Name() string
	Models() []Model
	SupportsTools() bool
}

// Model describes one model a Provider exposes.
type Model struct {
	ID             string
	Name           string
	ContextWindow  int
	SupportsVision bool
}

// ToolSchema is the model-facing description of one callable tool:
// name, natural-language description, and a JSON Schema for its
// arguments. This is distinct from the internal Tool interface
// (internal/tool) which also knows how to execute and describe a
// call for display.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CompletionRequest is one turn's request to a Provider: full message
// history, system prompt, active tool schemas, and generation knobs.
type CompletionRequest struct {
	Model                string
	System               string
	Messages             []message.Message
	Tools                []ToolSchema
	MaxTokens            int
	EnableThinking       bool
	ThinkingBudgetTokens int
}
