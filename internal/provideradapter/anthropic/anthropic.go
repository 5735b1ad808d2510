// Package anthropic adapts the Anthropic Claude API to provider.Provider,
// translating its SSE event stream into the engine's 11-variant
// event.StreamEvent vocabulary.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/opalhq/opal/internal/provider"
	"github.com/opalhq/opal/pkg/event"
	"github.com/opalhq/opal/pkg/message"
)

// Config configures a Provider instance.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Provider implements provider.Provider against the Anthropic Messages API.
type Provider struct {
	client       sdk.Client
	defaultModel string
}

// New builds an Anthropic-backed provider.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: APIKey is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &Provider{client: sdk.NewClient(opts...), defaultModel: model}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) SupportsTools() bool { return true }

func (p *Provider) Models() []provider.Model {
	return []provider.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextWindow: 200000, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextWindow: 200000, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextWindow: 200000, SupportsVision: true},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextWindow: 200000, SupportsVision: true},
	}
}

func (p *Provider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func maxTokensOrDefault(n int) int64 {
	if n <= 0 {
		return 4096
	}
	return int64(n)
}

// Complete issues a streaming completion request and returns a channel of
// event.StreamEvent values in arrival order, terminated by response_done
// or error.
func (p *Provider) Complete(ctx context.Context, req *provider.CompletionRequest) (<-chan event.StreamEvent, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(budget)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan event.StreamEvent)
	go processStream(stream, out)
	return out, nil
}

func processStream(stream *ssestream.Stream[sdk.MessageStreamEventUnion], out chan<- event.StreamEvent) {
	defer close(out)

	var toolCallID, toolName string
	var toolInput strings.Builder
	inToolUse := false
	inText := false
	inThinking := false
	var inputTokens, outputTokens int

	for stream.Next() {
		ev := stream.Current()
		switch ev.Type {
		case "message_start":
			ms := ev.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := ev.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				inThinking = true
				out <- event.ThinkingStartEv()
			case "tool_use":
				toolUse := block.AsToolUse()
				toolCallID, toolName = toolUse.ID, toolUse.Name
				toolInput.Reset()
				inToolUse = true
				out <- event.ToolCallStart(toolCallID, toolName)
			case "text":
				if !inText {
					inText = true
					out <- event.TextStart()
				}
			}

		case "content_block_delta":
			delta := ev.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- event.TextDelta(delta.Text)
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					out <- event.ThinkingDeltaEv(delta.Thinking)
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					out <- event.ToolCallDelta(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			switch {
			case inThinking:
				inThinking = false
			case inToolUse:
				out <- event.ToolCallDone(toolCallID, toolName, json.RawMessage(toolInput.String()))
				inToolUse = false
			case inText:
				out <- event.TextDone("")
				inText = false
			}

		case "message_delta":
			md := ev.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}

		case "message_stop":
			out <- event.ResponseDone(&event.StreamUsage{
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			})
			return

		case "error":
			out <- event.ErrorEvent(fmt.Errorf("anthropic stream error"))
			return
		}
	}
	if err := stream.Err(); err != nil {
		out <- event.ErrorEvent(err)
	}
}

func convertMessages(messages []message.Message) ([]sdk.MessageParam, error) {
	result := make([]sdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []sdk.ContentBlockParamUnion
		switch msg.Role {
		case message.RoleToolResult:
			content = append(content, sdk.NewToolResultBlock(msg.CallID, msg.Content, msg.IsError))
		default:
			if msg.Content != "" {
				content = append(content, sdk.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var args any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &args); err != nil {
						return nil, fmt.Errorf("tool call %s: %w", tc.ID, err)
					}
				}
				content = append(content, sdk.NewToolUseBlock(tc.ID, args, tc.Name))
			}
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == message.RoleAssistant {
			result = append(result, sdk.NewAssistantMessage(content...))
		} else {
			result = append(result, sdk.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(tools []provider.ToolSchema) ([]sdk.ToolUnionParam, error) {
	result := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema sdk.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name, err)
		}
		param := sdk.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool != nil {
			param.OfTool.Description = sdk.String(tool.Description)
		}
		result = append(result, param)
	}
	return result, nil
}
