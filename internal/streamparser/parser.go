// Package streamparser consumes a Provider's event.StreamEvent channel and
// accumulates one turn's text, thinking, and tool calls.
package streamparser

import (
	"encoding/json"
	"strings"

	"github.com/opalhq/opal/pkg/event"
	"github.com/opalhq/opal/pkg/message"
)

// toolAccumulator gathers one tool call's streamed fields before it's
// finalized by a tool_call_done event.
type toolAccumulator struct {
	callID       string
	name         string
	argsBuilder  strings.Builder
	doneArgs     json.RawMessage // set if tool_call_done carried a parsed value
}

// Sink receives side-effect callbacks the parser produces while consuming
// a stream: cleaned text deltas, thinking deltas, and extracted status
// strings. The caller wires these to pkg/event.AgentEvent broadcasts.
type Sink struct {
	OnMessageStart   func()
	OnMessageDelta   func(cleaned string)
	OnThinkingStart  func()
	OnThinkingDelta  func(text string)
	OnStatusUpdate   func(status string)
	OnError          func(err error)
}

// Turn accumulates the state of one in-flight (or just-finished) turn.
type Turn struct {
	Text      string
	Thinking  string
	ToolCalls []message.ToolCall
	Usage     *event.StreamUsage
	Err       error
}

// Parser holds the per-turn accumulator and status-tag extractor state:
// the text and thinking built so far plus the in-progress tool calls.
type Parser struct {
	textBuilder     strings.Builder
	thinkingBuilder strings.Builder
	tools           []*toolAccumulator
	status          StatusExtractor
	usage           *event.StreamUsage
}

// NewParser returns a fresh parser for one turn.
func NewParser() *Parser { return &Parser{} }

// Consume drains stream to completion (or until a context-driven early
// return by the caller, which should simply stop ranging), applying the
// sink callbacks as events occur, and returns the finalized Turn once the
// stream emits error or is closed; response_done only records usage.
func (p *Parser) Consume(stream <-chan event.StreamEvent, sink Sink) Turn {
	for ev := range stream {
		switch ev.Type {
		case event.StreamTextStart:
			if sink.OnMessageStart != nil {
				sink.OnMessageStart()
			}

		case event.StreamTextDelta:
			cleaned, statuses := p.status.Process(ev.Delta)
			for _, s := range statuses {
				if sink.OnStatusUpdate != nil {
					sink.OnStatusUpdate(s)
				}
			}
			if cleaned != "" {
				p.textBuilder.WriteString(cleaned)
				if sink.OnMessageDelta != nil {
					sink.OnMessageDelta(cleaned)
				}
			}

		case event.StreamTextDone:
			if ev.FinalText != "" {
				p.textBuilder.Reset()
				p.textBuilder.WriteString(ev.FinalText)
			}

		case event.StreamThinkingStart:
			if sink.OnThinkingStart != nil {
				sink.OnThinkingStart()
			}

		case event.StreamThinkingDelta:
			p.thinkingBuilder.WriteString(ev.Delta)
			if sink.OnThinkingDelta != nil {
				sink.OnThinkingDelta(ev.Delta)
			}

		case event.StreamToolCallStart:
			p.tools = append(p.tools, &toolAccumulator{callID: ev.CallID, name: ev.Name})

		case event.StreamToolCallDelta:
			if n := len(p.tools); n > 0 {
				p.tools[n-1].argsBuilder.WriteString(ev.ArgumentsFragment)
			}

		case event.StreamToolCallDone:
			if n := len(p.tools); n > 0 {
				acc := p.tools[n-1]
				if ev.CallID != "" {
					acc.callID = ev.CallID
				}
				if ev.Name != "" {
					acc.name = ev.Name
				}
				if len(ev.Arguments) > 0 {
					acc.doneArgs = ev.Arguments
				}
			}

		case event.StreamUsageEvent, event.StreamResponseDone:
			if ev.Usage != nil {
				p.usage = ev.Usage
			}

		case event.StreamError:
			if sink.OnError != nil {
				sink.OnError(ev.Err)
			}
			return p.finalize(ev.Err)
		}
	}
	return p.finalize(nil)
}

// finalize materializes tool calls: use the parsed `arguments` if the
// provider supplied one, else parse the
// accumulated JSON fragments; a JSON parse failure yields an empty
// object rather than failing the turn.
func (p *Parser) finalize(err error) Turn {
	calls := make([]message.ToolCall, 0, len(p.tools))
	for _, acc := range p.tools {
		args := acc.doneArgs
		if len(args) == 0 {
			raw := acc.argsBuilder.String()
			if raw == "" {
				args = json.RawMessage("{}")
			} else if json.Valid([]byte(raw)) {
				args = json.RawMessage(raw)
			} else {
				args = json.RawMessage("{}")
			}
		}
		calls = append(calls, message.ToolCall{ID: acc.callID, Name: acc.name, Arguments: args})
	}
	return Turn{
		Text:      p.textBuilder.String(),
		Thinking:  p.thinkingBuilder.String(),
		ToolCalls: calls,
		Usage:     p.usage,
		Err:       err,
	}
}
