package event

import "encoding/json"

// StreamEventType discriminates the 11 ProviderStreamEvent variants a
// Provider implementation emits while a turn is streaming.
type StreamEventType string

const (
	StreamTextStart     StreamEventType = "text_start"
	StreamTextDelta     StreamEventType = "text_delta"
	StreamTextDone      StreamEventType = "text_done"
	StreamThinkingStart StreamEventType = "thinking_start"
	StreamThinkingDelta StreamEventType = "thinking_delta"
	StreamToolCallStart StreamEventType = "tool_call_start"
	StreamToolCallDelta StreamEventType = "tool_call_delta"
	StreamToolCallDone  StreamEventType = "tool_call_done"
	StreamUsageEvent    StreamEventType = "usage"
	StreamResponseDone  StreamEventType = "response_done"
	StreamError         StreamEventType = "error"
)

// StreamEvent is a single event in a provider's output stream. Providers
// construct these with the matching constructor below; only the fields
// relevant to Type are meaningful.
type StreamEvent struct {
	Type StreamEventType

	// text_delta / thinking_delta
	Delta string

	// text_done
	FinalText string

	// tool_call_start
	CallID string
	Name   string

	// tool_call_delta
	ArgumentsFragment string

	// tool_call_done
	Arguments json.RawMessage // nil if the provider didn't supply a parsed value

	// usage / response_done
	Usage *StreamUsage

	// error
	Err error
}

// StreamUsage carries a provider's raw usage counters under whichever
// key names it uses; the usage tracker normalizes prompt_tokens/
// input_tokens and completion_tokens/output_tokens itself.
type StreamUsage struct {
	PromptTokens     int
	CompletionTokens int
	InputTokens      int
	OutputTokens     int
}

func TextStart() StreamEvent               { return StreamEvent{Type: StreamTextStart} }
func TextDelta(d string) StreamEvent       { return StreamEvent{Type: StreamTextDelta, Delta: d} }
func TextDone(final string) StreamEvent    { return StreamEvent{Type: StreamTextDone, FinalText: final} }
func ThinkingStartEv() StreamEvent         { return StreamEvent{Type: StreamThinkingStart} }
func ThinkingDeltaEv(d string) StreamEvent { return StreamEvent{Type: StreamThinkingDelta, Delta: d} }
func ToolCallStart(callID, name string) StreamEvent {
	return StreamEvent{Type: StreamToolCallStart, CallID: callID, Name: name}
}
func ToolCallDelta(frag string) StreamEvent {
	return StreamEvent{Type: StreamToolCallDelta, ArgumentsFragment: frag}
}
func ToolCallDone(callID, name string, args json.RawMessage) StreamEvent {
	return StreamEvent{Type: StreamToolCallDone, CallID: callID, Name: name, Arguments: args}
}
func UsageEvent(u StreamUsage) StreamEvent { return StreamEvent{Type: StreamUsageEvent, Usage: &u} }
func ResponseDone(u *StreamUsage) StreamEvent {
	return StreamEvent{Type: StreamResponseDone, Usage: u}
}
func ErrorEvent(err error) StreamEvent { return StreamEvent{Type: StreamError, Err: err} }
