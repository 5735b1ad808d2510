package rpc

import (
	"context"
	"encoding/json"
)

type agentPromptParams struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

func handleAgentPrompt(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var p agentPromptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err.Error())
	}
	st, ok := s.session(p.SessionID)
	if !ok {
		return nil, invalidParams("unknown session_id")
	}
	queued, err := st.agent.Prompt(context.Background(), p.Text)
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]any{"queued": queued}, nil
}

type sessionOnlyParams struct {
	SessionID string `json:"session_id"`
}

func handleAgentAbort(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var p sessionOnlyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err.Error())
	}
	st, ok := s.session(p.SessionID)
	if !ok {
		return nil, invalidParams("unknown session_id")
	}
	if err := st.agent.Abort(ctx); err != nil {
		return nil, internalError(err)
	}
	return map[string]any{"ok": true}, nil
}

func handleAgentState(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var p sessionOnlyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err.Error())
	}
	st, ok := s.session(p.SessionID)
	if !ok {
		return nil, invalidParams("unknown session_id")
	}
	return map[string]any{"state": st.agent.State().String()}, nil
}
