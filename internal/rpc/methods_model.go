package rpc

import (
	"context"
	"encoding/json"

	"github.com/opalhq/opal/internal/agent"
	opalcontext "github.com/opalhq/opal/internal/context"
)

func handleModelsList(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	return map[string]any{"provider": s.prov.Name(), "models": s.prov.Models()}, nil
}

type modelSetParams struct {
	SessionID string `json:"session_id"`
	ModelID   string `json:"model_id"`
}

func handleModelSet(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var p modelSetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err.Error())
	}
	st, ok := s.session(p.SessionID)
	if !ok {
		return nil, invalidParams("unknown session_id")
	}
	found := false
	for _, m := range s.prov.Models() {
		if m.ID == p.ModelID {
			found = true
			// Catalogue limits beat the static window table.
			opalcontext.RegisterModelWindow(m.ID, m.ContextWindow)
			break
		}
	}
	if !found {
		return nil, invalidParams("unknown model_id " + p.ModelID)
	}
	st.agent.Configure(func(o *agent.Options) { o.Model.ID = p.ModelID })
	return map[string]any{"model": st.agent.Model()}, nil
}

type thinkingSetParams struct {
	SessionID string `json:"session_id"`
	Level     string `json:"level"`
}

func handleThinkingSet(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var p thinkingSetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err.Error())
	}
	st, ok := s.session(p.SessionID)
	if !ok {
		return nil, invalidParams("unknown session_id")
	}
	st.agent.Configure(func(o *agent.Options) { o.Model.ThinkingLevel = p.Level })
	return map[string]any{"model": st.agent.Model()}, nil
}
