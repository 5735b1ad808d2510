package rpc

import (
	"context"
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/opalhq/opal/internal/agent"
	"github.com/opalhq/opal/internal/compaction"
	"github.com/opalhq/opal/internal/config"
	opalcontext "github.com/opalhq/opal/internal/context"
	"github.com/opalhq/opal/pkg/event"
	"github.com/opalhq/opal/pkg/message"
)

type sessionStartParams struct {
	SessionID    string               `json:"session_id"`
	WorkingDir   string               `json:"working_dir"`
	SystemPrompt string               `json:"system_prompt"`
	Model        *config.Model        `json:"model"`
	Features     *config.Features     `json:"features"`
	MCPServers   []config.MCPServerConfig `json:"mcp_servers"`
}

type authStatusView struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
}

type sessionStartResult struct {
	SessionID       string                   `json:"session_id"`
	SessionDir      string                   `json:"session_dir"`
	ContextFiles    []string                 `json:"context_files"`
	AvailableSkills []string                 `json:"available_skills"`
	MCPServers      []config.MCPServerConfig `json:"mcp_servers"`
	NodeName        string                   `json:"node_name"`
	Auth            authStatusView           `json:"auth"`
}

func handleSessionStart(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var p sessionStartParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err.Error())
		}
	}

	cfg := s.cfg.Clone()
	if p.WorkingDir != "" {
		cfg.WorkingDir = p.WorkingDir
	}
	if p.SystemPrompt != "" {
		cfg.SystemPrompt = p.SystemPrompt
	}
	if p.Model != nil {
		cfg.Model = *p.Model
	}
	if p.Features != nil {
		cfg.Features = *p.Features
	}
	if len(p.MCPServers) > 0 {
		cfg.MCPServers = p.MCPServers
	}

	id := p.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	st, err := s.newSession(ctx, id, cfg)
	if err != nil {
		return nil, internalError(err)
	}

	names := make([]string, 0, len(st.skills.Available()))
	for _, sk := range st.skills.Available() {
		names = append(names, sk.Name)
	}

	nodeName, _ := os.Hostname()

	contextFiles := opalcontext.Discover(cfg.WorkingDir)
	if len(contextFiles) > 0 {
		s.bus.Broadcast(event.ContextDiscovered(id, contextFiles))
	}

	return sessionStartResult{
		SessionID:       id,
		SessionDir:      cfg.WorkingDir,
		ContextFiles:    contextFiles,
		AvailableSkills: names,
		MCPServers:      cfg.MCPServers,
		NodeName:        nodeName,
		Auth:            s.authStatus(),
	}, nil
}

func handleSessionList(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	sessions := s.store.List(ctx)
	return map[string]any{"sessions": sessions}, nil
}

type sessionIDEntryParams struct {
	SessionID string `json:"session_id"`
	EntryID   string `json:"entry_id"`
}

func handleSessionBranch(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var p sessionIDEntryParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err.Error())
	}
	if _, ok := s.session(p.SessionID); !ok {
		return nil, invalidParams("unknown session_id")
	}
	if err := s.store.Branch(ctx, p.SessionID, p.EntryID); err != nil {
		return nil, invalidParams(err.Error())
	}
	path, err := s.store.CurrentPath(ctx, p.SessionID)
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]any{"path_length": len(path)}, nil
}

type sessionCompactParams struct {
	SessionID    string `json:"session_id"`
	BudgetTokens int    `json:"budget_tokens"`
}

func handleSessionCompact(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var p sessionCompactParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err.Error())
	}
	st, ok := s.session(p.SessionID)
	if !ok {
		return nil, invalidParams("unknown session_id")
	}

	path, err := s.store.CurrentPath(ctx, p.SessionID)
	if err != nil {
		return nil, internalError(err)
	}
	ptrs := make([]*message.Message, len(path))
	for i := range path {
		ptrs[i] = &path[i]
	}
	budget := p.BudgetTokens
	if budget <= 0 {
		budget = compaction.EstimateMessagesTokens(ptrs) / 4
		if budget <= 0 {
			budget = 512
		}
	}

	compactor := compaction.NewCompactor(s.store, agent.NewProviderSummarizer(s.prov, st.cfg.Model.ID))
	entry, err := compactor.Compact(ctx, p.SessionID, budget*5, budget)
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]any{"old_messages": len(path), "new_leaf": entry.ID}, nil
}

type sessionHistoryParams struct {
	SessionID string `json:"session_id"`
}

func handleSessionHistory(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var p sessionHistoryParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err.Error())
	}
	path, err := s.store.CurrentPath(ctx, p.SessionID)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return map[string]any{"messages": path}, nil
}

type sessionDeleteParams struct {
	SessionID string `json:"session_id"`
}

func handleSessionDelete(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var p sessionDeleteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err.Error())
	}
	s.removeSession(p.SessionID)
	if err := s.store.Delete(ctx, p.SessionID); err != nil {
		return nil, invalidParams(err.Error())
	}
	return map[string]any{"deleted": true}, nil
}
