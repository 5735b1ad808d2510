package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opalhq/opal/internal/agent"
	"github.com/opalhq/opal/internal/classify"
	"github.com/opalhq/opal/internal/config"
	"github.com/opalhq/opal/internal/mcp"
	"github.com/opalhq/opal/internal/skills"
	"github.com/opalhq/opal/internal/subagent"
	itool "github.com/opalhq/opal/internal/tool"
	"github.com/opalhq/opal/pkg/event"
)

// sessionState is everything the server owns for one connected session:
// its effective config, its own tool registry (since use_skill and
// sub_agent close over session-specific state, one process-wide Registry
// can't serve every session; see skills.UseSkillTool/subagent.Tool doc
// comments), and the bus subscription that forwards its traffic to the
// client as agent/event notifications.
type sessionState struct {
	id          string
	cfg         *config.Config
	agent       *agent.Agent
	skills      *skills.Manager
	registry    *itool.Registry
	supervisor  *subagent.Supervisor
	mcp         *mcp.Manager
	unsubscribe func()
}

func retryPolicyFrom(rc config.RetryConfig) classify.RetryPolicy {
	policy := classify.DefaultRetryPolicy()
	if rc.MaxAttempts > 0 {
		policy.MaxAttempts = rc.MaxAttempts
	}
	if rc.BaseDelayMS > 0 {
		policy.Backoff.Base = time.Duration(rc.BaseDelayMS) * time.Millisecond
	}
	if rc.MaxDelayMS > 0 {
		policy.Backoff.MaxDelay = time.Duration(rc.MaxDelayMS) * time.Millisecond
	}
	if rc.JitterMin > 0 {
		policy.Backoff.JitterMin = rc.JitterMin
	}
	if rc.JitterMax > 0 {
		policy.Backoff.JitterMax = rc.JitterMax
	}
	return policy
}

// newSession builds a fresh sessionState: discovers skills, builds a
// private tool registry wired with this session's own use_skill/ask_user/
// sub_agent/ask_parent instances, constructs the Agent, subscribes to its
// bus topic exactly once, and registers it on the server.
//
// Construction has a deliberate two-phase order: the sub_agent tool needs
// a Supervisor, a Supervisor needs a subagent.Factory, and
// agent.NewSubAgentFactory needs the very Options used to build this
// session's own Agent, so the registry is built first without
// sub_agent, the Agent is built against it, and only then is sub_agent
// registered into the same Registry, before any Prompt call can read it.
func (s *Server) newSession(ctx context.Context, id string, cfg *config.Config) (*sessionState, error) {
	if _, err := s.store.Create(ctx, id, cfg.WorkingDir); err != nil {
		return nil, fmt.Errorf("rpc: create session: %w", err)
	}

	discovered, err := skills.Discover(cfg.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("rpc: discover skills: %w", err)
	}
	mgr := skills.NewManager(discovered)

	registry := itool.NewRegistry()
	registry.Register(skills.UseSkillTool{Manager: mgr})
	registry.Register(&subagent.AskParentTool{})
	registry.Register(&askUserTool{
		Ask: func(tc itool.Context, question string) (string, error) {
			return s.askUser(tc.Ctx, tc.SessionID, question)
		},
	})

	disabled := make(map[string]bool, len(cfg.Tools.Disabled))
	for _, name := range cfg.Tools.Disabled {
		disabled[name] = true
	}

	var mcpManager *mcp.Manager
	if cfg.Features.MCP && len(cfg.MCPServers) > 0 {
		mcpManager = mcp.NewManager(mcp.DefaultClientFactory)
		mcpManager.Configure(cfg.MCPServers)
		for _, srv := range mcpManager.ConnectAll(ctx) {
			for _, info := range srv.Tools {
				registry.Register(&mcp.ToolAdapter{Manager: mcpManager, Server: srv.Name, Info: info})
			}
		}
	}

	opts := agent.Options{
		SessionID:     id,
		WorkingDir:    cfg.WorkingDir,
		SystemPrompt:  cfg.SystemPrompt,
		Model:         cfg.Model,
		Features:      cfg.Features,
		DisabledTools: disabled,
		AutoSave:      cfg.Session.AutoSave,
		AutoTitle:     cfg.Session.AutoTitle,
		Store:         s.store,
		Bus:           s.bus,
		Provider:      s.prov,
		Registry:      registry,
		Skills:        mgr,
		RetryPolicy:   retryPolicyFrom(cfg.Retry),
		Metrics:       s.metrics,
		AskUser: func(ctx context.Context, question string) (string, error) {
			return s.askUser(ctx, id, question)
		},
		ApprovalPatterns: cfg.Approval.RequireApproval,
		Confirm: func(ctx context.Context, sessionID, title, message string, actions []string) (string, error) {
			return s.confirm(ctx, sessionID, title, message, actions)
		},
	}
	a := agent.New(opts)

	supervisor := subagent.NewSupervisor(agent.NewSubAgentFactory(opts), cfg.Features.SubAgents)
	registry.Register(&subagent.Tool{
		Supervisor:      supervisor,
		NewSubSessionID: func() string { return id + ":" + uuid.NewString()[:8] },
		Broadcast:       s.bus.Broadcast,
		Metrics:         s.metrics,
	})

	st := &sessionState{id: id, cfg: cfg, agent: a, skills: mgr, registry: registry, supervisor: supervisor, mcp: mcpManager}

	ch, cancel := s.bus.Subscribe(id)
	st.unsubscribe = cancel
	go s.forwardEvents(ch)

	s.sessMu.Lock()
	s.sessions[id] = st
	s.sessMu.Unlock()
	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}

	return st, nil
}

// forwardEvents relays this session's bus traffic to the client as
// agent/event notifications, subscribing exactly once for the session's
// lifetime.
func (s *Server) forwardEvents(ch <-chan event.AgentEvent) {
	for evt := range ch {
		s.Notify("agent/event", evt)
	}
}

func (s *Server) session(id string) (*sessionState, bool) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	st, ok := s.sessions[id]
	return st, ok
}

func (s *Server) removeSession(id string) {
	s.sessMu.Lock()
	st, ok := s.sessions[id]
	delete(s.sessions, id)
	s.sessMu.Unlock()
	if ok && st.unsubscribe != nil {
		st.unsubscribe()
	}
	if ok && st.mcp != nil {
		st.mcp.CloseAll()
	}
	if ok && s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
	}
}
