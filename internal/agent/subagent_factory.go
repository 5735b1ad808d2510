package agent

import (
	"context"

	"github.com/google/uuid"
	"github.com/opalhq/opal/internal/session"
	"github.com/opalhq/opal/internal/subagent"
)

// NewSubAgentFactory builds a subagent.Factory that spawns a depth-1
// Agent inheriting the parent's system prompt, model, provider, working
// directory, and config unless overridden. Sub-agents never persist to
// disk (session.NopPersister) and use an in-memory-only Store distinct
// from the parent's. Sharing the parent's Registry pointer is safe:
// both the advertised schema list and the tool runner's dispatch gate
// resolve through the child's own active set, where Depth > 0 removes
// ask_user and sub_agent.
func NewSubAgentFactory(parent Options) subagent.Factory {
	return func(cfg subagent.Config) (subagent.Runner, error) {
		subStore := session.NewStore(session.NopPersister{})

		subSessionID := cfg.SubSessionID
		if subSessionID == "" {
			subSessionID = "sub-" + uuid.NewString()
		}
		if _, err := subStore.Create(context.Background(), subSessionID, parent.WorkingDir); err != nil {
			return nil, err
		}

		systemPrompt := parent.SystemPrompt
		if cfg.SystemPrompt != "" {
			systemPrompt = cfg.SystemPrompt
		}

		child := Options{
			SessionID:     subSessionID,
			Depth:         cfg.Depth + 1,
			WorkingDir:    parent.WorkingDir,
			SystemPrompt:  systemPrompt,
			Model:         parent.Model,
			Features:      parent.Features,
			DisabledTools: parent.DisabledTools,
			AutoSave:      false,
			AutoTitle:     false,
			Store:         subStore,
			Bus:           parent.Bus,
			Provider:      parent.Provider,
			Registry:      parent.Registry,
			Skills:        parent.Skills,
			RetryPolicy:   parent.RetryPolicy,
			Metrics:       parent.Metrics,
			AskUser:       parent.AskUser,
		}
		return New(child), nil
	}
}
