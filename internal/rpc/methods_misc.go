package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/opalhq/opal/internal/config"
	"github.com/opalhq/opal/internal/taskstore"
)

// Version is the build version string reported by opal/version. It is
// taken from config.Version, which -ldflags sets at build time ("dev"
// otherwise).
var Version = config.Version

type tasksListParams struct {
	SessionID  string `json:"session_id"`
	WorkingDir string `json:"working_dir"`
}

func handleTasksList(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var p tasksListParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err.Error())
		}
	}
	scope := taskstore.ScopeKey(p.SessionID, p.WorkingDir)
	tasks, err := s.tasks.List(ctx, scope)
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]any{"tasks": tasks}, nil
}

// cliState is the on-disk `cli_state.json` shape: arbitrary client
// settings plus a bounded, newest-first command history.
type cliState struct {
	Settings map[string]any `json:"settings"`
	History  []string       `json:"history"`
}

const maxHistoryEntries = 200

var settingsMu sync.Mutex

func settingsPath(dataDir string) string {
	return filepath.Join(dataDir, "cli_state.json")
}

func loadCLIState(dataDir string) (*cliState, error) {
	raw, err := os.ReadFile(settingsPath(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return &cliState{Settings: map[string]any{}}, nil
		}
		return nil, err
	}
	var st cliState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	if st.Settings == nil {
		st.Settings = map[string]any{}
	}
	return &st, nil
}

func saveCLIState(dataDir string, st *cliState) error {
	if len(st.History) > maxHistoryEntries {
		st.History = st.History[:maxHistoryEntries]
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(settingsPath(dataDir), raw, 0o644)
}

func handleSettingsGet(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	st, err := loadCLIState(s.dataDir)
	if err != nil {
		return nil, internalError(err)
	}
	return st, nil
}

func handleSettingsSave(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var incoming cliState
	if err := json.Unmarshal(params, &incoming); err != nil {
		return nil, invalidParams(err.Error())
	}
	settingsMu.Lock()
	defer settingsMu.Unlock()

	st, err := loadCLIState(s.dataDir)
	if err != nil {
		return nil, internalError(err)
	}
	for k, v := range incoming.Settings {
		st.Settings[k] = v
	}
	if len(incoming.History) > 0 {
		st.History = append(incoming.History, st.History...)
	}
	if err := saveCLIState(s.dataDir, st); err != nil {
		return nil, internalError(err)
	}
	return st, nil
}

func handleOpalConfigGet(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	return s.cfg.Clone(), nil
}

// distributionInfo is the `{name, cookie?}` value of `opal/config/set`'s
// `distribution` field. This process does not implement actual
// inter-process distribution; the handler records and echoes the
// requested identity so clients can round-trip it.
type distributionInfo struct {
	Name   string `json:"name"`
	Cookie string `json:"cookie,omitempty"`
	Active bool   `json:"active"`
}

type opalConfigSetParams struct {
	Model        *config.Model        `json:"model"`
	Features     *config.Features     `json:"features"`
	Tools        *config.ToolsConfig  `json:"tools"`
	Retry        *config.RetryConfig  `json:"retry"`
	Approval     *config.ApprovalConfig `json:"approval"`
	Distribution json.RawMessage      `json:"distribution"`
}

func handleOpalConfigSet(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var p opalConfigSetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err.Error())
	}

	if p.Model != nil {
		s.cfg.Model = *p.Model
	}
	if p.Features != nil {
		s.cfg.Features = *p.Features
	}
	if p.Tools != nil {
		s.cfg.Tools = *p.Tools
	}
	if p.Retry != nil {
		s.cfg.Retry = *p.Retry
	}
	if p.Approval != nil {
		s.cfg.Approval = *p.Approval
	}

	if len(p.Distribution) > 0 {
		s.distMu.Lock()
		if string(p.Distribution) == "null" {
			s.distInfo = nil
		} else {
			var d distributionInfo
			if err := json.Unmarshal(p.Distribution, &d); err != nil {
				s.distMu.Unlock()
				return nil, invalidParams(fmt.Sprintf("distribution: %v", err))
			}
			d.Active = true
			s.distInfo = &d
		}
		s.distMu.Unlock()
	}

	s.distMu.Lock()
	dist := s.distInfo
	s.distMu.Unlock()

	return map[string]any{"config": s.cfg.Clone(), "distribution": dist}, nil
}

func handleOpalPing(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	return map[string]any{"pong": true}, nil
}

func handleOpalVersion(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	return map[string]any{"version": Version}, nil
}
