package rpc

import (
	"context"
	"encoding/json"
	"os"
)

// authStatus reports whether a usable API key is configured. There is no
// OAuth device-flow identity provider anywhere in this module's
// dependency stack (see DESIGN.md), so auth/login and auth/poll degrade
// to the one credential path that is real: an operator-supplied API key,
// either from the environment or set live via auth/set_key.
func (s *Server) authStatus() authStatusView {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	if s.apiKey != "" || os.Getenv("ANTHROPIC_API_KEY") != "" {
		return authStatusView{Status: "authenticated", Provider: s.cfg.Model.Provider}
	}
	return authStatusView{Status: "unauthenticated", Provider: s.cfg.Model.Provider}
}

func handleAuthStatus(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	return s.authStatus(), nil
}

type authLoginParams struct {
	SessionID string `json:"session_id"`
}

// handleAuthLogin starts the only login flow this module actually
// implements: there is no OAuth device-flow identity provider in this
// module's dependency stack (see DESIGN.md), so "login" means collecting
// a raw API key. When the request names a session_id it drives the
// client/input round-trip directly (masked, since the key is a secret)
// and applies the result; a caller with no session in scope yet (e.g. a
// CLI invoked before session/start) falls back to the auth/set_key
// instructions so it isn't forced to synthesize a session_id it has no
// other use for.
func handleAuthLogin(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var p authLoginParams
	_ = json.Unmarshal(params, &p)
	if p.SessionID == "" {
		return map[string]any{
			"method":       "api_key",
			"instructions": "call auth/set_key with a valid API key",
		}, nil
	}

	key, err := s.input(ctx, p.SessionID, "Enter your Anthropic API key", true)
	if err != nil {
		return nil, internalError(err)
	}
	if key == "" {
		return nil, invalidParams("api_key must not be empty")
	}
	s.authMu.Lock()
	s.apiKey = key
	s.authMu.Unlock()
	return s.authStatus(), nil
}

func handleAuthPoll(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	return s.authStatus(), nil
}

type authSetKeyParams struct {
	APIKey string `json:"api_key"`
}

func handleAuthSetKey(ctx context.Context, s *Server, params json.RawMessage) (any, *Error) {
	var p authSetKeyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(err.Error())
	}
	if p.APIKey == "" {
		return nil, invalidParams("api_key must not be empty")
	}
	s.authMu.Lock()
	s.apiKey = p.APIKey
	s.authMu.Unlock()
	return s.authStatus(), nil
}
