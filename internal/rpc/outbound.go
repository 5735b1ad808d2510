package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// callClient issues a server→client request (client/confirm,
// client/input, client/ask_user) and blocks until the client's reply
// arrives or ctx is cancelled. The id is prefixed with s2cPrefix so it can
// never collide with a client-issued request id on the same stream.
func (s *Server) callClient(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := s2cPrefix + strconv.FormatInt(s.nextS2C.Add(1), 10)

	ch := make(chan *Response, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()

	cleanup := func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}

	raw, err := json.Marshal(params)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("rpc: marshal %s params: %w", method, err)
	}
	s.writeLine(Request{JSONRPC: "2.0", ID: id, Method: method, Params: raw})

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("rpc: client returned error for %s: %s", method, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

// askUser implements the client round-trip backing the ask_user tool and,
// via agent.Options.AskUser, a sub-agent's ask_parent fallback.
func (s *Server) askUser(ctx context.Context, sessionID, question string) (string, error) {
	result, err := s.callClient(ctx, "client/ask_user", map[string]any{
		"session_id": sessionID,
		"question":   question,
	})
	if err != nil {
		return "", err
	}
	var parsed struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("rpc: parse client/ask_user result: %w", err)
	}
	return parsed.Answer, nil
}

// input implements the client/input round-trip: a free-text prompt the
// client renders (optionally masked when sensitive) and replies to with
// the text the operator typed.
func (s *Server) input(ctx context.Context, sessionID, prompt string, sensitive bool) (string, error) {
	result, err := s.callClient(ctx, "client/input", map[string]any{
		"session_id": sessionID,
		"prompt":     prompt,
		"sensitive":  sensitive,
	})
	if err != nil {
		return "", err
	}
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("rpc: parse client/input result: %w", err)
	}
	return parsed.Text, nil
}

// confirm implements the client/confirm round-trip an approval-gated tool
// call blocks on before dispatch.
func (s *Server) confirm(ctx context.Context, sessionID, title, message string, actions []string) (string, error) {
	result, err := s.callClient(ctx, "client/confirm", map[string]any{
		"session_id": sessionID,
		"title":      title,
		"message":    message,
		"actions":    actions,
	})
	if err != nil {
		return "", err
	}
	var parsed struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("rpc: parse client/confirm result: %w", err)
	}
	return parsed.Action, nil
}
