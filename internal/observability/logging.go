package observability

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide structured logger. It always writes
// to stderr: stdout is reserved for JSON-RPC protocol frames, and
// mixing log lines into it would corrupt the transport.
func NewLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// SessionLogger returns a logger scoped to one session id, attached as a
// structured field rather than interpolated into messages.
func SessionLogger(base *slog.Logger, sessionID string) *slog.Logger {
	return base.With("session_id", sessionID)
}
