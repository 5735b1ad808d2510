package agent

import (
	"context"
	"strings"

	"github.com/opalhq/opal/internal/provider"
	"github.com/opalhq/opal/internal/streamparser"
	"github.com/opalhq/opal/pkg/message"
)

// generateTitle is the one-shot background title-generation call: a
// short non-streamed completion summarizing the
// conversation's first couple of messages into a title, set via
// SetTitle. Failures are swallowed; an untitled session is harmless.
func (a *Agent) generateTitle(ctx context.Context, path []message.Message) {
	var transcript strings.Builder
	limit := len(path)
	if limit > 4 {
		limit = 4
	}
	for _, m := range path[:limit] {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	req := &provider.CompletionRequest{
		Model:  a.opts.Model.ID,
		System: "Generate a short (max 6 words) title for this conversation. Reply with the title only.",
		Messages: []message.Message{
			message.NewUserMessage(transcript.String()),
		},
	}

	stream, err := a.opts.Provider.Complete(ctx, req)
	if err != nil {
		return
	}
	turn := streamparser.NewParser().Consume(stream, streamparser.Sink{})
	title := strings.TrimSpace(turn.Text)
	if title == "" {
		return
	}
	_ = a.opts.Store.SetTitle(ctx, a.sessionID(), title)
}
