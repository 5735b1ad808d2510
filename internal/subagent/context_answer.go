package subagent

import "context"

// Answerer resolves a sub-agent's ask_parent question to an answer.
type Answerer func(question string) (string, error)

type answererKey struct{}

// WithAnswerer attaches ans to ctx so AskParentTool can retrieve it
// without a registry-wide, cross-session field: each sub-agent run
// carries its own Answerer bound to its actual parent.
func WithAnswerer(ctx context.Context, ans Answerer) context.Context {
	return context.WithValue(ctx, answererKey{}, ans)
}

// AnswererFromContext retrieves the Answerer WithAnswerer attached, if any.
func AnswererFromContext(ctx context.Context) (Answerer, bool) {
	ans, ok := ctx.Value(answererKey{}).(Answerer)
	return ans, ok
}
