package context

import (
	"strings"
	"testing"
)

func TestWindowForModel(t *testing.T) {
	tests := []struct {
		name    string
		modelID string
		want    int
	}{
		{"exact match", "gpt-4", 8192},
		{"prefix match dated release", "claude-sonnet-4-20250514", 200000},
		{"longest prefix wins", "gpt-4-turbo-preview", 128000},
		{"prefix not shadowed by shorter", "gpt-4o-mini", 128000},
		{"unknown model falls back", "some-local-model", DefaultWindowTokens},
		{"empty id falls back", "", DefaultWindowTokens},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WindowForModel(tt.modelID); got != tt.want {
				t.Errorf("WindowForModel(%q) = %d, want %d", tt.modelID, got, tt.want)
			}
		})
	}
}

func TestRegisterModelWindow(t *testing.T) {
	RegisterModelWindow("test-model-x", 42000)
	if got := WindowForModel("test-model-x"); got != 42000 {
		t.Errorf("WindowForModel after register = %d, want 42000", got)
	}
	if got := WindowForModel("test-model-x-20260101"); got != 42000 {
		t.Errorf("prefix match on registered model = %d, want 42000", got)
	}

	// Invalid registrations are ignored.
	RegisterModelWindow("", 1000)
	RegisterModelWindow("test-model-y", 0)
	if got := WindowForModel("test-model-y"); got != DefaultWindowTokens {
		t.Errorf("WindowForModel after invalid register = %d, want default", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"short non-empty rounds up to one", "ab", 1},
		{"ascii", strings.Repeat("a", 400), 100},
		{"multi-byte runes cost more", strings.Repeat("é", 400), 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEstimateTokensForMessages(t *testing.T) {
	if got := EstimateTokensForMessages(nil); got != 0 {
		t.Errorf("EstimateTokensForMessages(nil) = %d, want 0", got)
	}
	// Two messages of 40 bytes: 10 tokens each plus overhead apiece.
	contents := []string{strings.Repeat("x", 40), strings.Repeat("y", 40)}
	want := 2 * (10 + messageOverheadTokens)
	if got := EstimateTokensForMessages(contents); got != want {
		t.Errorf("EstimateTokensForMessages = %d, want %d", got, want)
	}
}
