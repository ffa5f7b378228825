package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateCost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		model string
		usage TokenUsage
		want  float64
	}{
		{
			name:  "haiku",
			model: "claude-haiku-4-5-20251001",
			usage: TokenUsage{InputTokens: 1_000_000, OutputTokens: 100_000},
			want:  0.80 + 0.40,
		},
		{
			name:  "sonnet",
			model: "claude-sonnet-4-5-20250929",
			usage: TokenUsage{InputTokens: 1_000_000, OutputTokens: 100_000},
			want:  3.00 + 1.50,
		},
		{
			name:  "unknown model returns 0",
			model: "unknown",
			usage: TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000},
			want:  0,
		},
		{
			name:  "zero tokens",
			model: "claude-haiku-4-5-20251001",
			want:  0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, tt.usage.EstimateCost(tt.model), 0.001)
		})
	}
}

func TestToSDKMessages_Roles(t *testing.T) {
	t.Parallel()

	out := toSDKMessages([]Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "bye"},
	})

	assert.Len(t, out, 3)
	assert.Equal(t, "user", string(out[0].Role))
	assert.Equal(t, "assistant", string(out[1].Role))
	assert.Equal(t, "user", string(out[2].Role))
}
