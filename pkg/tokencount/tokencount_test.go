package tokencount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowTokens(t *testing.T) {
	assert.Equal(t, 400000, WindowTokens("gpt-5.2", 0))
	assert.Equal(t, 400000, WindowTokens("GPT-5.2", 0))
	assert.Equal(t, 400000, WindowTokens("gpt-5.2-mini", 0))
	assert.Equal(t, 0, WindowTokens("some-other-model", 0))
	assert.Equal(t, 0, WindowTokens("", 0))
	assert.Equal(t, 123, WindowTokens("gpt-5.2", 123))
	assert.Equal(t, 123, WindowTokens("unknown", 123))
}

func TestCountEmpty(t *testing.T) {
	c := ForModel("gpt-5.2")
	assert.Equal(t, 0, c.Count(""))
	assert.Greater(t, c.Count("hello world, this is a token counting test"), 0)
}

func TestExtractTextChunksString(t *testing.T) {
	assert.Equal(t, []string{"hello"}, ExtractTextChunks("hello"))
	assert.Nil(t, ExtractTextChunks(nil))
}

func TestExtractTextChunksMessageList(t *testing.T) {
	input := []any{
		"plain",
		map[string]any{"role": "user", "content": "string content"},
		map[string]any{
			"role": "user",
			"content": []any{
				"part string",
				map[string]any{"type": "input_text", "text": "block text"},
			},
		},
	}

	chunks := ExtractTextChunks(input)
	assert.Equal(t, []string{"plain", "string content", "part string", "block text"}, chunks)
}

func TestExtractTextChunksStringifiesUnknown(t *testing.T) {
	chunks := ExtractTextChunks([]any{map[string]any{"foo": "bar"}})
	assert.Equal(t, []string{`{"foo":"bar"}`}, chunks)
}

func TestCalculateUnknownModelReportsZeroWindow(t *testing.T) {
	ctx := Calculate("mystery-model", 0, "some instructions", "user input", nil)

	assert.Equal(t, 0, ctx.MaxTokens)
	assert.Greater(t, ctx.UsedTokens, 0)
	assert.Equal(t, 0, ctx.RemainingTokens)
	assert.Equal(t, 0.0, ctx.RemainingRatio)
}

func TestCalculateKnownModel(t *testing.T) {
	ctx := Calculate("gpt-5.2", 0, "instructions", "input", []string{"tool output"})

	assert.Equal(t, 400000, ctx.MaxTokens)
	assert.Greater(t, ctx.UsedTokens, 0)
	assert.Equal(t, 400000-ctx.UsedTokens, ctx.RemainingTokens)
	assert.InDelta(t, float64(ctx.RemainingTokens)/400000, ctx.RemainingRatio, 1e-9)
}
