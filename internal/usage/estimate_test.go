package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	assert.Greater(t, CountTokens("hello world"), 0)
	assert.Greater(t, CountTokens("a much longer sentence with many more words in it"), CountTokens("short"))
}

func TestEstimate(t *testing.T) {
	payload := `{"messages":[
		{"role":"system","content":"You are terse."},
		{"role":"user","content":"hello there"}
	]}`

	u := Estimate([]byte(payload), "hi, how can I help?")
	require.NotNil(t, u)
	assert.Greater(t, u.PromptTokens, 0)
	assert.Greater(t, u.CompletionTokens, 0)
	assert.Equal(t, u.PromptTokens+u.CompletionTokens, u.TotalTokens)
}

func TestEstimateEmptyCompletion(t *testing.T) {
	u := Estimate([]byte(`{"messages":[{"role":"user","content":"hi"}]}`), "")
	require.NotNil(t, u)
	assert.Equal(t, 0, u.CompletionTokens)
	assert.Equal(t, u.PromptTokens, u.TotalTokens)
}
