package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamEvent(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		wantOK bool
		want   Event
	}{
		{
			name:   "metadata frame",
			line:   `data: {"meta":{"parent_id":"p-1","message_id":"m-1"}}`,
			wantOK: true,
			want:   Event{Kind: EventMetadata, ParentID: "p-1", MessageID: "m-1"},
		},
		{
			name:   "content delta",
			line:   `data: {"choices":[{"delta":{"content":"hello"}}]}`,
			wantOK: true,
			want:   Event{Kind: EventContent, Content: "hello"},
		},
		{
			name:   "done sentinel",
			line:   `data: [DONE]`,
			wantOK: true,
			want:   Event{Kind: EventDone},
		},
		{
			name:   "blank line",
			line:   "",
			wantOK: false,
		},
		{
			name:   "comment line",
			line:   ": keep-alive",
			wantOK: false,
		},
		{
			name:   "non-data field",
			line:   "event: ping",
			wantOK: false,
		},
		{
			name:   "empty data payload",
			line:   "data: ",
			wantOK: false,
		},
		{
			name:   "invalid json dropped",
			line:   `data: {not json`,
			wantOK: false,
		},
		{
			name:   "payload with nothing of interest",
			line:   `data: {"foo":1}`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := parseStreamEvent([]byte(tt.line))
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, ev)
			}
		})
	}
}

func TestParseStreamEventUsage(t *testing.T) {
	// Usage riding on a content frame.
	ev, ok := parseStreamEvent([]byte(`data: {"choices":[{"delta":{"content":"x"}}],"usage":{"prompt_tokens":3,"completion_tokens":7,"total_tokens":10}}`))
	require.True(t, ok)
	assert.Equal(t, EventContent, ev.Kind)
	require.NotNil(t, ev.Usage)
	assert.Equal(t, 10, ev.Usage.TotalTokens)

	// Usage-only frame.
	ev, ok = parseStreamEvent([]byte(`data: {"usage":{"prompt_tokens":3,"completion_tokens":7,"total_tokens":10}}`))
	require.True(t, ok)
	assert.Equal(t, EventUsage, ev.Kind)
	require.NotNil(t, ev.Usage)
	assert.Equal(t, 3, ev.Usage.PromptTokens)
	assert.Equal(t, 7, ev.Usage.CompletionTokens)
}

func TestParseStreamEventEmptyContentDelta(t *testing.T) {
	// An existing-but-empty content field is still a content event; the
	// transcript layer treats it as a no-op.
	ev, ok := parseStreamEvent([]byte(`data: {"choices":[{"delta":{"content":""}}]}`))
	require.True(t, ok)
	assert.Equal(t, EventContent, ev.Kind)
	assert.Empty(t, ev.Content)
}
