package openai

import (
	"testing"

	"github.com/sessionbridge/sessionbridge/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func firstTurnSession() session.Session {
	return session.Session{ConversationKey: "key", UpstreamChatID: "chat-1"}
}

func continuationSession() session.Session {
	return session.Session{ConversationKey: "key", UpstreamChatID: "chat-1", UpstreamParentID: "msg-9"}
}

func TestBuildUpstreamRequestFirstTurn(t *testing.T) {
	raw := `{
		"model":"default",
		"messages":[
			{"role":"system","content":"You are terse."},
			{"role":"system","content":"Answer in English."},
			{"role":"user","content":"hello"}
		],
		"tools":[{"type":"function","function":{"name":"read_file","parameters":{"properties":{"path":{"type":"string"}},"required":["path"]}}}]
	}`

	payload, err := BuildUpstreamRequest([]byte(raw), firstTurnSession(), true)
	require.NoError(t, err)
	body := gjson.ParseBytes(payload)

	assert.Equal(t, "chat-1", body.Get("chat_id").String())
	assert.Equal(t, gjson.Null, body.Get("parent_id").Type)
	assert.Equal(t, "default", body.Get("model").String())
	assert.True(t, body.Get("stream").Bool())

	msgs := body.Get("messages").Array()
	require.Len(t, msgs, 2)

	sys := msgs[0]
	assert.Equal(t, "system", sys.Get("role").String())
	content := sys.Get("content").String()
	assert.Contains(t, content, "You are terse.")
	assert.Contains(t, content, "Answer in English.")
	assert.Contains(t, content, "# Available Tools")
	assert.Contains(t, content, "## read_file")

	usr := msgs[1]
	assert.Equal(t, "user", usr.Get("role").String())
	assert.Equal(t, "hello", usr.Get("content").String())
	assert.NotEmpty(t, usr.Get("id").String())
	assert.Equal(t, gjson.Null, usr.Get("parent_id").Type)
	assert.False(t, usr.Get("feature_config.thinking_enabled").Bool())
	assert.False(t, usr.Get("feature_config.web_search").Bool())
}

func TestBuildUpstreamRequestFirstTurnNoTools(t *testing.T) {
	raw := `{"model":"default","messages":[{"role":"user","content":"hi"}]}`
	payload, err := BuildUpstreamRequest([]byte(raw), firstTurnSession(), false)
	require.NoError(t, err)
	body := gjson.ParseBytes(payload)

	msgs := body.Get("messages").Array()
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Get("role").String())
	assert.False(t, body.Get("stream").Bool())
}

func TestBuildUpstreamRequestContinuation(t *testing.T) {
	raw := `{
		"model":"default",
		"messages":[
			{"role":"system","content":"You are terse."},
			{"role":"user","content":"hello"},
			{"role":"assistant","content":"hi"},
			{"role":"user","content":"next question"}
		]
	}`

	payload, err := BuildUpstreamRequest([]byte(raw), continuationSession(), true)
	require.NoError(t, err)
	body := gjson.ParseBytes(payload)

	assert.Equal(t, "msg-9", body.Get("parent_id").String())

	// Only the new turn is forwarded; the earlier exchange and the system
	// prompt already live in the upstream chain.
	msgs := body.Get("messages").Array()
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Get("role").String())
	assert.Equal(t, "next question", msgs[0].Get("content").String())
	assert.Equal(t, "msg-9", msgs[0].Get("parent_id").String())
}

func TestBuildUpstreamRequestToolCycle(t *testing.T) {
	raw := `{
		"model":"default",
		"messages":[
			{"role":"user","content":"read /a.js"},
			{"role":"assistant","content":"I'll read it.","tool_calls":[{"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"/a.js\"}"}}]},
			{"role":"tool","tool_call_id":"call_1","content":"console.log(1)"}
		]
	}`

	payload, err := BuildUpstreamRequest([]byte(raw), continuationSession(), false)
	require.NoError(t, err)
	msgs := gjson.ParseBytes(payload).Get("messages").Array()

	// Continuation window starts after the assistant message: only the tool
	// result goes upstream, rewritten as an attributed user message.
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Get("role").String())
	assert.Equal(t, "Tool Result from read_file:\nconsole.log(1)", msgs[0].Get("content").String())
}

func TestBuildUpstreamRequestEmptyToolResult(t *testing.T) {
	raw := `{
		"model":"default",
		"messages":[
			{"role":"user","content":"do it"},
			{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"touch","arguments":"{}"}}]},
			{"role":"tool","tool_call_id":"call_1","content":""}
		]
	}`

	payload, err := BuildUpstreamRequest([]byte(raw), continuationSession(), false)
	require.NoError(t, err)
	msgs := gjson.ParseBytes(payload).Get("messages").Array()

	require.Len(t, msgs, 1)
	assert.Equal(t, "Tool Result from touch:\nTool completed successfully with no output.", msgs[0].Get("content").String())
}

func TestBuildUpstreamRequestUnknownToolCallID(t *testing.T) {
	raw := `{
		"model":"default",
		"messages":[
			{"role":"user","content":"do it"},
			{"role":"assistant","content":"running"},
			{"role":"tool","tool_call_id":"call_missing","content":"output"}
		]
	}`

	payload, err := BuildUpstreamRequest([]byte(raw), continuationSession(), false)
	require.NoError(t, err)
	msgs := gjson.ParseBytes(payload).Get("messages").Array()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Tool Result from unknown:\noutput", msgs[0].Get("content").String())
}

func TestBuildUpstreamRequestMultimodalContent(t *testing.T) {
	raw := `{
		"model":"default",
		"messages":[
			{"role":"user","content":[
				{"type":"text","text":"first part"},
				{"type":"image_url","image_url":{"url":"data:..."}},
				{"type":"text","text":"second part"}
			]}
		]
	}`

	payload, err := BuildUpstreamRequest([]byte(raw), firstTurnSession(), false)
	require.NoError(t, err)
	msgs := gjson.ParseBytes(payload).Get("messages").Array()
	require.Len(t, msgs, 1)
	assert.Equal(t, "first part\nsecond part", msgs[0].Get("content").String())
}

func TestBuildUpstreamRequestUniqueMessageIDs(t *testing.T) {
	raw := `{"model":"default","messages":[
		{"role":"user","content":"one"},
		{"role":"assistant","content":"two"},
		{"role":"user","content":"three"}
	]}`

	payload, err := BuildUpstreamRequest([]byte(raw), firstTurnSession(), false)
	require.NoError(t, err)
	msgs := gjson.ParseBytes(payload).Get("messages").Array()
	require.Len(t, msgs, 3)

	seen := map[string]bool{}
	for _, m := range msgs {
		id := m.Get("id").String()
		assert.NotEmpty(t, id)
		assert.False(t, seen[id], "message ids must be unique")
		seen[id] = true
	}
}
