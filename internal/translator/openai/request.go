// Package openai translates between the OpenAI chat-completions surface and
// the upstream session-oriented protocol. Requests are rewritten message by
// message into the upstream envelope; responses are reassembled from the
// upstream stream into OpenAI chunks, including the inversion of the textual
// tool protocol back into structured tool calls.
package openai

import (
	"strings"

	"github.com/google/uuid"
	"github.com/sessionbridge/sessionbridge/internal/session"
	"github.com/sessionbridge/sessionbridge/internal/toolcodec"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// featureEnvelope is the constant metadata the upstream protocol requires on
// every message. Not business logic; the upstream rejects messages without it.
const featureEnvelope = `{"thinking_enabled":false,"web_search":false}`

// BuildUpstreamRequest turns an OpenAI-shaped request into the upstream
// completion payload for the given session snapshot.
//
// On the first turn (session has no parent yet) all leading system messages
// collapse into one, with the tool-use instruction block appended when tools
// are present. On continuation turns system messages are omitted entirely:
// the upstream model already holds them from turn one, and only the messages
// after the last assistant turn are forwarded, since everything earlier
// already lives in the upstream chain.
func BuildUpstreamRequest(rawJSON []byte, sess session.Session, stream bool) ([]byte, error) {
	out := `{"chat_id":"","parent_id":null,"model":"","stream":false,"messages":[]}`
	out, _ = sjson.Set(out, "chat_id", sess.UpstreamChatID)
	if sess.UpstreamParentID != "" {
		out, _ = sjson.Set(out, "parent_id", sess.UpstreamParentID)
	}
	out, _ = sjson.Set(out, "model", gjson.GetBytes(rawJSON, "model").String())
	out, _ = sjson.Set(out, "stream", stream)

	firstTurn := sess.UpstreamParentID == ""
	messages := gjson.GetBytes(rawJSON, "messages").Array()
	toolNames := collectToolCallNames(messages)

	if firstTurn {
		if sys := buildSystemMessage(messages, gjson.GetBytes(rawJSON, "tools")); sys != "" {
			out = appendUpstreamMessage(out, sess, "system", sys)
		}
	} else {
		messages = continuationWindow(messages)
	}

	for _, msg := range messages {
		role := msg.Get("role").String()
		switch role {
		case "system":
			// Collapsed on the first turn, dropped on continuation.
			continue
		case "assistant":
			// The upstream protocol has no notion of a structured call;
			// only the natural-language content survives.
			content := flattenContent(msg.Get("content"))
			if content == "" {
				continue
			}
			out = appendUpstreamMessage(out, sess, "assistant", content)
		case "tool":
			out = appendUpstreamMessage(out, sess, "user", rewriteToolResult(msg, toolNames))
		default:
			out = appendUpstreamMessage(out, sess, "user", flattenContent(msg.Get("content")))
		}
	}

	return []byte(out), nil
}

// continuationWindow returns the messages after the last assistant message:
// the new turn. Earlier turns are already threaded upstream via the parent
// pointer, so resending them would duplicate context.
func continuationWindow(messages []gjson.Result) []gjson.Result {
	last := -1
	for i, msg := range messages {
		if msg.Get("role").String() == "assistant" {
			last = i
		}
	}
	return messages[last+1:]
}

// buildSystemMessage collapses the system messages into a single block and
// appends the encoded tool instructions when tools were supplied.
func buildSystemMessage(messages []gjson.Result, tools gjson.Result) string {
	parts := make([]string, 0, 2)
	for _, msg := range messages {
		if msg.Get("role").String() != "system" {
			continue
		}
		if content := flattenContent(msg.Get("content")); content != "" {
			parts = append(parts, content)
		}
	}
	if tools.Exists() && tools.IsArray() && len(tools.Array()) > 0 {
		parts = append(parts, toolcodec.EncodeInstructions([]byte(tools.Raw)))
	}
	return strings.Join(parts, "\n\n")
}

// rewriteToolResult rewrites a role:tool message into an ordinary user
// message attributed to the originating tool, so the upstream model can tell
// which of its invocations produced the output.
func rewriteToolResult(msg gjson.Result, toolNames map[string]string) string {
	name := toolNames[msg.Get("tool_call_id").String()]
	if name == "" {
		name = "unknown"
	}
	content := flattenContent(msg.Get("content"))
	if strings.TrimSpace(content) == "" {
		content = "Tool completed successfully with no output."
	}
	return "Tool Result from " + name + ":\n" + content
}

// collectToolCallNames maps tool_call ids back to the function names the
// assistant emitted them with.
func collectToolCallNames(messages []gjson.Result) map[string]string {
	names := make(map[string]string)
	for _, msg := range messages {
		if msg.Get("role").String() != "assistant" {
			continue
		}
		msg.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
			id := call.Get("id").String()
			if name := call.Get("function.name").String(); id != "" && name != "" {
				names[id] = name
			}
			return true
		})
	}
	return names
}

// flattenContent normalises message content to one string. Multimodal part
// arrays become their text parts joined by newlines; non-text parts are
// dropped, this gateway does not forward binary payloads upstream.
func flattenContent(content gjson.Result) string {
	if !content.Exists() || content.Type == gjson.Null {
		return ""
	}
	if !content.IsArray() {
		return content.String()
	}
	parts := make([]string, 0, 4)
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() == "text" {
			parts = append(parts, part.Get("text").String())
		}
		return true
	})
	return strings.Join(parts, "\n")
}

// appendUpstreamMessage appends one message in the upstream envelope: fresh
// unique id, the session's parent pointer, and the constant feature config.
func appendUpstreamMessage(out string, sess session.Session, role, content string) string {
	msg := `{"id":"","parent_id":null,"role":"","content":"","feature_config":{}}`
	msg, _ = sjson.Set(msg, "id", uuid.NewString())
	if sess.UpstreamParentID != "" {
		msg, _ = sjson.Set(msg, "parent_id", sess.UpstreamParentID)
	}
	msg, _ = sjson.Set(msg, "role", role)
	msg, _ = sjson.Set(msg, "content", content)
	msg, _ = sjson.SetRaw(msg, "feature_config", featureEnvelope)
	out, _ = sjson.SetRaw(out, "messages.-1", msg)
	return out
}
