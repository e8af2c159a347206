package openai

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sessionbridge/sessionbridge/internal/toolcodec"
	"github.com/sessionbridge/sessionbridge/internal/upstream"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// StreamState tracks the transcript through the streaming turn.
type StreamState int

const (
	// StateAccumulating collects content and watches for a tool tag.
	StateAccumulating StreamState = iota
	// StateToolEmitted means the turn's single tool call has been surfaced;
	// later content is accumulated but never re-emitted as a second call.
	StateToolEmitted
	// StateFinalized means the finish chunk has been produced.
	StateFinalized
	// StateErrored absorbs the transcript after an upstream failure.
	StateErrored
)

// Transcript accumulates one turn's state across upstream chunks. Both the
// incremental OpenAI chunks and the aggregated completion body are
// projections of it, so streaming and non-streaming callers cannot diverge.
type Transcript struct {
	id      string
	model   string
	created int64

	// accumulated is every content fragment seen, for persistence and for
	// tag detection spanning chunk boundaries.
	accumulated strings.Builder
	// forwarded is the text already surfaced to the client as content deltas.
	forwarded strings.Builder
	// pending is accumulated text not yet forwarded: it could still be the
	// start of a tool element.
	pending string

	toolCall   *toolcodec.Invocation
	toolCallID string
	preamble   string
	roleSent   bool

	usage     *upstream.Usage
	parentID  string
	messageID string

	state StreamState
}

// NewTranscript starts a transcript for one in-flight request.
func NewTranscript(model string) *Transcript {
	return &Transcript{
		id:      "chatcmpl-" + uuid.NewString(),
		model:   model,
		created: time.Now().Unix(),
	}
}

// ProcessEvent consumes one upstream event and returns zero or more OpenAI
// chunk payloads to forward. EventDone is handled by Finalize, not here.
func (t *Transcript) ProcessEvent(ev upstream.Event) [][]byte {
	if t.state == StateFinalized || t.state == StateErrored {
		return nil
	}
	if ev.Usage != nil {
		t.usage = ev.Usage
	}

	switch ev.Kind {
	case upstream.EventMetadata:
		if ev.ParentID != "" {
			t.parentID = ev.ParentID
		}
		if ev.MessageID != "" {
			t.messageID = ev.MessageID
		}
		return nil
	case upstream.EventContent:
		return t.processContent(ev.Content)
	case upstream.EventError:
		t.state = StateErrored
		return nil
	default:
		return nil
	}
}

func (t *Transcript) processContent(content string) [][]byte {
	t.accumulated.WriteString(content)
	if t.state == StateToolEmitted {
		// Exactly zero or one tool call per streamed turn; trailing content
		// after the invocation is recorded but not forwarded.
		return nil
	}

	t.pending += content

	if inv, pre, ok := toolcodec.Decode(t.pending); ok {
		t.toolCall = inv
		t.toolCallID = "call_" + uuid.NewString()
		t.pending = ""
		t.state = StateToolEmitted

		chunks := make([][]byte, 0, 3)
		if pre != "" {
			chunks = append(chunks, t.contentChunk(pre))
		}
		// The preamble is everything the client saw as plain text, not just
		// the slice of it that shared a chunk with the tag. Kept verbatim so
		// the aggregated body matches the concatenated deltas exactly.
		t.preamble = t.forwarded.String()
		chunks = append(chunks, t.toolCallStartChunk(), t.toolCallArgsChunk())
		return chunks
	}

	safe, held := toolcodec.SplitSafe(t.pending)
	t.pending = held
	if safe == "" {
		return nil
	}
	return [][]byte{t.contentChunk(safe)}
}

// Finalize ends the stream cleanly. Withheld text gets one last decode pass
// that is allowed to skip unclosed tags, since at end of turn they can no
// longer be completed: a complete tool element after an abandoned tag-shaped
// fragment still becomes the turn's invocation. Text that holds no such
// element is flushed as content. Then the finish chunk and, when usage was
// observed, the usage-only chunk are produced. The caller still writes the
// stream terminator.
func (t *Transcript) Finalize() [][]byte {
	if t.state == StateFinalized || t.state == StateErrored {
		return nil
	}

	chunks := make([][]byte, 0, 4)
	if t.state == StateAccumulating && t.pending != "" {
		if inv, pre, ok := toolcodec.DecodeComplete(t.pending); ok {
			t.toolCall = inv
			t.toolCallID = "call_" + uuid.NewString()
			if pre != "" {
				chunks = append(chunks, t.contentChunk(pre))
			}
			t.preamble = t.forwarded.String()
			chunks = append(chunks, t.toolCallStartChunk(), t.toolCallArgsChunk())
		} else {
			chunks = append(chunks, t.contentChunk(t.pending))
		}
		t.pending = ""
	}
	chunks = append(chunks, t.finishChunk())
	if t.usage != nil {
		chunks = append(chunks, t.usageChunk())
	}
	t.state = StateFinalized
	return chunks
}

// MarkErrored moves the transcript to the absorbing error state so a failed
// turn can never advance the session chain.
func (t *Transcript) MarkErrored() { t.state = StateErrored }

// State returns the current stream state.
func (t *Transcript) State() StreamState { return t.state }

// ParentID returns the upstream parent captured from stream metadata, applied
// to the session only on clean finalization.
func (t *Transcript) ParentID() string { return t.parentID }

// Text returns the full accumulated upstream text.
func (t *Transcript) Text() string { return t.accumulated.String() }

// ToolCallEmitted reports whether this turn surfaced a tool invocation.
func (t *Transcript) ToolCallEmitted() bool { return t.toolCall != nil }

// Usage returns the last-seen usage figures, nil when upstream sent none.
func (t *Transcript) Usage() *upstream.Usage { return t.usage }

// SetUsage installs locally estimated usage when upstream omitted it. It
// never overrides figures the upstream reported.
func (t *Transcript) SetUsage(u *upstream.Usage) {
	if t.usage == nil {
		t.usage = u
	}
}

// FinishReason reports how the turn ended in OpenAI terms.
func (t *Transcript) FinishReason() string {
	if t.toolCall != nil {
		return "tool_calls"
	}
	return "stop"
}

// CompleteResponse projects the transcript into a single chat.completion
// body. When a tool call was emitted the message content is the preamble the
// client already saw as ordinary text, matching the streamed view.
func (t *Transcript) CompleteResponse() []byte {
	out := `{"id":"","object":"chat.completion","created":0,"model":"","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"stop"}],"usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}}`
	out, _ = sjson.Set(out, "id", t.id)
	out, _ = sjson.Set(out, "created", t.created)
	out, _ = sjson.Set(out, "model", t.model)
	out, _ = sjson.Set(out, "choices.0.finish_reason", t.FinishReason())

	if t.toolCall != nil {
		out, _ = sjson.Set(out, "choices.0.message.content", t.preamble)
		call := `{"id":"","type":"function","function":{"name":"","arguments":""}}`
		call, _ = sjson.Set(call, "id", t.toolCallID)
		call, _ = sjson.Set(call, "function.name", t.toolCall.Name)
		call, _ = sjson.Set(call, "function.arguments", t.toolCall.ArgumentsJSON())
		out, _ = sjson.SetRaw(out, "choices.0.message.tool_calls.0", call)
	} else {
		out, _ = sjson.Set(out, "choices.0.message.content", t.accumulated.String())
	}

	if t.usage != nil {
		out, _ = sjson.Set(out, "usage.prompt_tokens", t.usage.PromptTokens)
		out, _ = sjson.Set(out, "usage.completion_tokens", t.usage.CompletionTokens)
		out, _ = sjson.Set(out, "usage.total_tokens", t.usage.TotalTokens)
	}
	return []byte(out)
}

// TranscriptFromResponse replays a complete upstream body through the same
// transcript machinery the streaming path uses.
func TranscriptFromResponse(model string, upstreamBody []byte) *Transcript {
	t := NewTranscript(model)
	root := gjson.ParseBytes(upstreamBody)

	t.ProcessEvent(upstream.Event{
		Kind:      upstream.EventMetadata,
		ParentID:  root.Get("parent_id").String(),
		MessageID: root.Get("message_id").String(),
	})
	if content := root.Get("choices.0.message.content"); content.Exists() {
		t.ProcessEvent(upstream.Event{Kind: upstream.EventContent, Content: content.String()})
	}
	if usage := root.Get("usage"); usage.Exists() {
		t.usage = &upstream.Usage{
			PromptTokens:     int(usage.Get("prompt_tokens").Int()),
			CompletionTokens: int(usage.Get("completion_tokens").Int()),
			TotalTokens:      int(usage.Get("total_tokens").Int()),
		}
	}
	return t
}

func (t *Transcript) baseChunk() string {
	out := `{"id":"","object":"chat.completion.chunk","created":0,"model":"","choices":[{"index":0,"delta":{},"finish_reason":null}]}`
	out, _ = sjson.Set(out, "id", t.id)
	out, _ = sjson.Set(out, "created", t.created)
	out, _ = sjson.Set(out, "model", t.model)
	return out
}

func (t *Transcript) contentChunk(text string) []byte {
	t.forwarded.WriteString(text)
	out := t.baseChunk()
	if !t.roleSent {
		out, _ = sjson.Set(out, "choices.0.delta.role", "assistant")
		t.roleSent = true
	}
	out, _ = sjson.Set(out, "choices.0.delta.content", text)
	return []byte(out)
}

func (t *Transcript) toolCallStartChunk() []byte {
	out := t.baseChunk()
	if !t.roleSent {
		out, _ = sjson.Set(out, "choices.0.delta.role", "assistant")
		t.roleSent = true
	}
	call := `{"index":0,"id":"","type":"function","function":{"name":"","arguments":""}}`
	call, _ = sjson.Set(call, "id", t.toolCallID)
	call, _ = sjson.Set(call, "function.name", t.toolCall.Name)
	out, _ = sjson.SetRaw(out, "choices.0.delta.tool_calls.0", call)
	return []byte(out)
}

func (t *Transcript) toolCallArgsChunk() []byte {
	out := t.baseChunk()
	call := `{"index":0,"function":{"arguments":""}}`
	call, _ = sjson.Set(call, "function.arguments", t.toolCall.ArgumentsJSON())
	out, _ = sjson.SetRaw(out, "choices.0.delta.tool_calls.0", call)
	return []byte(out)
}

func (t *Transcript) finishChunk() []byte {
	out := t.baseChunk()
	out, _ = sjson.Set(out, "choices.0.finish_reason", t.FinishReason())
	return []byte(out)
}

func (t *Transcript) usageChunk() []byte {
	out := t.baseChunk()
	out, _ = sjson.SetRaw(out, "choices", "[]")
	out, _ = sjson.Set(out, "usage.prompt_tokens", t.usage.PromptTokens)
	out, _ = sjson.Set(out, "usage.completion_tokens", t.usage.CompletionTokens)
	out, _ = sjson.Set(out, "usage.total_tokens", t.usage.TotalTokens)
	return []byte(out)
}
