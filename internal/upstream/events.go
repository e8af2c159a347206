package upstream

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// Usage carries upstream token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// EventKind tags a decoded upstream stream event.
type EventKind int

const (
	// EventMetadata carries the new parent/message ids for the turn.
	EventMetadata EventKind = iota
	// EventContent carries a content delta fragment.
	EventContent
	// EventUsage carries token usage with no other payload.
	EventUsage
	// EventDone marks the upstream end-of-stream sentinel.
	EventDone
	// EventError carries a transport failure observed mid-stream.
	EventError
)

// Event is one decoded upstream stream event. Loosely-typed upstream JSON is
// decoded into this tagged structure at the boundary so nothing downstream
// re-inspects raw payloads.
type Event struct {
	Kind      EventKind
	ParentID  string
	MessageID string
	Content   string
	// Usage may accompany an event of any kind.
	Usage *Usage
	Err   error
}

var dataPrefix = []byte("data:")

// parseStreamEvent decodes one line of the upstream event stream. It returns
// false for blank lines, comments and frames carrying nothing of interest.
func parseStreamEvent(line []byte) (Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || !bytes.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return Event{}, false
	}
	if bytes.Equal(payload, []byte("[DONE]")) {
		return Event{Kind: EventDone}, true
	}
	if !gjson.ValidBytes(payload) {
		return Event{}, false
	}

	root := gjson.ParseBytes(payload)
	ev := Event{Usage: parseUsage(root.Get("usage"))}

	if meta := root.Get("meta"); meta.Exists() {
		ev.Kind = EventMetadata
		ev.ParentID = meta.Get("parent_id").String()
		ev.MessageID = meta.Get("message_id").String()
		return ev, true
	}
	if delta := root.Get("choices.0.delta.content"); delta.Exists() {
		ev.Kind = EventContent
		ev.Content = delta.String()
		return ev, true
	}
	if ev.Usage != nil {
		ev.Kind = EventUsage
		return ev, true
	}
	return Event{}, false
}

func parseUsage(usage gjson.Result) *Usage {
	if !usage.Exists() {
		return nil
	}
	return &Usage{
		PromptTokens:     int(usage.Get("prompt_tokens").Int()),
		CompletionTokens: int(usage.Get("completion_tokens").Int()),
		TotalTokens:      int(usage.Get("total_tokens").Int()),
	}
}
