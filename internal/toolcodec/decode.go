package toolcodec

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Invocation is a concrete tool call extracted from model text.
type Invocation struct {
	// Name is the tool name, taken from the matched tag.
	Name string
	// Arguments holds the value-coerced first-level child elements.
	Arguments map[string]any
}

// ArgumentsJSON returns the JSON serialisation of the parameter object. The
// result is deterministic (object keys are sorted) and always valid JSON.
func (inv *Invocation) ArgumentsJSON() string {
	if inv == nil || len(inv.Arguments) == 0 {
		return "{}"
	}
	b, err := json.Marshal(inv.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// openTagRe matches a bare XML opening tag. Tags with attributes are not part
// of the protocol and are left alone.
var openTagRe = regexp.MustCompile(`<([A-Za-z_][A-Za-z0-9_-]*)>`)

// nonToolWrappers are tag names models emit around ordinary prose; they are
// never treated as tool invocations.
var nonToolWrappers = map[string]struct{}{
	"think":      {},
	"thinking":   {},
	"reflection": {},
	"reasoning":  {},
	"answer":     {},
	"response":   {},
	"result":     {},
	"output":     {},
	"text":       {},
	"p":          {},
	"br":         {},
	"code":       {},
	"pre":        {},
}

func isNonToolWrapper(name string) bool {
	_, ok := nonToolWrappers[strings.ToLower(name)]
	return ok
}

// Decode finds the tool element in text. The first non-wrapper opening tag is
// the only candidate: if it has a matching close it is the invocation and its
// first-level children are the parameters; if it never closes there is no
// invocation. Elements nested inside a truncated candidate are never promoted
// to invocations themselves, which keeps partially streamed elements inert.
// When a response contains several tool-shaped elements only the first is
// honored. Decode returns the invocation, the natural-language preamble that
// preceded the tag (trimmed of trailing whitespace only, so that callers
// flushing text incrementally keep their separators), and whether a tool call
// was found.
func Decode(text string) (*Invocation, string, bool) {
	return decode(text, false)
}

// DecodeComplete behaves like Decode but keeps scanning past candidates that
// never close. It is only sound on final text: mid-stream an unclosed tag may
// still be completed by a later chunk, but once the turn has ended it is just
// prose and a complete tool element after it should still be honored.
func DecodeComplete(text string) (*Invocation, string, bool) {
	return decode(text, true)
}

func decode(text string, skipUnclosed bool) (*Invocation, string, bool) {
	pos := 0
	for pos < len(text) {
		loc := openTagRe.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			return nil, "", false
		}
		start := pos + loc[0]
		after := pos + loc[1]
		name := text[pos+loc[2] : pos+loc[3]]

		if isNonToolWrapper(name) {
			pos = after
			continue
		}

		closeTag := "</" + name + ">"
		closeIdx := strings.Index(text[after:], closeTag)
		if closeIdx < 0 {
			if skipUnclosed {
				pos = after
				continue
			}
			return nil, "", false
		}

		inner := text[after : after+closeIdx]
		return &Invocation{
			Name:      name,
			Arguments: parseParameters(inner),
		}, strings.TrimRight(text[:start], " \t\r\n"), true
	}
	return nil, "", false
}

// parseParameters walks the first-level child elements of a matched tool tag.
// Child content keeps its internal newlines; only the tag's own surrounding
// whitespace is trimmed.
func parseParameters(inner string) map[string]any {
	args := make(map[string]any)
	pos := 0
	for pos < len(inner) {
		loc := openTagRe.FindStringSubmatchIndex(inner[pos:])
		if loc == nil {
			break
		}
		after := pos + loc[1]
		name := inner[pos+loc[2] : pos+loc[3]]

		closeTag := "</" + name + ">"
		closeIdx := strings.Index(inner[after:], closeTag)
		if closeIdx < 0 {
			pos = after
			continue
		}

		raw := strings.TrimSpace(inner[after : after+closeIdx])
		args[name] = coerceValue(raw)
		pos = after + closeIdx + len(closeTag)
	}
	return args
}

var (
	integerRe = regexp.MustCompile(`^[+-]?\d+$`)
	decimalRe = regexp.MustCompile(`^[+-]?\d+\.\d+$`)
)

// coerceValue maps the untyped wire text back onto a JSON scalar. Content
// that merely starts with a number (e.g. "1.0 beta") stays a string.
func coerceValue(raw string) any {
	if integerRe.MatchString(raw) || decimalRe.MatchString(raw) {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}
