package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	apperrors "github.com/sessionbridge/sessionbridge/internal/errors"
	"github.com/tidwall/gjson"
)

// ConversationKey derives the stable conversation fingerprint from an
// OpenAI-shaped message list. The key is a sha256 digest over a canonical
// JSON of exactly {role, content} of the first message with role "user".
// Every other field (names, timestamps, non-text parts) is excluded so that
// metadata differences never fragment a conversation.
func ConversationKey(messagesJSON []byte) (string, error) {
	var first *gjson.Result
	gjson.ParseBytes(messagesJSON).ForEach(func(_, msg gjson.Result) bool {
		if msg.Get("role").String() == "user" {
			m := msg
			first = &m
			return false
		}
		return true
	})
	if first == nil {
		return "", apperrors.NewValidation("messages must contain at least one user message")
	}

	canonical, err := json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{
		Role:    "user",
		Content: flattenContent(first.Get("content")),
	})
	if err != nil {
		return "", apperrors.NewValidation("message content is not serializable")
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// flattenContent normalises message content to a single string. Multimodal
// part arrays are reduced to their text parts joined by newlines; non-text
// parts are dropped.
func flattenContent(content gjson.Result) string {
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
