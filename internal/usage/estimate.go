// Package usage estimates token counts locally for turns where the upstream
// omitted its usage figures, so clients always receive a populated usage
// block.
package usage

import (
	"sync"

	"github.com/sessionbridge/sessionbridge/internal/upstream"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warnf("tokenizer unavailable, falling back to byte estimate: %v", err)
			return
		}
		codec = c
	})
	return codec
}

// CountTokens returns the token count for text, approximating with a
// bytes/4 heuristic if the tokenizer cannot be loaded.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	c := getCodec()
	if c == nil {
		return (len(text) + 3) / 4
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}

// Estimate computes usage for a turn from the upstream payload's message
// contents and the completion text.
func Estimate(upstreamPayload []byte, completion string) *upstream.Usage {
	prompt := 0
	gjson.GetBytes(upstreamPayload, "messages").ForEach(func(_, msg gjson.Result) bool {
		prompt += CountTokens(msg.Get("content").String())
		return true
	})
	completionTokens := CountTokens(completion)
	return &upstream.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completionTokens,
		TotalTokens:      prompt + completionTokens,
	}
}
