package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sessionbridge/sessionbridge/internal/api/middleware"
	"github.com/sessionbridge/sessionbridge/internal/archive"
	apperrors "github.com/sessionbridge/sessionbridge/internal/errors"
	"github.com/sessionbridge/sessionbridge/internal/retry"
	"github.com/sessionbridge/sessionbridge/internal/session"
	"github.com/sessionbridge/sessionbridge/internal/translator/openai"
	"github.com/sessionbridge/sessionbridge/internal/upstream"
	"github.com/sessionbridge/sessionbridge/internal/usage"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/net/context"
)

// ChatCompletions handles POST /v1/chat/completions. It resolves the
// conversation to an upstream chat, translates the request, executes the turn
// against the upstream (streaming or unary), and translates the result back.
func (h *ChatHandler) ChatCompletions(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeAppError(c, apperrors.NewValidation("failed to read request body"))
		return
	}
	if !gjson.ValidBytes(body) {
		writeAppError(c, apperrors.NewValidation("request body is not valid JSON"))
		return
	}

	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		writeAppError(c, apperrors.NewValidation("messages must be a non-empty array"))
		return
	}

	key, err := session.ConversationKey([]byte(messages.Raw))
	if err != nil {
		writeAppError(c, err)
		return
	}

	model := gjson.GetBytes(body, "model").String()
	if model == "" {
		model = h.cfg.Upstream.Models[0]
	}
	stream := gjson.GetBytes(body, "stream").Bool()

	ctx := c.Request.Context()
	sess, err := h.resolveSession(ctx, key, model)
	if err != nil {
		middleware.RecordUpstreamRequest("error", model)
		writeAppError(c, err)
		return
	}

	payload, err := openai.BuildUpstreamRequest(body, sess, stream)
	if err != nil {
		writeAppError(c, err)
		return
	}

	if stream {
		h.streamTurn(c, key, model, payload)
		return
	}
	h.unaryTurn(c, key, model, payload)
}

// resolveSession maps the conversation key to its upstream chat, creating a
// new chat on the first turn. Concurrent first turns for the same key share
// one upstream creation.
func (h *ChatHandler) resolveSession(ctx context.Context, key, model string) (session.Session, error) {
	if sess, ok := h.store.Resolve(key); ok {
		return sess, nil
	}
	v, err, _ := h.createGroup.Do(key, func() (interface{}, error) {
		if sess, ok := h.store.Resolve(key); ok {
			return sess, nil
		}
		chatID, err := retry.Do(ctx, h.policy, h.onRetry, func(ctx context.Context) (string, error) {
			return h.upstream.CreateChat(ctx, model)
		})
		if err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{
			"conversation": key[:12],
			"chat_id":      chatID,
		}).Debug("created upstream chat")
		return h.store.Create(key, chatID), nil
	})
	if err != nil {
		return session.Session{}, err
	}
	return v.(session.Session), nil
}

// onRetry logs and counts a retry attempt.
func (h *ChatHandler) onRetry(attempt int, err error, delay time.Duration) {
	middleware.RecordUpstreamRetry()
	log.WithFields(log.Fields{
		"attempt": attempt,
		"delay":   delay,
		"error":   err,
	}).Warn("retrying upstream call")
}

func (h *ChatHandler) unaryTurn(c *gin.Context, key, model string, payload []byte) {
	ctx := c.Request.Context()
	data, err := retry.Do(ctx, h.policy, h.onRetry, func(ctx context.Context) ([]byte, error) {
		return h.upstream.Complete(ctx, payload)
	})
	if err != nil {
		middleware.RecordUpstreamRequest("error", model)
		writeAppError(c, err)
		return
	}
	middleware.RecordUpstreamRequest("success", model)

	t := openai.TranscriptFromResponse(model, data)
	if t.Usage() == nil {
		t.SetUsage(usage.Estimate(payload, t.Text()))
	}
	resp := t.CompleteResponse()

	h.finishTurn(key, model, payload, resp, t)
	c.Data(http.StatusOK, "application/json", resp)
}

func (h *ChatHandler) streamTurn(c *gin.Context, key, model string, payload []byte) {
	ctx := c.Request.Context()
	events, err := retry.Do(ctx, h.policy, h.onRetry, func(ctx context.Context) (<-chan upstream.Event, error) {
		return h.upstream.CompleteStream(ctx, payload)
	})
	if err != nil {
		// Nothing has been written yet, so a plain JSON error is still possible.
		middleware.RecordUpstreamRequest("error", model)
		writeAppError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	flusher, _ := c.Writer.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	t := openai.NewTranscript(model)
consume:
	for ev := range events {
		switch ev.Kind {
		case upstream.EventError:
			t.MarkErrored()
			middleware.RecordUpstreamRequest("error", model)
			WriteSSEError(c.Writer, streamErrorBody(ev.Err))
			flush()
			return
		case upstream.EventDone:
			break consume
		default:
			for _, chunk := range t.ProcessEvent(ev) {
				WriteSSEData(c.Writer, chunk)
			}
			flush()
		}
	}

	if ctx.Err() != nil {
		// Client went away mid-stream; the turn did not complete, so the
		// session chain is left untouched.
		t.MarkErrored()
		log.WithField("conversation", key[:12]).Debug("client disconnected mid-stream")
		return
	}

	middleware.RecordUpstreamRequest("success", model)
	if t.Usage() == nil {
		t.SetUsage(usage.Estimate(payload, t.Text()))
	}
	for _, chunk := range t.Finalize() {
		WriteSSEData(c.Writer, chunk)
	}
	WriteSSEDone(c.Writer)
	flush()

	h.finishTurn(key, model, payload, nil, t)
}

// finishTurn advances the session chain and records metrics and archive data
// for a cleanly completed turn.
func (h *ChatHandler) finishTurn(key, model string, payload, response []byte, t *openai.Transcript) {
	if t.State() == openai.StateErrored {
		return
	}
	if parent := t.ParentID(); parent != "" {
		if !h.store.Advance(key, parent) {
			log.WithField("conversation", key[:12]).Warn("session expired before turn completion; next turn starts a fresh chat")
		}
	}

	if u := t.Usage(); u != nil {
		middleware.RecordTokenUsage(model, "input", u.PromptTokens)
		middleware.RecordTokenUsage(model, "output", u.CompletionTokens)
	}

	if h.archive != nil {
		if response == nil {
			response = t.CompleteResponse()
		}
		h.archive.Record(archive.Record{
			ConversationKey: key,
			Model:           model,
			RequestJSON:     payload,
			ResponseJSON:    response,
			FinishReason:    t.FinishReason(),
		})
	}
}

// streamErrorBody renders err as the error body carried inside SSE error
// events, using the same envelope as plain JSON error responses.
func streamErrorBody(err error) []byte {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.NewNetwork("stream interrupted", err)
	}
	body, marshalErr := json.Marshal(ErrorResponse{Error: ErrorDetail{
		Message: appErr.Message,
		Type:    string(appErr.Kind),
		Code:    appErr.Code,
	}})
	if marshalErr != nil {
		return []byte(`{"error":{"message":"stream interrupted","type":"network_error"}}`)
	}
	return body
}
