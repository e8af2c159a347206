// Package handlers provides the API handlers for the gateway's
// OpenAI-compatible endpoints, including the chat-completions orchestrator
// that composes session resolution, request translation, upstream execution
// and response translation per request.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sessionbridge/sessionbridge/internal/archive"
	"github.com/sessionbridge/sessionbridge/internal/config"
	apperrors "github.com/sessionbridge/sessionbridge/internal/errors"
	"github.com/sessionbridge/sessionbridge/internal/retry"
	"github.com/sessionbridge/sessionbridge/internal/session"
	"github.com/sessionbridge/sessionbridge/internal/upstream"
	"golang.org/x/net/context"
	"golang.org/x/sync/singleflight"
)

// ErrorResponse represents a standard error response format for the API.
// It contains a single ErrorDetail field.
type ErrorResponse struct {
	// Error contains detailed information about the error that occurred.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail provides specific information about an error that occurred.
type ErrorDetail struct {
	// Message is a human-readable message providing more details about the error.
	Message string `json:"message"`

	// Type is the category of error that occurred (e.g., "invalid_request_error").
	Type string `json:"type"`

	// Code is a short code identifying the error, if applicable.
	Code string `json:"code,omitempty"`
}

// Upstream is the slice of the upstream client the handlers depend on.
type Upstream interface {
	CreateChat(ctx context.Context, model string) (string, error)
	Complete(ctx context.Context, payload []byte) ([]byte, error)
	CompleteStream(ctx context.Context, payload []byte) (<-chan upstream.Event, error)
}

// ChatHandler serves the chat-completions endpoint and its thin siblings.
type ChatHandler struct {
	cfg      *config.Config
	store    *session.Store
	upstream Upstream
	archive  *archive.Store
	policy   retry.Policy

	// createGroup collapses concurrent first-turn chat creation for one
	// conversation key into a single upstream call.
	createGroup singleflight.Group
}

// NewChatHandler creates the handler. The archive store may be nil when
// archival is disabled.
func NewChatHandler(cfg *config.Config, store *session.Store, up Upstream, arc *archive.Store) *ChatHandler {
	return &ChatHandler{
		cfg:      cfg,
		store:    store,
		upstream: up,
		archive:  arc,
		policy: retry.Policy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
			MaxDelay:   time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		},
	}
}

// writeAppError renders err as the structured OpenAI-style error body with a
// status mirroring the failure class.
func writeAppError(c *gin.Context, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = &apperrors.AppError{
			Kind:           apperrors.KindSession,
			HTTPStatusCode: http.StatusInternalServerError,
			Code:           "internal_error",
			Message:        err.Error(),
		}
	}
	c.JSON(appErr.HTTPStatusCode, ErrorResponse{Error: ErrorDetail{
		Message: appErr.Message,
		Type:    string(appErr.Kind),
		Code:    appErr.Code,
	}})
}
