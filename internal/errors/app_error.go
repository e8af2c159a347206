// Package errors defines the structured error taxonomy used across the
// gateway. Every failure that crosses a package boundary is wrapped in an
// AppError carrying its kind, the HTTP status to mirror to the client, and
// whether the retry kernel may re-attempt the operation.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry and status-mapping decisions.
type Kind string

const (
	// KindValidation marks malformed client input. Never retried.
	KindValidation Kind = "validation_error"
	// KindAuthentication marks upstream credential rejection. Never retried;
	// surfaced distinctly so the operator knows to refresh credentials.
	KindAuthentication Kind = "authentication_error"
	// KindSession marks a violated session-chain invariant. Never retried,
	// indicates a bug.
	KindSession Kind = "session_error"
	// KindUpstreamAPI marks a non-2xx upstream response with a known status.
	KindUpstreamAPI Kind = "upstream_api_error"
	// KindNetwork marks connection resets, timeouts and DNS failures.
	// Always retried.
	KindNetwork Kind = "network_error"
)

// AppError represents a structured application error. The HTTP layer decides
// how it is rendered; this package only carries the classification.
type AppError struct {
	// Kind is the taxonomy class of the error.
	Kind Kind
	// HTTPStatusCode is the HTTP status code to return to the client.
	HTTPStatusCode int
	// UpstreamStatus is the status the upstream returned, when applicable.
	UpstreamStatus int
	// Code is an internal error code string.
	Code string
	// Message is the user-facing error message.
	Message string
	// Err is the underlying error.
	Err error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the retry kernel may re-attempt the failed
// operation. Network faults always qualify; upstream API errors qualify only
// for 408, 429 and 5xx statuses.
func (e *AppError) Retryable() bool {
	switch e.Kind {
	case KindNetwork:
		return true
	case KindUpstreamAPI:
		return e.UpstreamStatus == http.StatusRequestTimeout ||
			e.UpstreamStatus == http.StatusTooManyRequests ||
			e.UpstreamStatus >= 500
	default:
		return false
	}
}

// NewValidation creates a validation error resolved at the gateway boundary.
func NewValidation(message string) *AppError {
	return &AppError{
		Kind:           KindValidation,
		HTTPStatusCode: http.StatusBadRequest,
		Code:           "invalid_request",
		Message:        message,
	}
}

// NewAuthentication creates an error for rejected upstream credentials.
func NewAuthentication(message string, err error) *AppError {
	return &AppError{
		Kind:           KindAuthentication,
		HTTPStatusCode: http.StatusUnauthorized,
		Code:           "upstream_auth_rejected",
		Message:        message,
		Err:            err,
	}
}

// NewSession creates an error for an internal session-chain inconsistency.
func NewSession(message string, err error) *AppError {
	return &AppError{
		Kind:           KindSession,
		HTTPStatusCode: http.StatusInternalServerError,
		Code:           "session_fault",
		Message:        message,
		Err:            err,
	}
}

// NewUpstreamAPI creates an error for a non-2xx upstream response. The
// mirrored client status is the upstream status when it is a valid HTTP
// status, 502 otherwise.
func NewUpstreamAPI(status int, message string) *AppError {
	mirrored := status
	if mirrored < 400 || mirrored > 599 {
		mirrored = http.StatusBadGateway
	}
	return &AppError{
		Kind:           KindUpstreamAPI,
		HTTPStatusCode: mirrored,
		UpstreamStatus: status,
		Code:           fmt.Sprintf("upstream_%d", status),
		Message:        message,
	}
}

// NewNetwork creates an error for a transport-level failure.
func NewNetwork(message string, err error) *AppError {
	return &AppError{
		Kind:           KindNetwork,
		HTTPStatusCode: http.StatusServiceUnavailable,
		Code:           "upstream_unreachable",
		Message:        message,
		Err:            err,
	}
}

// AsAppError extracts an AppError from err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsRetryable reports whether err may be retried. Errors outside the taxonomy
// are treated as non-retryable so that unknown faults fail fast.
func IsRetryable(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Retryable()
	}
	return false
}
