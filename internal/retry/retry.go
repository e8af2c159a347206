// Package retry implements the exponential-backoff retry policy used for
// upstream calls. Classification of what may be retried lives in the errors
// package; this package only schedules attempts.
package retry

import (
	"context"
	"time"

	apperrors "github.com/sessionbridge/sessionbridge/internal/errors"
	log "github.com/sirupsen/logrus"
)

// Policy bounds the retry loop.
type Policy struct {
	// MaxRetries is the number of re-attempts after the first call.
	MaxRetries int
	// BaseDelay is the backoff before the first retry; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration
}

// DefaultPolicy matches the gateway's shipped configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
	}
}

// OnRetryFunc is invoked before each re-attempt with the attempt number that
// just failed (1-based), the error it failed with, and the computed delay.
type OnRetryFunc func(attempt int, err error, delay time.Duration)

// Delay returns the backoff before re-attempting after the given 1-based
// failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs op until it succeeds, fails with a non-retryable error, exhausts
// the attempt budget, or the context is cancelled. Non-retryable errors abort
// immediately with no backoff computed.
func Do[T any](ctx context.Context, policy Policy, onRetry OnRetryFunc, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= policy.MaxRetries+1; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !apperrors.IsRetryable(err) {
			return zero, err
		}
		if attempt > policy.MaxRetries {
			break
		}

		delay := policy.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
		log.WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Debugf("retrying upstream call: %v", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
