package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/sessionbridge/sessionbridge/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastPolicy(), nil, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", apperrors.NewNetwork("connection reset", errors.New("reset"))
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsBudget(t *testing.T) {
	calls := 0
	var retries []int
	onRetry := func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	}
	_, err := Do(context.Background(), fastPolicy(), onRetry, func(ctx context.Context) (int, error) {
		calls++
		return 0, apperrors.NewNetwork("still down", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls, "initial attempt plus MaxRetries")
	assert.Equal(t, []int{1, 2, 3}, retries)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindNetwork, appErr.Kind)
}

func TestDoNonRetryableAbortsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", apperrors.NewValidation("bad input")},
		{"authentication", apperrors.NewAuthentication("cookie rejected", nil)},
		{"upstream 404", apperrors.NewUpstreamAPI(404, "not found")},
		{"unclassified", errors.New("mystery")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			_, err := Do(context.Background(), fastPolicy(), nil, func(ctx context.Context) (int, error) {
				calls++
				return 0, tt.err
			})
			assert.Equal(t, tt.err, err)
			assert.Equal(t, 1, calls, "non-retryable errors get exactly one attempt")
		})
	}
}

func TestDoRetryableUpstreamStatuses(t *testing.T) {
	for _, status := range []int{408, 429, 500, 503} {
		calls := 0
		_, err := Do(context.Background(), Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil,
			func(ctx context.Context) (int, error) {
				calls++
				return 0, apperrors.NewUpstreamAPI(status, "upstream fault")
			})
		require.Error(t, err)
		assert.Equal(t, 2, calls, "status %d should be retried", status)
	}
}

func TestDoContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := Do(ctx, Policy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second}, nil,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, apperrors.NewNetwork("down", nil)
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
	assert.Equal(t, 500*time.Millisecond, p.Delay(1))
	assert.Equal(t, time.Second, p.Delay(2))
	assert.Equal(t, 2*time.Second, p.Delay(3))
	assert.Equal(t, 4*time.Second, p.Delay(4))
	assert.Equal(t, 8*time.Second, p.Delay(5))
	assert.Equal(t, 8*time.Second, p.Delay(6), "delay is capped")
}
