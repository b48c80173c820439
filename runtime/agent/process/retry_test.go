package process

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strandworks/strand/runtime/agent/model"
)

func TestBackoff(t *testing.T) {
	p := DefaultRetry()
	require.Equal(t, 10*time.Second, p.backoff(1))
	require.Equal(t, 50*time.Second, p.backoff(2))
	// Capped at MaxBackoff from the third retry on.
	require.Equal(t, 60*time.Second, p.backoff(3))
	require.Equal(t, 60*time.Second, p.backoff(8))
}

func TestBackoffWithoutMultiplier(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second}
	require.Equal(t, time.Second, p.backoff(1))
	require.Equal(t, time.Second, p.backoff(4))
}

func TestFireOnce(t *testing.T) {
	require.Equal(t, 1, FireOnce().MaxAttempts)
}

func TestIsRetryable(t *testing.T) {
	require.False(t, isRetryable(nil))
	require.False(t, isRetryable(errors.New("plain failure")))
	require.False(t, isRetryable(context.Canceled))
	require.True(t, isRetryable(context.DeadlineExceeded))

	transient := model.NewProviderError("anthropic", "messages", 529, model.ProviderErrorKindUnavailable, "", "overloaded", true, nil)
	require.True(t, isRetryable(transient))
	require.True(t, isRetryable(fmt.Errorf("action: %w", transient)))

	permanent := model.NewProviderError("anthropic", "messages", 401, model.ProviderErrorKindAuth, "", "bad key", false, nil)
	require.False(t, isRetryable(permanent))
}
