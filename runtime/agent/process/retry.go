package process

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/strandworks/strand/runtime/agent/model"
)

// RetryPolicy bounds action re-execution after retryable failures.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// Zero or one means no retries.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// BackoffMultiplier scales the backoff after each retry.
	BackoffMultiplier float64
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
}

// FireOnce runs an action exactly once.
func FireOnce() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// DefaultRetry is the standard action retry policy: five attempts with
// exponential backoff starting at ten seconds, factor five, capped at one
// minute.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		InitialBackoff:    10 * time.Second,
		BackoffMultiplier: 5.0,
		MaxBackoff:        60 * time.Second,
	}
}

// backoff computes the delay before the given retry (1-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	return time.Duration(d)
}

// isRetryable reports whether a failed attempt may succeed if repeated.
// Transient provider failures and deadline expiries qualify; cancellation and
// permanent provider failures do not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pe, ok := model.AsProviderError(err); ok {
		return pe.Retryable()
	}
	return false
}
