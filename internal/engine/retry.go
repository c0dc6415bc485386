package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rendis/flowkit/pkg/schema"
)

const (
	defaultInitialDelay      = 100 * time.Millisecond
	defaultBackoffMultiplier = 2.0
)

// ErrorCode extracts the structured code from an error. Errors outside the
// FlowError hierarchy classify as EXECUTION_ERROR; context deadline and
// cancellation map to their dedicated codes.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.ErrCodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return schema.ErrCodeCancelled
	}
	return schema.ErrCodeExecution
}

// ShouldRetry decides whether a failed attempt (0-based) gets another try.
// Retries happen only while attempt < max_retries, and only when the error's
// code is retryable under the policy. An empty retryable_errors list means
// every code is retryable; cancellation never is.
func ShouldRetry(policy *schema.RetryPolicy, attempt int, err error) bool {
	if policy == nil || err == nil {
		return false
	}
	if attempt >= policy.MaxRetries {
		return false
	}

	code := ErrorCode(err)
	if code == schema.ErrCodeCancelled {
		return false
	}
	if len(policy.RetryableErrors) == 0 {
		return true
	}
	for _, c := range policy.RetryableErrors {
		if c == code {
			return true
		}
	}
	return false
}

// ComputeBackoff returns the delay before retrying after a failed 0-based
// attempt: min(max_delay, initial_delay * backoff_multiplier^attempt).
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil {
		return 0
	}

	initial := defaultInitialDelay
	if policy.InitialDelay != "" {
		if d, err := time.ParseDuration(policy.InitialDelay); err == nil {
			initial = d
		}
	}

	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = defaultBackoffMultiplier
	}

	delay := time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt)))
	if delay < 0 {
		delay = math.MaxInt64 // overflow
	}

	if policy.MaxDelay != "" {
		if maxDelay, err := time.ParseDuration(policy.MaxDelay); err == nil && delay > maxDelay {
			delay = maxDelay
		}
	}

	return delay
}

// WaitForBackoff sleeps for the given delay or returns early if the context
// is cancelled during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
