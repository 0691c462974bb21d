// Package resilience protects calls to remote collaborators with retries,
// circuit breakers and reconnection.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/mezbaul-h/june/internal/observability"
)

// RetryConfig controls Retry
type RetryConfig struct {
	MaxAttempts       int // including the first call
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            bool // add up to 25% to each wait
}

// DefaultRetryConfig returns three attempts starting at 100ms
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// wait returns the pause after the given zero-based attempt
func (c *RetryConfig) wait(attempt int) time.Duration {
	d := CalculateBackoff(attempt, c.InitialBackoff, c.MaxBackoff, c.BackoffMultiplier)
	if c.Jitter && d > 0 {
		d = min(d+time.Duration(rand.Int64N(int64(d)/4+1)), c.MaxBackoff)
	}
	return d
}

// RetryableFunc is one attempt of a retried operation
type RetryableFunc func(ctx context.Context) error

// IsRetryableError decides whether an error is worth another attempt
type IsRetryableError func(error) bool

// Retry runs fn until it succeeds, fails with an error isRetryable rejects,
// runs out of attempts or ctx ends. A nil isRetryable retries everything.
// The last error from fn is returned.
func Retry(ctx context.Context, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	logger := observability.WithComponent("retry")

	var err error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt == config.MaxAttempts-1 {
			break
		}

		d := config.wait(attempt)
		logger.Debug().
			Err(err).
			Int("attempt", attempt+1).
			Dur("retry_in", d).
			Msg("Attempt failed")
		if !sleep(ctx, d) {
			break
		}
	}
	return err
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// CalculateBackoff returns initial * multiplier^attempt, capped at max
func CalculateBackoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	d := time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt)))
	if d > max {
		return max
	}
	return d
}

// Transient failures as they appear in error text from HTTP clients, gRPC
// and the provider SDKs
var retryableFragments = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"transport is closing",
	"unavailable",
	"network is unreachable",
	"no route to host",
	"unexpected eof",
	"deadline exceeded",
	"timeout",
	"resource exhausted",
	"too many requests",
	"rate limit",
	"status 429",
	"status 502",
	"status 503",
	"status 504",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
}

// IsRetryableNetworkError reports whether err looks transient. Cancellation
// never is.
func IsRetryableNetworkError(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case IsRetryable(err):
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, f := range retryableFragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}

// RetryableError marks an error as transient regardless of its text
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// NewRetryableError wraps err, or returns nil for a nil err
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err wraps a RetryableError
func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}
