package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/mezbaul-h/june/internal/observability"
)

// Guard combines a circuit breaker with retries for one collaborator.
// Every attempt passes through the breaker; an open breaker is not retried.
type Guard struct {
	breaker *CircuitBreaker
	retry   *RetryConfig
}

// NewGuard creates a guard whose breaker state is exported as a metric
func NewGuard(name string, maxFailures int, resetTimeout time.Duration, retry *RetryConfig) *Guard {
	breaker := NewCircuitBreaker(name, maxFailures, resetTimeout)
	breaker.OnStateChange(func(name string, state CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
	})
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &Guard{breaker: breaker, retry: retry}
}

// Do runs fn under the breaker, retrying transient network failures
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return Retry(ctx, func(ctx context.Context) error {
		err := g.breaker.Call(ctx, fn)
		if err != nil && !errors.Is(err, ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(g.breaker.Name())
		}
		return err
	}, g.retry, func(err error) bool {
		return !errors.Is(err, ErrCircuitOpen) && IsRetryableNetworkError(err)
	})
}

// Breaker exposes the underlying circuit breaker
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}
