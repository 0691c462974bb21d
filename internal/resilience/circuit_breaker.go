package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState is the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // calls pass through
	StateOpen                         // calls fail fast
	StateHalfOpen                     // a few trial calls test the collaborator
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerStats is a snapshot of a breaker's counters
type BreakerStats struct {
	State    CircuitState
	Calls    int64
	Failures int64
}

// FailureRate returns the share of failed calls in percent
func (s BreakerStats) FailureRate() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Calls) * 100
}

// CircuitBreaker stops calling a collaborator after consecutive failures and
// lets trial calls through once the cool-down has passed.
type CircuitBreaker struct {
	name      string
	threshold int           // consecutive failures that open the circuit
	cooldown  time.Duration // open time before trials are allowed
	trials    int           // trial calls, and successes needed to close
	now       func() time.Time

	mu          sync.Mutex
	state       CircuitState
	consecutive int
	admitted    int
	succeeded   int
	openedAt    time.Time
	stats       BreakerStats
	listener    func(name string, state CircuitState)
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:      name,
		threshold: max(threshold, 1),
		cooldown:  cooldown,
		trials:    3,
		now:       time.Now,
	}
}

// OnStateChange registers fn to run after every transition. It runs with
// the breaker locked and must not call back into it.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, state CircuitState)) {
	cb.mu.Lock()
	cb.listener = fn
	cb.mu.Unlock()
}

// Name returns the name of the guarded collaborator
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call runs fn unless the circuit is open and records its outcome.
// Cancellation of ctx is not counted as a failure.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		cb.release()
		return err
	}
	cb.Record(err == nil)
	return err
}

// admit reserves a slot for one call
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.admitted, cb.succeeded = 1, 0
	case StateHalfOpen:
		if cb.admitted >= cb.trials {
			return ErrCircuitOpen
		}
		cb.admitted++
	}
	return nil
}

// release returns a trial slot taken by a call that was cancelled
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.admitted > 0 {
		cb.admitted--
	}
}

// Record counts the outcome of one call
func (cb *CircuitBreaker) Record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.Calls++
	if success {
		switch cb.state {
		case StateClosed:
			cb.consecutive = 0
		case StateHalfOpen:
			cb.succeeded++
			if cb.succeeded >= cb.trials {
				cb.consecutive = 0
				cb.transition(StateClosed)
			}
		}
		return
	}

	cb.stats.Failures++
	switch cb.state {
	case StateClosed:
		cb.consecutive++
		if cb.consecutive >= cb.threshold {
			cb.open()
		}
	case StateHalfOpen:
		// One failed trial is enough
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.admitted, cb.succeeded = 0, 0
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(state CircuitState) {
	if cb.state == state {
		return
	}
	cb.state = state
	if cb.listener != nil {
		cb.listener(cb.name, state)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker's counters
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.stats
	s.State = cb.state
	return s
}

// Reset closes the circuit and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutive, cb.admitted, cb.succeeded = 0, 0, 0
	cb.stats = BreakerStats{}
	cb.transition(StateClosed)
}
