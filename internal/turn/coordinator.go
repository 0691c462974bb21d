// Package turn holds the shared turn state that keeps the microphone closed
// while the assistant is answering.
package turn

import (
	"context"
	"sync"
)

// State is the turn-taking state of a session
type State int

const (
	// AwaitingInput means the user may speak or type
	AwaitingInput State = iota
	// ResponseInFlight means a response is being generated or is still playing
	ResponseInFlight
)

func (s State) String() string {
	switch s {
	case AwaitingInput:
		return "awaiting_input"
	case ResponseInFlight:
		return "response_in_flight"
	}
	return "unknown"
}

// Coordinator guards the turn state. It is safe for concurrent use by the
// capture path and the response path.
type Coordinator struct {
	mu      sync.Mutex
	state   State
	changed chan struct{} // closed and replaced on every SetState
	notify  []func(State)
}

// NewCoordinator creates a coordinator in the AwaitingInput state
func NewCoordinator() *Coordinator {
	return &Coordinator{
		state:   AwaitingInput,
		changed: make(chan struct{}),
	}
}

// SetState replaces the current state and wakes every waiter
func (c *Coordinator) SetState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
	notify := c.notify
	c.mu.Unlock()

	if prev != s {
		for _, fn := range notify {
			fn(s)
		}
	}
}

// State returns the current state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnChange registers fn to be called after every transition to a different
// state. Callbacks run on the goroutine that called SetState.
func (c *Coordinator) OnChange(fn func(State)) {
	c.mu.Lock()
	c.notify = append(c.notify, fn)
	c.mu.Unlock()
}

// WaitFor blocks until the state equals s or ctx ends
func (c *Coordinator) WaitFor(ctx context.Context, s State) error {
	for {
		c.mu.Lock()
		if c.state == s {
			c.mu.Unlock()
			return nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
