package audio

import (
	"sync"
	"time"
)

// PlayClock estimates when audio handed to a device has finished sounding.
// Devices that return from Write before the audio is audible use it to
// report Busy.
type PlayClock struct {
	byteRate int
	latency  time.Duration // device output latency added to every estimate
	now      func() time.Time

	mu       sync.Mutex
	playedAt time.Time
}

// NewPlayClock creates a clock for audio in format
func NewPlayClock(format Format, latency time.Duration) *PlayClock {
	return &PlayClock{
		byteRate: format.ByteRate(),
		latency:  latency,
		now:      time.Now,
	}
}

// Advance records n bytes handed to the device now. Audio queues behind
// whatever is still playing.
func (c *PlayClock) Advance(n int) {
	if n <= 0 || c.byteRate <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if now := c.now(); c.playedAt.Before(now) {
		c.playedAt = now
	}
	c.playedAt = c.playedAt.Add(time.Duration(n) * time.Second / time.Duration(c.byteRate))
}

// Remaining returns how long the recorded audio keeps sounding
func (c *PlayClock) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playedAt.IsZero() {
		return 0
	}
	return max(c.playedAt.Add(c.latency).Sub(c.now()), 0)
}

// Busy reports whether recorded audio is still sounding
func (c *PlayClock) Busy() bool {
	return c.Remaining() > 0
}
