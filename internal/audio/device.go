package audio

import (
	"errors"
	"sync"
)

// ErrDeviceClosed is returned by devices that have been closed
var ErrDeviceClosed = errors.New("audio device closed")

// InputDevice delivers fixed-size frames of 16-bit mono PCM
type InputDevice interface {
	// ReadFrame blocks until len(frame) samples are available
	ReadFrame(frame []int16) error
	Close() error
}

// OutputDevice accepts 16-bit PCM in the session format
type OutputDevice interface {
	Write(pcm []byte) error
	Close() error
}

// Pausable is implemented by devices that can stop capturing while the
// assistant is speaking.
type Pausable interface {
	Pause() error
	Resume() error
}

// BusyReporter is implemented by output devices that keep sounding after
// Write returns.
type BusyReporter interface {
	Busy() bool
}

// Flusher is implemented by output devices that hold back partial buffers
type Flusher interface {
	Flush() error
}

// StreamInput is an InputDevice fed by a network connection. Audio written
// while paused is discarded so the microphone never picks up assistant speech.
type StreamInput struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ring    *RingBuffer
	closed  bool
	paused  bool
	dropped int
}

// NewStreamInput creates a stream input buffering up to capacity bytes
func NewStreamInput(capacity int) *StreamInput {
	s := &StreamInput{ring: NewRingBuffer(capacity)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write queues PCM bytes for capture. Bytes that do not fit are dropped.
func (s *StreamInput) Write(pcm []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrDeviceClosed
	}
	if s.paused {
		return len(pcm), nil
	}

	n := s.ring.Write(pcm)
	s.dropped += len(pcm) - n
	s.cond.Broadcast()
	return len(pcm), nil
}

// ReadFrame implements InputDevice
func (s *StreamInput) ReadFrame(frame []int16) error {
	need := len(frame) * 2

	s.mu.Lock()
	for !s.closed && s.ring.Available() < need {
		s.cond.Wait()
	}
	if s.ring.Available() < need {
		s.mu.Unlock()
		return ErrDeviceClosed
	}
	buf := make([]byte, need)
	s.ring.Read(buf)
	s.mu.Unlock()

	copy(frame, BytesToSamples(buf))
	return nil
}

// Pause discards buffered audio and ignores writes until Resume
func (s *StreamInput) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.ring.Clear()
	return nil
}

// Resume starts accepting writes again
func (s *StreamInput) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	return nil
}

// Dropped returns the number of bytes discarded because the buffer was full
func (s *StreamInput) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close wakes any blocked reader. Buffered whole frames can still be read.
func (s *StreamInput) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}
