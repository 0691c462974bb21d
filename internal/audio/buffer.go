package audio

import (
	"sync"
)

// RingBuffer is a fixed-capacity FIFO of bytes, safe for concurrent use
type RingBuffer struct {
	buffer []byte
	read   int
	count  int
	mu     sync.Mutex
}

// NewRingBuffer creates a ring buffer holding up to size bytes
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{buffer: make([]byte, size)}
}

// Write appends as much of data as fits and returns the number of bytes written
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.buffer)
	n := len(data)
	if space := size - rb.count; n > space {
		n = space
	}

	write := (rb.read + rb.count) % max(size, 1)
	first := copy(rb.buffer[write:], data[:n])
	copy(rb.buffer, data[first:n])
	rb.count += n

	return n
}

// Read removes up to len(data) bytes from the buffer and returns the count
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(data)
	if n > rb.count {
		n = rb.count
	}

	first := copy(data[:n], rb.buffer[rb.read:])
	copy(data[first:n], rb.buffer)
	if size := len(rb.buffer); size > 0 {
		rb.read = (rb.read + n) % size
	}
	rb.count -= n

	return n
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Space returns the number of bytes that can still be written
func (rb *RingBuffer) Space() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buffer) - rb.count
}

// Clear discards all buffered bytes
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.count = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	return rb.Available() == 0
}

// IsFull returns true if no more bytes can be written
func (rb *RingBuffer) IsFull() bool {
	return rb.Space() == 0
}
