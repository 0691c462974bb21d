package pipeline

import (
	"context"
	"time"

	"github.com/mezbaul-h/june/internal/chunker"
)

type entryKind int

const (
	entryChunk entryKind = iota
	entryEnd             // generation finished normally
	entryAbort           // generation failed, err is set
)

// entry is one item of the hand-off between producer and consumer
type entry struct {
	kind    entryKind
	chunk   chunker.Chunk
	err     error
	started time.Time
}

// Queue is the bounded, ordered hand-off between the producer and the
// consumer of a session. It is safe for concurrent use.
type Queue struct {
	items chan entry
}

// NewQueue creates a queue holding at most size entries
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{items: make(chan entry, size)}
}

// Push blocks until there is room or ctx ends
func (q *Queue) Push(ctx context.Context, e entry) error {
	select {
	case q.items <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop blocks until an entry is available or ctx ends
func (q *Queue) Pop(ctx context.Context) (entry, error) {
	select {
	case e := <-q.items:
		return e, nil
	case <-ctx.Done():
		return entry{}, ctx.Err()
	}
}

// Drain removes every queued entry without blocking and returns how many
// were dropped.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case <-q.items:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued entries
func (q *Queue) Len() int {
	return len(q.items)
}
