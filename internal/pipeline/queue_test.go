package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mezbaul-h/june/internal/chunker"
)

func TestQueue_Order(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()
	for _, s := range []string{"a", "b", "c"} {
		if err := q.Push(ctx, entry{chunk: chunker.Chunk{Content: s}}); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		e, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if e.chunk.Content != want {
			t.Errorf("Pop() = %q, want %q", e.chunk.Content, want)
		}
	}
}

func TestQueue_PushBlocksWhenFull(t *testing.T) {
	q := NewQueue(1)
	if err := q.Push(context.Background(), entry{}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Push(ctx, entry{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Push() on full queue error = %v, want deadline exceeded", err)
	}
}

func TestQueue_DrainNeverBlocks(t *testing.T) {
	q := NewQueue(8)
	if n := q.Drain(); n != 0 {
		t.Errorf("Drain() on empty queue = %d, want 0", n)
	}
	for i := 0; i < 5; i++ {
		q.Push(context.Background(), entry{})
	}
	if n := q.Drain(); n != 5 {
		t.Errorf("Drain() = %d, want 5", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Drain = %d, want 0", q.Len())
	}
}

func TestQueue_PopHonoursContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Pop() error = %v, want context.Canceled", err)
	}
}

func TestIsExitPhrase(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"please stop now", true},
		{"EXIT", true},
		{"Quit!", true},
		{"ok, stop.", true},
		{"stopwatch", false},
		{"unstoppable", false},
		{"exiting the building", false},
		{"hello there", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsExitPhrase(tt.text); got != tt.want {
			t.Errorf("IsExitPhrase(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
