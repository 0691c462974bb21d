// Package chunker groups streamed model deltas into speakable chunks.
package chunker

import (
	"context"
	"strings"
	"unicode"

	"github.com/mezbaul-h/june/internal/provider"
)

// DefaultMinSize is the number of deltas a chunk must hold before a
// punctuation delta may close it.
const DefaultMinSize = 10

// Chunk is a run of consecutive deltas of one role
type Chunk struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IsBlank reports whether the chunk holds only whitespace
func (c Chunk) IsBlank() bool {
	return strings.TrimSpace(c.Content) == ""
}

func isSplitter(s string) bool {
	switch s {
	case ".", ",", "?", ":", ";":
		return true
	}
	return false
}

func isWhitespace(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}

// Segmenter is the synchronous core of the chunker. A closed chunk is held
// back while the following deltas are whitespace, which is appended to it,
// so that trailing newlines stay with the sentence they end.
type Segmenter struct {
	minSize int
	role    string
	buf     strings.Builder
	count   int
	held    *Chunk
}

// NewSegmenter creates a segmenter. minSize below 1 is treated as 1.
func NewSegmenter(minSize int) *Segmenter {
	if minSize < 1 {
		minSize = 1
	}
	return &Segmenter{minSize: minSize}
}

// Push adds a delta and returns the chunks it completed
func (s *Segmenter) Push(d provider.Delta) []Chunk {
	if d.Content == "" {
		return nil
	}

	var out []Chunk
	if s.role != "" && d.Role != s.role {
		out = s.Flush()
	}
	s.role = d.Role

	if s.held != nil {
		if isWhitespace(d.Content) {
			s.held.Content += d.Content
			return out
		}
		out = append(out, *s.held)
		s.held = nil
	}

	s.buf.WriteString(d.Content)
	s.count++

	if d.Content == "\n" || (isSplitter(d.Content) && s.count >= s.minSize) {
		s.held = &Chunk{Role: s.role, Content: s.buf.String()}
		s.buf.Reset()
		s.count = 0
	}
	return out
}

// Flush returns everything still buffered
func (s *Segmenter) Flush() []Chunk {
	var out []Chunk
	if s.held != nil {
		out = append(out, *s.held)
		s.held = nil
	}
	if s.buf.Len() > 0 {
		out = append(out, Chunk{Role: s.role, Content: s.buf.String()})
		s.buf.Reset()
	}
	s.count = 0
	return out
}

// Chunker turns a delta stream into a chunk stream
type Chunker struct {
	minSize int
	onChunk func(Chunk)
}

// Option configures a Chunker
type Option func(*Chunker)

// WithObserver registers fn to be called for every emitted chunk
func WithObserver(fn func(Chunk)) Option {
	return func(c *Chunker) { c.onChunk = fn }
}

// New creates a chunker with the given minimum chunk size
func New(minSize int, opts ...Option) *Chunker {
	c := &Chunker{minSize: minSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes in until it closes and emits chunks in order. The output is
// closed after the final chunk, or early when ctx is done.
func (c *Chunker) Run(ctx context.Context, in <-chan provider.Delta) <-chan Chunk {
	out := make(chan Chunk)

	go func() {
		defer close(out)
		seg := NewSegmenter(c.minSize)

		emit := func(chunks []Chunk) bool {
			for _, ch := range chunks {
				select {
				case out <- ch:
					if c.onChunk != nil {
						c.onChunk(ch)
					}
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-in:
				if !ok {
					emit(seg.Flush())
					return
				}
				if !emit(seg.Push(d)) {
					return
				}
			}
		}
	}()

	return out
}
