package chunker

import (
	"context"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/mezbaul-h/june/internal/provider"
)

func assistant(contents ...string) []provider.Delta {
	out := make([]provider.Delta, len(contents))
	for i, c := range contents {
		out[i] = provider.Delta{Role: provider.RoleAssistant, Content: c}
	}
	return out
}

func segment(minSize int, deltas []provider.Delta) []Chunk {
	seg := NewSegmenter(minSize)
	var out []Chunk
	for _, d := range deltas {
		out = append(out, seg.Push(d)...)
	}
	return append(out, seg.Flush()...)
}

func contents(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSegmenter(t *testing.T) {
	tests := []struct {
		name    string
		minSize int
		deltas  []string
		want    []string
	}{
		{
			name:    "sentence with trailing newline",
			minSize: 2,
			deltas:  []string{"Hello", ",", " world", ".", "\n"},
			want:    []string{"Hello,", " world.\n"},
		},
		{
			name:    "splitter below minimum does not flush",
			minSize: 3,
			deltas:  []string{"Hi", ".", " there", "."},
			want:    []string{"Hi. there."},
		},
		{
			name:    "splitter at minimum flushes",
			minSize: 3,
			deltas:  []string{"a", "b", "?", "c"},
			want:    []string{"ab?", "c"},
		},
		{
			name:    "newline always flushes",
			minSize: 10,
			deltas:  []string{"one", "\n", "two"},
			want:    []string{"one\n", "two"},
		},
		{
			name:    "splitter must be the whole delta",
			minSize: 1,
			deltas:  []string{"end.", " next"},
			want:    []string{"end. next"},
		},
		{
			name:    "empty deltas are ignored",
			minSize: 2,
			deltas:  []string{"", "a", "", ";", "", "b"},
			want:    []string{"a;", "b"},
		},
		{
			name:    "whitespace run stays with the closed chunk",
			minSize: 1,
			deltas:  []string{"Done", ".", " ", "\n\n", "Next"},
			want:    []string{"Done. \n\n", "Next"},
		},
		{
			name:    "leading newline",
			minSize: 5,
			deltas:  []string{"\n", "x"},
			want:    []string{"\n", "x"},
		},
		{
			name:    "no deltas",
			minSize: 2,
			deltas:  nil,
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := contents(segment(tt.minSize, assistant(tt.deltas...)))
			if !equal(got, tt.want) {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSegmenter_RoleChangeFlushes(t *testing.T) {
	deltas := []provider.Delta{
		{Role: provider.RoleSystem, Content: "note"},
		{Role: provider.RoleAssistant, Content: "reply"},
		{Role: provider.RoleAssistant, Content: "\n"},
	}

	got := segment(10, deltas)
	if len(got) != 2 {
		t.Fatalf("Expected 2 chunks, got %+v", got)
	}
	if got[0].Role != provider.RoleSystem || got[0].Content != "note" {
		t.Errorf("Unexpected first chunk %+v", got[0])
	}
	if got[1].Role != provider.RoleAssistant || got[1].Content != "reply\n" {
		t.Errorf("Unexpected second chunk %+v", got[1])
	}
}

func TestChunk_IsBlank(t *testing.T) {
	if !(Chunk{Content: " \n"}).IsBlank() {
		t.Error("Expected whitespace chunk to be blank")
	}
	if (Chunk{Content: " a "}).IsBlank() {
		t.Error("Expected text chunk not to be blank")
	}
}

func TestChunker_Run(t *testing.T) {
	in := make(chan provider.Delta)
	go func() {
		defer close(in)
		for _, d := range assistant("Hello", ",", " world", ".", "\n") {
			in <- d
		}
	}()

	var observed int
	c := New(2, WithObserver(func(Chunk) { observed++ }))

	var got []string
	for ch := range c.Run(context.Background(), in) {
		got = append(got, ch.Content)
	}

	want := []string{"Hello,", " world.\n"}
	if !equal(got, want) {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if observed != 2 {
		t.Errorf("Expected observer to see 2 chunks, saw %d", observed)
	}
}

func TestChunker_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan provider.Delta)

	out := New(1).Run(ctx, in)
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Error("Expected no chunks after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("Chunk stream was not closed after cancel")
	}
}

func TestSegmenter_Lossless(t *testing.T) {
	pieces := []string{"", "a", "word", " ", "\n", ".", ",", "?", ":", ";", "  ", "x.", "\t"}

	rapid.Check(t, func(t *rapid.T) {
		minSize := rapid.IntRange(1, 6).Draw(t, "minSize")
		raw := rapid.SliceOf(rapid.SampledFrom(pieces)).Draw(t, "deltas")

		chunks := segment(minSize, assistant(raw...))

		var joined strings.Builder
		for _, c := range chunks {
			if c.Content == "" {
				t.Fatal("empty chunk emitted")
			}
			joined.WriteString(c.Content)
		}
		if want := strings.Join(raw, ""); joined.String() != want {
			t.Fatalf("Expected concatenation %q, got %q", want, joined.String())
		}
	})
}
