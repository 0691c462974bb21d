package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/provider"
	"github.com/mezbaul-h/june/internal/turn"
)

var testFormat = audio.DefaultFormat(16000)

// reply is one scripted generator response
type reply struct {
	deltas []string
	err    error
	block  bool // wait for cancellation after the deltas
}

type scriptedGenerator struct {
	mu      sync.Mutex
	replies []reply
	calls   [][]provider.Message
}

func (g *scriptedGenerator) Generate(ctx context.Context, history []provider.Message) (<-chan provider.Delta, <-chan error) {
	g.mu.Lock()
	g.calls = append(g.calls, append([]provider.Message(nil), history...))
	var r reply
	if len(g.replies) > 0 {
		r = g.replies[0]
		g.replies = g.replies[1:]
	}
	g.mu.Unlock()

	return provider.StreamDeltas(ctx, func(send func(provider.Delta) bool) error {
		for _, d := range r.deltas {
			if !send(provider.Delta{Role: provider.RoleAssistant, Content: d}) {
				return nil
			}
		}
		if r.block {
			<-ctx.Done()
			return nil
		}
		return r.err
	})
}

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// textSynth returns a clip whose payload is the text itself, padded to
// whole samples. Text containing FAIL is rejected.
type textSynth struct {
	mu    sync.Mutex
	texts []string
}

func (s *textSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	if strings.Contains(text, "FAIL") {
		return nil, errors.New("unsupported characters")
	}
	if strings.Contains(text, "CORRUPT") {
		return []byte("not a wav file"), nil
	}
	return audio.EncodeWAV(testFormat, pcmFor(text)), nil
}

func (s *textSynth) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func pcmFor(text string) []byte {
	pcm := []byte(text)
	if len(pcm)%2 == 1 {
		pcm = append(pcm, ' ')
	}
	return pcm
}

// recordingSpeaker collects enqueued audio. Wait takes a little while so
// that callers which do not wait for it are caught.
type recordingSpeaker struct {
	mu        sync.Mutex
	played    []byte
	pending   bool
	discarded int
}

func (s *recordingSpeaker) Enqueue(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, pcm...)
	s.pending = true
	return nil
}

func (s *recordingSpeaker) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
	return nil
}

func (s *recordingSpeaker) Discard() {
	s.mu.Lock()
	s.discarded++
	s.pending = false
	s.mu.Unlock()
}

func (s *recordingSpeaker) IsBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *recordingSpeaker) output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.played)
}

// scriptedInput returns its lines in order, then io.EOF. It records turn
// gate violations: input requested while a response was in flight or audio
// was still queued.
type scriptedInput struct {
	mu         sync.Mutex
	lines      []string
	err        error
	coord      *turn.Coordinator
	speaker    *recordingSpeaker
	violations int
}

func (in *scriptedInput) Next(ctx context.Context) (string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.coord != nil && in.coord.State() != turn.AwaitingInput {
		in.violations++
	}
	if in.speaker != nil && in.speaker.IsBusy() {
		in.violations++
	}
	if len(in.lines) == 0 {
		if in.err != nil {
			return "", in.err
		}
		return "", io.EOF
	}
	line := in.lines[0]
	in.lines = in.lines[1:]
	return line, nil
}
