package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mezbaul-h/june/internal/assembler"
	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/chunker"
	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/provider"
)

// TextSink receives the chunks of a text response
type TextSink interface {
	WriteChunk(c chunker.Chunk) error
}

// AudioSink receives the blocks of an assembled audio response
type AudioSink interface {
	WriteAudio(block []byte) error
}

// ErrNoSynthesizer is returned for audio responses when no synthesizer is
// configured.
var ErrNoSynthesizer = errors.New("no synthesizer configured")

// Responder answers a single, stateless request. It is safe for concurrent
// use.
type Responder struct {
	generator    provider.Generator
	synthesizer  provider.Synthesizer
	minChunkSize int
	queueSize    int
	format       audio.Format
	asmOpts      []assembler.Option
	logger       zerolog.Logger
}

// NewResponder creates a responder. synthesizer may be nil, in which case
// only text responses are possible.
func NewResponder(generator provider.Generator, synthesizer provider.Synthesizer, opts Options) *Responder {
	if opts.MinChunkSize < 1 {
		opts.MinChunkSize = chunker.DefaultMinSize
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	return &Responder{
		generator:    generator,
		synthesizer:  synthesizer,
		minChunkSize: opts.MinChunkSize,
		queueSize:    opts.QueueSize,
		format:       opts.Format,
		asmOpts:      opts.Assembler,
		logger:       observability.WithComponent("responder"),
	}
}

// CanSpeak reports whether audio responses are available
func (r *Responder) CanSpeak() bool {
	return r.synthesizer != nil
}

// RespondText streams every chunk of the response to sink
func (r *Responder) RespondText(ctx context.Context, history []provider.Message, sink TextSink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deltas, errs := r.generator.Generate(ctx, history)
	chunks := chunker.New(r.minChunkSize).Run(ctx, deltas)

	for c := range chunks {
		if err := sink.WriteChunk(c); err != nil {
			cancel()
			for range chunks {
			}
			<-errs
			return fmt.Errorf("failed to write chunk: %w", err)
		}
	}
	if err := <-errs; err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}
	return nil
}

// RespondAudio streams the response as one assembled audio stream.
// Generation runs ahead of synthesis; chunks are spoken in order and blank
// chunks are skipped.
func (r *Responder) RespondAudio(ctx context.Context, history []provider.Message, sink AudioSink) error {
	if r.synthesizer == nil {
		return ErrNoSynthesizer
	}

	queue := NewQueue(r.queueSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		deltas, errs := r.generator.Generate(gctx, history)
		for c := range chunker.New(r.minChunkSize).Run(gctx, deltas) {
			if err := queue.Push(gctx, entry{kind: entryChunk, chunk: c}); err != nil {
				return err
			}
		}
		if err := <-errs; err != nil {
			return fmt.Errorf("generation failed: %w", err)
		}
		return queue.Push(gctx, entry{kind: entryEnd})
	})

	g.Go(func() error {
		asm := assembler.New(r.asmOpts...)
		asm.Open(r.format)
		write := func(blocks [][]byte) error {
			for _, b := range blocks {
				if err := sink.WriteAudio(b); err != nil {
					return fmt.Errorf("failed to write audio: %w", err)
				}
			}
			return nil
		}

		for {
			e, err := queue.Pop(gctx)
			if err != nil {
				return err
			}
			if e.kind == entryEnd {
				return write(asm.Close())
			}
			if e.chunk.IsBlank() {
				continue
			}

			clip, err := r.synthesizer.Synthesize(gctx, e.chunk.Content)
			if err != nil {
				if !errors.Is(err, provider.ErrEmptyText) {
					r.logger.Warn().Err(err).Str("chunk", e.chunk.Content).Msg("Synthesis failed, dropping chunk")
				}
				continue
			}
			blocks, err := asm.Append(clip)
			if err != nil {
				continue
			}
			if err := write(blocks); err != nil {
				return err
			}
		}
	})

	return g.Wait()
}
