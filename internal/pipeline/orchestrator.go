// Package pipeline runs voice assistant sessions: input is turned into a
// generated response, cut into chunks, synthesized, assembled and played,
// one turn at a time.
package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mezbaul-h/june/internal/assembler"
	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/chunker"
	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/provider"
	"github.com/mezbaul-h/june/internal/turn"
)

// Speaker plays assembled audio. *playback.Player and *playback.Spooler
// implement it.
type Speaker interface {
	Enqueue(pcm []byte) error
	Wait(ctx context.Context) error
	Discard()
	IsBusy() bool
}

// Options configures an Orchestrator
type Options struct {
	MinChunkSize int
	QueueSize    int
	SystemPrompt string
	Format       audio.Format       // format of the assembled output
	Assembler    []assembler.Option // options for the per-session assembler

	OnInput     func(text string)
	OnText      func(chunk chunker.Chunk)
	OnTurnError func(err error)

	Metrics *observability.SessionMetrics
}

// Orchestrator runs the turns of one session. Synthesizer and speaker may
// be nil for a text-only session.
type Orchestrator struct {
	coord       *turn.Coordinator
	generator   provider.Generator
	synthesizer provider.Synthesizer
	speaker     Speaker
	opts        Options
	metrics     *observability.SessionMetrics
	history     []provider.Message
	logger      zerolog.Logger
}

// New creates an orchestrator
func New(coord *turn.Coordinator, generator provider.Generator, synthesizer provider.Synthesizer, speaker Speaker, opts Options) *Orchestrator {
	if opts.MinChunkSize < 1 {
		opts.MinChunkSize = chunker.DefaultMinSize
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewSessionMetrics("")
	}

	o := &Orchestrator{
		coord:       coord,
		generator:   generator,
		synthesizer: synthesizer,
		speaker:     speaker,
		opts:        opts,
		metrics:     metrics,
		logger:      observability.WithComponent("pipeline"),
	}
	if opts.SystemPrompt != "" {
		o.history = append(o.history, provider.Message{Role: provider.RoleSystem, Content: opts.SystemPrompt})
	}
	return o
}

// History returns a copy of the conversation so far
func (o *Orchestrator) History() []provider.Message {
	return append([]provider.Message(nil), o.history...)
}

// Run processes turns from source until the exit phrase is heard, the input
// ends or ctx is cancelled. It returns nil on the first two, ctx.Err() on
// cancellation and the input error if the input device fails.
func (o *Orchestrator) Run(ctx context.Context, source InputSource) error {
	queue := NewQueue(o.opts.QueueSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.produce(gctx, source, queue)
	})
	g.Go(func() error {
		o.consume(gctx, queue)
		return nil
	})

	err := g.Wait()
	switch {
	case errors.Is(err, errExit), errors.Is(err, io.EOF):
		o.logger.Info().Msg("Session ended")
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}

func (o *Orchestrator) produce(ctx context.Context, source InputSource, queue *Queue) error {
	for {
		// The previous turn ends when its audio has drained
		if err := o.coord.WaitFor(ctx, turn.AwaitingInput); err != nil {
			return err
		}

		text, err := source.Next(ctx)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if o.opts.OnInput != nil {
			o.opts.OnInput(text)
		}
		if IsExitPhrase(text) {
			return errExit
		}

		o.coord.SetState(turn.ResponseInFlight)
		if err := o.generate(ctx, text, queue); err != nil {
			return err
		}
	}
}

// generate streams one response into the queue. Only cancellation is
// returned as an error; generator failures travel through the queue.
func (o *Orchestrator) generate(ctx context.Context, text string, queue *Queue) error {
	started := time.Now()
	history := append(o.History(), provider.Message{Role: provider.RoleUser, Content: text})

	done := o.metrics.StartCollaborator(observability.Generator)
	deltas, errs := o.generator.Generate(ctx, history)
	chunks := chunker.New(o.opts.MinChunkSize).Run(ctx, deltas)

	var reply strings.Builder
	for c := range chunks {
		reply.WriteString(c.Content)
		if err := queue.Push(ctx, entry{kind: entryChunk, chunk: c}); err != nil {
			return err
		}
	}
	genErr := <-errs
	if ctx.Err() != nil {
		return ctx.Err()
	}
	done(genErr == nil)

	if genErr != nil {
		dropped := queue.Drain()
		o.logger.Error().Err(genErr).Int("dropped_chunks", dropped).Msg("Generation failed")
		o.metrics.RecordError("generation", "pipeline")
		return queue.Push(ctx, entry{kind: entryAbort, err: genErr, started: started})
	}

	o.history = append(history, provider.Message{Role: provider.RoleAssistant, Content: reply.String()})
	return queue.Push(ctx, entry{kind: entryEnd, started: started})
}

// consume synthesizes and plays queued chunks in order until ctx ends
func (o *Orchestrator) consume(ctx context.Context, queue *Queue) {
	asm := assembler.New(o.opts.Assembler...)
	open := false

	for {
		e, err := queue.Pop(ctx)
		if err != nil {
			dropped := queue.Drain()
			if o.speaker != nil {
				o.speaker.Discard()
			}
			o.logger.Debug().Int("dropped_chunks", dropped).Msg("Consumer stopped")
			return
		}

		switch e.kind {
		case entryChunk:
			if o.speak(ctx, asm, open, e.chunk) {
				open = true
			}

		case entryEnd:
			if open {
				o.play(asm.Close())
				open = false
			}
			if o.speaker != nil {
				if err := o.speaker.Wait(ctx); err != nil {
					continue
				}
			}
			o.metrics.RecordTurn("completed", e.started)
			o.coord.SetState(turn.AwaitingInput)

		case entryAbort:
			if o.speaker != nil {
				o.speaker.Discard()
			}
			open = false
			if o.opts.OnTurnError != nil {
				o.opts.OnTurnError(e.err)
			}
			o.metrics.RecordTurn("aborted", e.started)
			o.coord.SetState(turn.AwaitingInput)
		}
	}
}

// speak synthesizes one chunk and queues its audio. It reports whether the
// assembler is open afterwards.
func (o *Orchestrator) speak(ctx context.Context, asm *assembler.Assembler, open bool, c chunker.Chunk) bool {
	o.metrics.RecordChunk()
	if o.opts.OnText != nil {
		o.opts.OnText(c)
	}
	if o.synthesizer == nil || c.IsBlank() {
		return open
	}

	done := o.metrics.StartCollaborator(observability.Synthesizer)
	clip, err := o.synthesizer.Synthesize(ctx, c.Content)
	done(err == nil)
	if err != nil {
		if !errors.Is(err, provider.ErrEmptyText) && ctx.Err() == nil {
			o.logger.Warn().Err(err).Str("chunk", c.Content).Msg("Synthesis failed, dropping chunk")
			o.metrics.RecordError("synthesis", "pipeline")
		}
		return open
	}

	if !open {
		asm.Open(o.opts.Format)
	}
	blocks, err := asm.Append(clip)
	if err != nil {
		o.metrics.RecordClipSkipped()
		return true
	}
	o.play(blocks)
	return true
}

func (o *Orchestrator) play(blocks [][]byte) {
	if o.speaker == nil || len(blocks) == 0 {
		return
	}
	if err := o.speaker.Enqueue(joinBlocks(blocks)); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to queue audio")
	}
}

func joinBlocks(blocks [][]byte) []byte {
	n := 0
	for _, b := range blocks {
		n += len(b)
	}
	out := make([]byte, 0, n)
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}
