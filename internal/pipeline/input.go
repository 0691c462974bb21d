package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mezbaul-h/june/internal/capture"
	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/provider"
)

// InputSource yields user input one turn at a time. Next returns "" when
// nothing usable was heard and io.EOF when input has ended for good.
type InputSource interface {
	Next(ctx context.Context) (string, error)
}

// Recorder captures one utterance. *capture.Recorder implements it.
type Recorder interface {
	Record(ctx context.Context) (*capture.Utterance, error)
}

// VoiceInput records utterances and transcribes them
type VoiceInput struct {
	recorder    Recorder
	transcriber provider.Transcriber
	metrics     *observability.SessionMetrics
	logger      zerolog.Logger
}

// NewVoiceInput creates a voice input source. metrics may be nil.
func NewVoiceInput(recorder Recorder, transcriber provider.Transcriber, metrics *observability.SessionMetrics) *VoiceInput {
	return &VoiceInput{
		recorder:    recorder,
		transcriber: transcriber,
		metrics:     metrics,
		logger:      observability.WithComponent("voice_input"),
	}
}

// Next records and transcribes one utterance. A failed transcription is
// logged and reported as no input.
func (v *VoiceInput) Next(ctx context.Context) (string, error) {
	u, err := v.recorder.Record(ctx)
	if err != nil {
		return "", err
	}
	if u == nil {
		// The device closed before anything was said
		return "", io.EOF
	}

	var done func(bool)
	if v.metrics != nil {
		done = v.metrics.StartCollaborator(observability.Transcriber)
	}
	text, err := v.transcriber.Transcribe(ctx, u.Samples, u.SampleRate)
	if done != nil {
		done(err == nil)
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		v.logger.Warn().Err(err).Dur("utterance", u.Duration()).Msg("Transcription failed")
		if v.metrics != nil {
			v.metrics.RecordError("transcription", "voice_input")
		}
		return "", nil
	}

	text = strings.TrimSpace(text)
	v.logger.Info().Str("transcript", text).Dur("utterance", u.Duration()).Msg("Heard")
	return text, nil
}

// TextInput reads one line per turn
type TextInput struct {
	prompt io.Writer
	lines  chan string
	errs   chan error
	once   sync.Once
	r      io.Reader
}

// NewTextInput reads lines from r. If prompt is non-nil a "> " prompt is
// written before each read.
func NewTextInput(r io.Reader, prompt io.Writer) *TextInput {
	return &TextInput{
		r:      r,
		prompt: prompt,
		lines:  make(chan string),
		errs:   make(chan error, 1),
	}
}

func (t *TextInput) start() {
	go func() {
		scanner := bufio.NewScanner(t.r)
		for scanner.Scan() {
			t.lines <- scanner.Text()
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		t.errs <- err
		close(t.lines)
	}()
}

// Next returns the next line. The reader goroutine outlives a cancelled
// call and its line is delivered to the following one.
func (t *TextInput) Next(ctx context.Context) (string, error) {
	t.once.Do(t.start)
	if t.prompt != nil {
		fmt.Fprint(t.prompt, "> ")
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-t.lines:
		if !ok {
			err := <-t.errs
			t.errs <- err
			return "", err
		}
		return line, nil
	}
}
