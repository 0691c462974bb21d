// Package provider defines the external collaborators of the assistant: the
// text generator, the speech transcriber and the speech synthesizer.
package provider

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Conversation roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyText is returned by synthesizers when nothing speakable remains
// after normalization.
var ErrEmptyText = errors.New("no speakable text")

// Message is one entry of the conversation history
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Delta is one increment of a streamed model response
type Delta struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator streams a response to a conversation.
//
// The delta channel is closed when the model finishes or fails. At most one
// error is sent on the error channel, which is closed after the delta channel.
type Generator interface {
	Generate(ctx context.Context, history []Message) (<-chan Delta, <-chan error)
}

// Transcriber turns normalized mono samples into text
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

// Synthesizer turns text into a WAV clip
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

var unspeakable = regexp.MustCompile(`[^A-Za-z0-9\-_?!.,;:'"\s]`)

// NormalizeSpeech replaces characters a voice cannot pronounce with spaces
// and collapses runs of whitespace.
func NormalizeSpeech(text string) string {
	text = unspeakable.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

// PrepareSpeech normalizes text for a synthesizer and returns ErrEmptyText
// when nothing is left.
func PrepareSpeech(text string) (string, error) {
	text = NormalizeSpeech(text)
	if text == "" {
		return "", ErrEmptyText
	}
	return text, nil
}

// StreamDeltas adapts a callback-driven stream into the Generator channel
// pair. produce is run on its own goroutine and emits deltas through send,
// which reports false once ctx is done.
func StreamDeltas(ctx context.Context, produce func(send func(Delta) bool) error) (<-chan Delta, <-chan error) {
	deltas := make(chan Delta)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(deltas)

		send := func(d Delta) bool {
			select {
			case deltas <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if err := produce(send); err != nil {
			errs <- err
			return
		}
		if err := ctx.Err(); err != nil {
			errs <- err
		}
	}()

	return deltas, errs
}
