// Package deepgram provides a transcriber backed by Deepgram's pre-recorded
// transcription API. Utterances arrive complete, so each one is sent as a
// single WAV upload.
package deepgram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/provider"
	"github.com/mezbaul-h/june/internal/resilience"
)

const (
	defaultModel    = "nova-2"
	defaultLanguage = "en"
)

var _ provider.Transcriber = (*Transcriber)(nil)

// streamer is the part of the SDK REST client used here
type streamer interface {
	DoStream(ctx context.Context, src io.Reader, options *interfaces.PreRecordedTranscriptionOptions, resBody interface{}) error
}

// Transcriber sends utterances to Deepgram
type Transcriber struct {
	client   streamer
	model    string
	language string
	guard    *resilience.Guard
	logger   zerolog.Logger
}

// Option configures a Transcriber
type Option func(*Transcriber)

// WithModel sets the Deepgram model
func WithModel(model string) Option {
	return func(t *Transcriber) {
		if model != "" {
			t.model = model
		}
	}
}

// WithLanguage sets the recognition language
func WithLanguage(lang string) Option {
	return func(t *Transcriber) {
		if lang != "" {
			t.language = lang
		}
	}
}

// WithGuard wraps requests in a breaker and retry
func WithGuard(g *resilience.Guard) Option {
	return func(t *Transcriber) { t.guard = g }
}

// New creates a Deepgram transcriber
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	client := listenClient.NewREST(apiKey, &interfaces.ClientOptions{})
	return newTranscriber(client, opts...), nil
}

func newTranscriber(client streamer, opts ...Option) *Transcriber {
	t := &Transcriber{
		client:   client,
		model:    defaultModel,
		language: defaultLanguage,
		logger:   observability.WithComponent("deepgram_transcriber"),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// response holds the parts of the pre-recorded result we read
type response struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (r *response) transcript() (string, float64) {
	var (
		parts      []string
		confidence float64
	)
	for _, ch := range r.Results.Channels {
		if len(ch.Alternatives) == 0 {
			continue
		}
		best := ch.Alternatives[0]
		if best.Transcript != "" {
			parts = append(parts, best.Transcript)
			confidence = max(confidence, best.Confidence)
		}
	}
	return strings.Join(parts, " "), confidence
}

// Transcribe implements provider.Transcriber
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	wav := audio.EncodeSamples(samples, sampleRate)
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:     t.model,
		Language:  t.language,
		Punctuate: true,
	}

	var res response
	call := func(ctx context.Context) error {
		res = response{}
		return t.client.DoStream(ctx, bytes.NewReader(wav), options, &res)
	}

	var err error
	if t.guard != nil {
		err = t.guard.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("deepgram: transcribe: %w", err)
	}

	text, confidence := res.transcript()
	t.logger.Debug().
		Str("model", t.model).
		Float64("confidence", confidence).
		Int("chars", len(text)).
		Msg("Deepgram transcription")
	return text, nil
}
