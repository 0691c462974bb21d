// Package openai provides the generator, transcriber and synthesizer backed
// by the OpenAI API or any server that speaks it.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"

	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/provider"
	"github.com/mezbaul-h/june/internal/resilience"
)

var (
	_ provider.Generator   = (*Generator)(nil)
	_ provider.Transcriber = (*Transcriber)(nil)
	_ provider.Synthesizer = (*Synthesizer)(nil)
)

const defaultTimeout = 60 * time.Second

// config holds client settings shared by all three collaborators
type config struct {
	baseURL string
	timeout time.Duration
	guard   *resilience.Guard
}

// Option is a functional option for the OpenAI collaborators
type Option func(*config)

// WithBaseURL targets an OpenAI-compatible server
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout. For the generator it only
// bounds the wait for the first response byte.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithGuard wraps transcription and synthesis calls in a breaker and retry
func WithGuard(g *resilience.Guard) Option {
	return func(c *config) { c.guard = g }
}

// newClient builds an API client. A streaming client bounds only the wait
// for response headers so long completions are never cut off mid-stream.
func newClient(apiKey string, opts []Option, streaming bool) (oai.Client, *config) {
	cfg := &config{timeout: defaultTimeout}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{Timeout: cfg.timeout}
	if streaming {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = cfg.timeout
		httpClient = &http.Client{Transport: transport}
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are done by the guard so the breaker sees every attempt
		option.WithMaxRetries(0),
		option.WithHTTPClient(httpClient),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return oai.NewClient(reqOpts...), cfg
}

func guarded(ctx context.Context, g *resilience.Guard, fn func(ctx context.Context) error) error {
	if g == nil {
		return fn(ctx)
	}
	return g.Do(ctx, fn)
}

// Generator streams chat completions
type Generator struct {
	client oai.Client
	model  string
	logger zerolog.Logger
}

// NewGenerator creates a chat completion generator
func NewGenerator(apiKey, model string, opts ...Option) (*Generator, error) {
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}
	client, _ := newClient(apiKey, opts, true)
	return &Generator{
		client: client,
		model:  model,
		logger: observability.WithComponent("openai_generator"),
	}, nil
}

// Generate implements provider.Generator
func (g *Generator) Generate(ctx context.Context, history []provider.Message) (<-chan provider.Delta, <-chan error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(g.model),
		Messages: toMessages(history),
	}

	return provider.StreamDeltas(ctx, func(send func(provider.Delta) bool) error {
		stream := g.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		role := provider.RoleAssistant
		deltas := 0
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Role != "" {
				role = delta.Role
			}
			if delta.Content == "" {
				continue
			}
			if !send(provider.Delta{Role: role, Content: delta.Content}) {
				return nil
			}
			deltas++
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("openai: stream: %w", err)
		}
		g.logger.Debug().Str("model", g.model).Int("deltas", deltas).Msg("Completion finished")
		return nil
	})
}

func toMessages(history []provider.Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case provider.RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))
		case provider.RoleAssistant:
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			out = append(out, oai.UserMessage(m.Content))
		}
	}
	return out
}

// Transcriber uses the audio transcription endpoint
type Transcriber struct {
	client   oai.Client
	model    string
	language string
	guard    *resilience.Guard
}

// NewTranscriber creates a transcriber. language may be empty for
// auto-detection.
func NewTranscriber(apiKey, model, language string, opts ...Option) *Transcriber {
	client, cfg := newClient(apiKey, opts, false)
	if model == "" {
		model = oai.AudioModelWhisper1
	}
	return &Transcriber{client: client, model: model, language: language, guard: cfg.guard}
}

// Transcribe implements provider.Transcriber
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	wav := audio.EncodeSamples(samples, sampleRate)

	var text string
	err := guarded(ctx, t.guard, func(ctx context.Context) error {
		params := oai.AudioTranscriptionNewParams{
			File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
			Model: t.model,
		}
		if t.language != "" {
			params.Language = param.NewOpt(t.language)
		}
		res, err := t.client.Audio.Transcriptions.New(ctx, params)
		if err != nil {
			return err
		}
		text = res.Text
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	return text, nil
}

// Synthesizer uses the speech endpoint with WAV output
type Synthesizer struct {
	client oai.Client
	model  string
	voice  string
	guard  *resilience.Guard
}

// NewSynthesizer creates a synthesizer for the given model and voice
func NewSynthesizer(apiKey, model, voice string, opts ...Option) *Synthesizer {
	client, cfg := newClient(apiKey, opts, false)
	if model == "" {
		model = oai.SpeechModelTTS1
	}
	if voice == "" {
		voice = "alloy"
	}
	return &Synthesizer{client: client, model: model, voice: voice, guard: cfg.guard}
}

// Synthesize implements provider.Synthesizer
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text, err := provider.PrepareSpeech(text)
	if err != nil {
		return nil, err
	}

	var clip []byte
	err = guarded(ctx, s.guard, func(ctx context.Context) error {
		resp, err := s.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
			Input:          text,
			Model:          s.model,
			Voice:          oai.AudioSpeechNewParamsVoice(s.voice),
			ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		clip, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("openai: synthesize: %w", err)
	}
	return clip, nil
}
