// Package cartesia provides a synthesizer backed by Cartesia's bytes endpoint.
package cartesia

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/provider"
	"github.com/mezbaul-h/june/internal/resilience"
)

const (
	// DefaultURL is the Cartesia bytes endpoint
	DefaultURL = "https://api.cartesia.ai/tts/bytes"

	apiVersion     = "2024-06-10"
	defaultTimeout = 30 * time.Second
)

var _ provider.Synthesizer = (*Synthesizer)(nil)

// Synthesizer converts text to WAV clips through Cartesia
type Synthesizer struct {
	apiKey     string
	apiURL     string
	voiceID    string
	modelID    string
	sampleRate int
	httpClient *http.Client
	guard      *resilience.Guard
	logger     zerolog.Logger
}

// Option is a functional option for Synthesizer
type Option func(*Synthesizer)

// WithURL overrides the endpoint
func WithURL(url string) Option {
	return func(s *Synthesizer) {
		if url != "" {
			s.apiURL = url
		}
	}
}

// WithModel sets the Cartesia model id
func WithModel(id string) Option {
	return func(s *Synthesizer) {
		if id != "" {
			s.modelID = id
		}
	}
}

// WithSampleRate sets the rate of the returned clips
func WithSampleRate(rate int) Option {
	return func(s *Synthesizer) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(s *Synthesizer) { s.httpClient = c }
}

// WithGuard wraps requests in a breaker and retry
func WithGuard(g *resilience.Guard) Option {
	return func(s *Synthesizer) { s.guard = g }
}

// New creates a Cartesia synthesizer
func New(apiKey, voiceID string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("cartesia: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("cartesia: voiceID must not be empty")
	}

	s := &Synthesizer{
		apiKey:     apiKey,
		apiURL:     DefaultURL,
		voiceID:    voiceID,
		modelID:    "sonic-english",
		sampleRate: 24000,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     observability.WithComponent("cartesia_synthesizer"),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

type voice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type request struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voice        `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
}

// Synthesize implements provider.Synthesizer
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text, err := provider.PrepareSpeech(text)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(request{
		ModelID:    s.modelID,
		Transcript: text,
		Voice:      voice{Mode: "id", ID: s.voiceID},
		OutputFormat: outputFormat{
			Container:  "wav",
			Encoding:   "pcm_s16le",
			SampleRate: s.sampleRate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cartesia: marshal request: %w", err)
	}

	var clip []byte
	call := func(ctx context.Context) error {
		clip, err = s.post(ctx, body)
		return err
	}
	if s.guard != nil {
		err = s.guard.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Int("chars", len(text)).Int("bytes", len(clip)).Msg("Synthesized clip")
	return clip, nil
}

func (s *Synthesizer) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cartesia: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.apiKey)
	req.Header.Set("Cartesia-Version", apiVersion)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("cartesia: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	clip, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cartesia: read audio: %w", err)
	}
	if len(clip) == 0 {
		return nil, errors.New("cartesia: empty audio response")
	}
	return clip, nil
}
