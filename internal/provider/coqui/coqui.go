// Package coqui provides a synthesizer backed by a Coqui TTS server.
package coqui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/provider"
	"github.com/mezbaul-h/june/internal/resilience"
)

// DefaultBaseURL is the address of a locally running tts-server
const DefaultBaseURL = "http://localhost:5002"

var _ provider.Synthesizer = (*Synthesizer)(nil)

// Synthesizer requests WAV clips from /api/tts
type Synthesizer struct {
	endpoint   string
	speaker    string
	language   string
	httpClient *http.Client
	guard      *resilience.Guard
	logger     zerolog.Logger
}

// Option is a functional option for Synthesizer
type Option func(*Synthesizer)

// WithSpeaker selects a speaker of a multi-speaker model
func WithSpeaker(id string) Option {
	return func(s *Synthesizer) { s.speaker = id }
}

// WithLanguage selects a language of a multilingual model
func WithLanguage(id string) Option {
	return func(s *Synthesizer) { s.language = id }
}

// WithGuard wraps requests in a breaker and retry
func WithGuard(g *resilience.Guard) Option {
	return func(s *Synthesizer) { s.guard = g }
}

// New creates a synthesizer. An empty baseURL means DefaultBaseURL.
func New(baseURL string, opts ...Option) *Synthesizer {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	s := &Synthesizer{
		endpoint:   strings.TrimRight(baseURL, "/") + "/api/tts",
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     observability.WithComponent("coqui_synthesizer"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize implements provider.Synthesizer
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text, err := provider.PrepareSpeech(text)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("text", text)
	q.Set("speaker_id", s.speaker)
	q.Set("language_id", s.language)
	target := s.endpoint + "?" + q.Encode()

	var clip []byte
	call := func(ctx context.Context) error {
		clip, err = s.get(ctx, target)
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
	s.logger.Debug().Int("bytes", len(clip)).Msg("Synthesized clip")
	return clip, nil
}

func (s *Synthesizer) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("coqui: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	clip, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read audio: %w", err)
	}
	if len(clip) == 0 {
		return nil, errors.New("coqui: empty audio response")
	}
	return clip, nil
}
