// Package elevenlabs provides a synthesizer backed by the ElevenLabs
// text-to-speech endpoint.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/provider"
	"github.com/mezbaul-h/june/internal/resilience"
)

const (
	// DefaultURL is the ElevenLabs API base
	DefaultURL = "https://api.elevenlabs.io"

	defaultModel   = "eleven_turbo_v2_5"
	defaultTimeout = 30 * time.Second
)

// Raw PCM rates the endpoint can return. Other session rates are resampled
// from the fallback.
var (
	pcmRates     = []int{16000, 22050, 24000, 44100}
	fallbackRate = 24000
)

var _ provider.Synthesizer = (*Synthesizer)(nil)

// Synthesizer converts text to WAV clips through ElevenLabs
type Synthesizer struct {
	apiKey     string
	baseURL    string
	voiceID    string
	modelID    string
	sampleRate int
	httpClient *http.Client
	guard      *resilience.Guard
	logger     zerolog.Logger
}

// Option is a functional option for Synthesizer
type Option func(*Synthesizer)

// WithURL overrides the API base
func WithURL(u string) Option {
	return func(s *Synthesizer) {
		if u != "" {
			s.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithModel sets the ElevenLabs model id
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

// New creates an ElevenLabs synthesizer
func New(apiKey, voiceID string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}

	s := &Synthesizer{
		apiKey:     apiKey,
		baseURL:    DefaultURL,
		voiceID:    voiceID,
		modelID:    defaultModel,
		sampleRate: 24000,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     observability.WithComponent("elevenlabs_synthesizer"),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

type request struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// sourceRate is the PCM rate requested from the endpoint
func (s *Synthesizer) sourceRate() int {
	if slices.Contains(pcmRates, s.sampleRate) {
		return s.sampleRate
	}
	return fallbackRate
}

// Synthesize implements provider.Synthesizer
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text, err := provider.PrepareSpeech(text)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(request{Text: text, ModelID: s.modelID})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	var pcm []byte
	call := func(ctx context.Context) error {
		pcm, err = s.post(ctx, body)
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

	if from := s.sourceRate(); from != s.sampleRate {
		if pcm, err = audio.Resample(pcm, 1, from, s.sampleRate); err != nil {
			return nil, fmt.Errorf("elevenlabs: resample: %w", err)
		}
	}

	s.logger.Debug().Int("chars", len(text)).Int("bytes", len(pcm)).Msg("Synthesized clip")
	return audio.EncodeWAV(audio.DefaultFormat(s.sampleRate), pcm), nil
}

func (s *Synthesizer) post(ctx context.Context, body []byte) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_%d",
		s.baseURL, url.PathEscape(s.voiceID), s.sourceRate())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("elevenlabs: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, errors.New("elevenlabs: empty audio response")
	}
	// 16-bit samples; a stray trailing byte cannot be played
	return pcm[:len(pcm)&^1], nil
}
