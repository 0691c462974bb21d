// Package registry builds the configured generator, transcriber and
// synthesizer.
package registry

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mezbaul-h/june/internal/config"
	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/provider"
	"github.com/mezbaul-h/june/internal/provider/cartesia"
	"github.com/mezbaul-h/june/internal/provider/coqui"
	"github.com/mezbaul-h/june/internal/provider/deepgram"
	"github.com/mezbaul-h/june/internal/provider/elevenlabs"
	"github.com/mezbaul-h/june/internal/provider/ollama"
	"github.com/mezbaul-h/june/internal/provider/openai"
	"github.com/mezbaul-h/june/internal/provider/orchestrator"
	"github.com/mezbaul-h/june/internal/resilience"
)

// Set holds the collaborators of a session. Transcriber and Synthesizer are
// nil when their provider is "none".
type Set struct {
	Generator   provider.Generator
	Transcriber provider.Transcriber
	Synthesizer provider.Synthesizer

	closers []io.Closer
}

// HealthChecker is implemented by collaborators that hold a connection
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Build creates every collaborator named by cfg
func Build(cfg *config.Config) (*Set, error) {
	set := &Set{}

	gen, err := NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	set.Generator = gen
	if c, ok := gen.(io.Closer); ok {
		set.closers = append(set.closers, c)
	}

	if set.Transcriber, err = NewTranscriber(cfg); err != nil {
		set.Close()
		return nil, err
	}
	if set.Synthesizer, err = NewSynthesizer(cfg); err != nil {
		set.Close()
		return nil, err
	}

	logger := observability.GetLogger()
	logger.Info().
		Str("generator", cfg.Providers.Generator).
		Str("transcriber", cfg.Providers.Transcriber).
		Str("synthesizer", cfg.Providers.Synthesizer).
		Msg("Providers configured")
	return set, nil
}

// Checks returns readiness checks for collaborators that hold a connection
func (s *Set) Checks() map[string]observability.HealthCheckFunc {
	checks := make(map[string]observability.HealthCheckFunc)
	if hc, ok := s.Generator.(HealthChecker); ok {
		checks["generator"] = func(ctx context.Context) (bool, error) {
			if err := hc.HealthCheck(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return checks
}

// Close releases connections held by the collaborators
func (s *Set) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// NewGenerator creates the configured generator
func NewGenerator(cfg *config.Config) (provider.Generator, error) {
	p := cfg.Providers
	switch p.Generator {
	case config.ProviderOpenAI:
		return openai.NewGenerator(p.OpenAIAPIKey, p.OpenAIModel, openai.WithBaseURL(p.OpenAIBaseURL))
	case config.ProviderOllama:
		return ollama.New(p.OllamaURL, p.OllamaModel)
	case config.ProviderOrchestrator:
		return orchestrator.New(p.OrchestratorURL, p.OrchestratorModel,
			orchestrator.WithTLS(p.OrchestratorTLSEnabled),
			orchestrator.WithReconnect(reconnectConfig(cfg)),
		)
	}
	return nil, fmt.Errorf("unknown generator provider %q", p.Generator)
}

// NewTranscriber creates the configured transcriber, or nil for "none"
func NewTranscriber(cfg *config.Config) (provider.Transcriber, error) {
	p := cfg.Providers
	switch p.Transcriber {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderOpenAI:
		return openai.NewTranscriber(p.OpenAIAPIKey, p.OpenAITranscribeModel, p.OpenAITranscribeLocale,
			openai.WithBaseURL(p.OpenAIBaseURL),
			openai.WithGuard(newGuard(cfg, "openai_transcriber")),
		), nil
	case config.ProviderDeepgram:
		return deepgram.New(p.DeepgramAPIKey,
			deepgram.WithModel(p.DeepgramModel),
			deepgram.WithLanguage(p.DeepgramLanguage),
			deepgram.WithGuard(newGuard(cfg, "deepgram_transcriber")),
		)
	}
	return nil, fmt.Errorf("unknown transcriber provider %q", p.Transcriber)
}

// NewSynthesizer creates the configured synthesizer, or nil for "none"
func NewSynthesizer(cfg *config.Config) (provider.Synthesizer, error) {
	p := cfg.Providers
	switch p.Synthesizer {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderOpenAI:
		return openai.NewSynthesizer(p.OpenAIAPIKey, p.OpenAISpeechModel, p.OpenAIVoice,
			openai.WithBaseURL(p.OpenAIBaseURL),
			openai.WithGuard(newGuard(cfg, "openai_synthesizer")),
		), nil
	case config.ProviderCartesia:
		return cartesia.New(p.CartesiaAPIKey, p.CartesiaVoiceID,
			cartesia.WithURL(p.CartesiaURL),
			cartesia.WithModel(p.CartesiaModelID),
			cartesia.WithSampleRate(cfg.SampleRate),
			cartesia.WithGuard(newGuard(cfg, "cartesia_synthesizer")),
		)
	case config.ProviderElevenLabs:
		return elevenlabs.New(p.ElevenLabsAPIKey, p.ElevenLabsVoiceID,
			elevenlabs.WithURL(p.ElevenLabsURL),
			elevenlabs.WithModel(p.ElevenLabsModelID),
			elevenlabs.WithSampleRate(cfg.SampleRate),
			elevenlabs.WithGuard(newGuard(cfg, "elevenlabs_synthesizer")),
		)
	case config.ProviderCoqui:
		return coqui.New(p.CoquiURL,
			coqui.WithSpeaker(p.CoquiSpeaker),
			coqui.WithLanguage(p.CoquiLang),
			coqui.WithGuard(newGuard(cfg, "coqui_synthesizer")),
		), nil
	}
	return nil, fmt.Errorf("unknown synthesizer provider %q", p.Synthesizer)
}

func newGuard(cfg *config.Config, name string) *resilience.Guard {
	return resilience.NewGuard(name,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		&resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	)
}

func reconnectConfig(cfg *config.Config) *resilience.ReconnectConfig {
	rc := resilience.DefaultReconnectConfig()
	rc.MaxAttempts = cfg.ReconnectMaxAttempts
	rc.Backoff = time.Duration(cfg.ReconnectBackoff) * time.Millisecond
	return rc
}
