package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Provider names accepted for each collaborator.
const (
	ProviderOpenAI       = "openai"
	ProviderOllama       = "ollama"
	ProviderOrchestrator = "orchestrator"
	ProviderDeepgram     = "deepgram"
	ProviderCartesia     = "cartesia"
	ProviderCoqui        = "coqui"
	ProviderElevenLabs   = "elevenlabs"
	ProviderNone         = "none"
)

var (
	generatorProviders   = []string{ProviderOpenAI, ProviderOllama, ProviderOrchestrator}
	transcriberProviders = []string{ProviderOpenAI, ProviderDeepgram, ProviderNone}
	synthesizerProviders = []string{ProviderOpenAI, ProviderCartesia, ProviderElevenLabs, ProviderCoqui, ProviderNone}
)

// Config holds all configuration for the assistant and the API server
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8000"`

	// Optional YAML file overlaying the provider section
	ConfigFile string `envconfig:"CONFIG_FILE" default:""`

	// Audio capture configuration
	SampleRate   int           `envconfig:"SAMPLE_RATE" default:"24000"`        // Hz, constant across a session
	FrameSize    int           `envconfig:"FRAME_SIZE" default:"2048"`          // Samples per capture frame
	VADThreshold int           `envconfig:"VAD_THRESHOLD" default:"1000"`       // Level below which a frame is silent
	VADMode      string        `envconfig:"VAD_CLASSIFIER" default:"peak"`      // peak or energy (RMS)
	SilenceLimit time.Duration `envconfig:"SILENCE_LIMIT" default:"2s"`         // Silence that ends a recording
	InputBuffer  int           `envconfig:"INPUT_BUFFER_SIZE" default:"262144"` // Network input ring buffer, bytes

	// Streaming configuration
	MinChunkSize   int           `envconfig:"MIN_CHUNK_SIZE" default:"10"`     // Deltas before a splitter may flush
	BlockSize      int           `envconfig:"BLOCK_SIZE" default:"1024"`       // Output transfer block, bytes
	QueueSize      int           `envconfig:"QUEUE_SIZE" default:"64"`         // Chunk hand-off queue capacity
	HeaderSizeMode string        `envconfig:"HEADER_SIZE_MODE" default:"zero"` // zero or max
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"250ms"`   // Playback drain polling
	SystemPrompt   string        `envconfig:"SYSTEM_PROMPT" default:""`

	Providers Providers

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Providers selects and configures the generator, transcriber and synthesizer.
type Providers struct {
	Generator   string `envconfig:"GENERATOR_PROVIDER" default:"ollama" yaml:"generator"`
	Transcriber string `envconfig:"TRANSCRIBER_PROVIDER" default:"none" yaml:"transcriber"`
	Synthesizer string `envconfig:"SYNTHESIZER_PROVIDER" default:"none" yaml:"synthesizer"`

	OpenAIAPIKey           string `envconfig:"OPENAI_API_KEY" yaml:"openai_api_key"`
	OpenAIBaseURL          string `envconfig:"OPENAI_BASE_URL" yaml:"openai_base_url"`
	OpenAIModel            string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini" yaml:"openai_model"`
	OpenAITranscribeModel  string `envconfig:"OPENAI_TRANSCRIBE_MODEL" default:"whisper-1" yaml:"openai_transcribe_model"`
	OpenAISpeechModel      string `envconfig:"OPENAI_SPEECH_MODEL" default:"tts-1" yaml:"openai_speech_model"`
	OpenAIVoice            string `envconfig:"OPENAI_VOICE" default:"alloy" yaml:"openai_voice"`
	OpenAITranscribeLocale string `envconfig:"OPENAI_TRANSCRIBE_LANGUAGE" default:"en" yaml:"openai_transcribe_language"`

	OllamaURL   string `envconfig:"OLLAMA_URL" default:"http://localhost:11434" yaml:"ollama_url"`
	OllamaModel string `envconfig:"OLLAMA_MODEL" default:"llama3.1:8b-instruct-q4_0" yaml:"ollama_model"`

	OrchestratorURL        string `envconfig:"ORCHESTRATOR_URL" default:"localhost:50051" yaml:"orchestrator_url"`
	OrchestratorTLSEnabled bool   `envconfig:"ORCHESTRATOR_TLS_ENABLED" default:"false" yaml:"orchestrator_tls_enabled"`
	OrchestratorModel      string `envconfig:"ORCHESTRATOR_MODEL" default:"" yaml:"orchestrator_model"`

	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" yaml:"deepgram_api_key"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2" yaml:"deepgram_model"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en" yaml:"deepgram_language"`

	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" yaml:"cartesia_api_key"`
	CartesiaURL     string `envconfig:"CARTESIA_URL" default:"https://api.cartesia.ai/tts/bytes" yaml:"cartesia_url"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"a0e99841-438c-4a64-b679-ae501e7d6091" yaml:"cartesia_voice_id"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic-english" yaml:"cartesia_model_id"`

	ElevenLabsAPIKey  string `envconfig:"ELEVENLABS_API_KEY" yaml:"elevenlabs_api_key"`
	ElevenLabsURL     string `envconfig:"ELEVENLABS_URL" default:"https://api.elevenlabs.io" yaml:"elevenlabs_url"`
	ElevenLabsVoiceID string `envconfig:"ELEVENLABS_VOICE_ID" default:"21m00Tcm4TlvDq8ikWAM" yaml:"elevenlabs_voice_id"`
	ElevenLabsModelID string `envconfig:"ELEVENLABS_MODEL_ID" default:"eleven_turbo_v2_5" yaml:"elevenlabs_model_id"`

	CoquiURL     string `envconfig:"COQUI_URL" default:"http://localhost:5002" yaml:"coqui_url"`
	CoquiSpeaker string `envconfig:"COQUI_SPEAKER" default:"" yaml:"coqui_speaker"`
	CoquiLang    string `envconfig:"COQUI_LANGUAGE" default:"" yaml:"coqui_language"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyFile overlays the providers section of a YAML file. Keys missing from
// the file keep their environment values.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	doc := struct {
		Providers Providers `yaml:"providers"`
	}{Providers: c.Providers}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.Providers = doc.Providers
	return nil
}

// Validate checks provider names, required credentials and numeric bounds
func (c *Config) Validate() error {
	p := c.Providers
	if !oneOf(p.Generator, generatorProviders) {
		return fmt.Errorf("unknown GENERATOR_PROVIDER %q", p.Generator)
	}
	if !oneOf(p.Transcriber, transcriberProviders) {
		return fmt.Errorf("unknown TRANSCRIBER_PROVIDER %q", p.Transcriber)
	}
	if !oneOf(p.Synthesizer, synthesizerProviders) {
		return fmt.Errorf("unknown SYNTHESIZER_PROVIDER %q", p.Synthesizer)
	}

	usesOpenAI := p.Generator == ProviderOpenAI || p.Transcriber == ProviderOpenAI || p.Synthesizer == ProviderOpenAI
	if usesOpenAI && p.OpenAIAPIKey == "" && p.OpenAIBaseURL == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if p.Transcriber == ProviderDeepgram && p.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if p.Synthesizer == ProviderCartesia && p.CartesiaAPIKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required")
	}
	if p.Synthesizer == ProviderElevenLabs && p.ElevenLabsAPIKey == "" {
		return fmt.Errorf("ELEVENLABS_API_KEY is required")
	}

	if c.SampleRate <= 0 || c.FrameSize <= 0 {
		return fmt.Errorf("SAMPLE_RATE and FRAME_SIZE must be positive")
	}
	if c.VADMode != "peak" && c.VADMode != "energy" {
		return fmt.Errorf("VAD_CLASSIFIER must be peak or energy, got %q", c.VADMode)
	}
	if c.MinChunkSize < 1 {
		return fmt.Errorf("MIN_CHUNK_SIZE must be at least 1")
	}
	if c.BlockSize <= 0 || c.BlockSize%2 != 0 {
		return fmt.Errorf("BLOCK_SIZE must be a positive even number")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QUEUE_SIZE must be at least 1")
	}
	if c.HeaderSizeMode != "zero" && c.HeaderSizeMode != "max" {
		return fmt.Errorf("HEADER_SIZE_MODE must be zero or max, got %q", c.HeaderSizeMode)
	}
	return nil
}

// VoiceInput reports whether spoken input is configured
func (c *Config) VoiceInput() bool {
	return c.Providers.Transcriber != ProviderNone
}

// VoiceOutput reports whether spoken output is configured
func (c *Config) VoiceOutput() bool {
	return c.Providers.Synthesizer != ProviderNone
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
