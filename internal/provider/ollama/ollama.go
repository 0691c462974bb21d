// Package ollama provides a generator backed by the native chat endpoint of
// a local Ollama server.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/provider"
)

// DefaultBaseURL is the address of a locally running Ollama instance
const DefaultBaseURL = "http://localhost:11434"

var _ provider.Generator = (*Generator)(nil)

// Generator streams /api/chat responses
type Generator struct {
	chatURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option is a functional option for Generator
type Option func(*Generator)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(g *Generator) { g.httpClient = c }
}

// New creates a generator. An empty baseURL means DefaultBaseURL.
func New(baseURL, model string, opts ...Option) (*Generator, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	g := &Generator{
		chatURL:    strings.TrimRight(baseURL, "/") + "/api/chat",
		model:      model,
		httpClient: &http.Client{},
		logger:     observability.WithComponent("ollama_generator"),
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

type chatRequest struct {
	Model    string             `json:"model"`
	Messages []provider.Message `json:"messages"`
	Stream   bool               `json:"stream"`
}

type chatResponse struct {
	Message provider.Message `json:"message"`
	Done    bool             `json:"done"`
	Error   string           `json:"error"`
}

// Generate implements provider.Generator
func (g *Generator) Generate(ctx context.Context, history []provider.Message) (<-chan provider.Delta, <-chan error) {
	return provider.StreamDeltas(ctx, func(send func(provider.Delta) bool) error {
		body, err := json.Marshal(chatRequest{Model: g.model, Messages: history, Stream: true})
		if err != nil {
			return fmt.Errorf("ollama: marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.chatURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("ollama: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("ollama: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("ollama: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var chunk chatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				return fmt.Errorf("ollama: decode stream: %w", err)
			}
			if chunk.Error != "" {
				return fmt.Errorf("ollama: %s", chunk.Error)
			}
			if chunk.Message.Content != "" {
				role := chunk.Message.Role
				if role == "" {
					role = provider.RoleAssistant
				}
				if !send(provider.Delta{Role: role, Content: chunk.Message.Content}) {
					return nil
				}
			}
			if chunk.Done {
				g.logger.Debug().Str("model", g.model).Msg("Completion finished")
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("ollama: read stream: %w", err)
		}
		return nil
	})
}
