// Package ollama provides an LLM provider backed by a local Ollama server
// through the official github.com/ollama/ollama/api client.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/MrWong99/voxjournal/pkg/provider/llm"
	"github.com/MrWong99/voxjournal/pkg/types"
)

// DefaultHost is used when no base URL is configured.
const DefaultHost = "http://localhost:11434"

// jsonFormat is the Ollama format value that constrains output to JSON.
var jsonFormat = json.RawMessage(`"json"`)

// Provider implements llm.Provider against an Ollama server.
type Provider struct {
	client *api.Client
	model  string
}

// Option is a functional option for Provider.
type Option func(*http.Client)

// WithTimeout sets the HTTP client timeout. Defaults to 60s.
func WithTimeout(d time.Duration) Option {
	return func(c *http.Client) {
		c.Timeout = d
	}
}

// New creates a Provider for model on host. An empty host means [DefaultHost].
func New(host, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model must not be empty")
	}
	if host == "" {
		host = DefaultHost
	}
	parsed, err := url.Parse(strings.TrimSuffix(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid host %q: %w", host, err)
	}

	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	for _, o := range opts {
		o(httpClient)
	}

	return &Provider{client: api.NewClient(parsed, httpClient), model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var final api.ChatResponse
	err := p.client.Chat(ctx, p.buildRequest(req), func(resp api.ChatResponse) error {
		final = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: chat: %w", err)
	}

	return &llm.CompletionResponse{
		Content: strings.TrimSpace(final.Message.Content),
		Usage: llm.Usage{
			PromptTokens:     final.PromptEvalCount,
			CompletionTokens: final.EvalCount,
			TotalTokens:      final.PromptEvalCount + final.EvalCount,
		},
	}, nil
}

// Ping checks that the Ollama server is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	if err := p.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama: heartbeat: %w", err)
	}
	return nil
}

func (p *Provider) buildRequest(req llm.CompletionRequest) *api.ChatRequest {
	messages := make([]api.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: types.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	stream := false
	out := &api.ChatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if req.Temperature != 0 {
		out.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		out.Options["num_predict"] = req.MaxTokens
	}
	if req.JSONMode {
		out.Format = jsonFormat
	}
	return out
}

var _ llm.Provider = (*Provider)(nil)
