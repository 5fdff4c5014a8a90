// Package ollama provides an embeddings provider backed by a local Ollama
// server, using the official github.com/ollama/ollama/api client against the
// /api/embed endpoint.
//
//	p, err := ollama.New("", "nomic-embed-text") // connects to http://localhost:11434
//	vec, err := p.Embed(ctx, "a quiet walk after work")
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/MrWong99/voxjournal/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using a local Ollama server.
//
// Dimension resolution happens in this order:
//  1. Value supplied via WithDimensions.
//  2. The built-in table for recognised model names.
//  3. A single probe embed on the first Dimensions call, cached afterwards.
//
// Provider is safe for concurrent use.
type Provider struct {
	client *api.Client
	model  string

	dimensions int
	detectOnce sync.Once
}

type config struct {
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions pre-sets the embedding dimension and skips the probe.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// New constructs a Provider. An empty baseURL means [DefaultBaseURL].
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: invalid base URL %q: %w", baseURL, err)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	p := &Provider{
		client:     api.NewClient(parsed, httpClient),
		model:      model,
		dimensions: cfg.dimensions,
	}
	if p.dimensions == 0 {
		p.dimensions = knownDimensions(model)
	}
	return p, nil
}

// Embed implements embeddings.Provider. Model-specific prompt prefixes are the
// caller's responsibility.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{
		Model: p.model,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama embeddings: embed: empty response")
	}
	return resp.Embeddings[0], nil
}

// Dimensions implements embeddings.Provider. For unknown models it probes the
// server once; a failed probe yields 0.
func (p *Provider) Dimensions() int {
	p.detectOnce.Do(func() {
		if p.dimensions != 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if vec, err := p.Embed(ctx, "probe"); err == nil {
			p.dimensions = len(vec)
		}
	})
	return p.dimensions
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	default:
		return 0
	}
}
