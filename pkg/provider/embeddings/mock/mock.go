// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxjournal/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
//
// EmbedFunc takes precedence over EmbedResult when set, which lets a test map
// specific texts to specific vectors.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc computes the vector for a text. Optional.
	EmbedFunc func(text string) []float32

	// EmbedResult is returned by Embed when EmbedFunc is nil.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedTexts records the text of every Embed call in order.
	EmbedTexts []string
}

// Embed records the call and returns the configured vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedTexts = append(p.EmbedTexts, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text), nil
	}
	return p.EmbedResult, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// Calls returns a copy of the recorded texts. Thread-safe.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.EmbedTexts))
	copy(out, p.EmbedTexts)
	return out
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)
