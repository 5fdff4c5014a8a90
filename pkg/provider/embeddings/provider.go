// Package embeddings defines the Provider interface for text-embedding
// backends. Session summaries are embedded so that related past reflections
// can be recalled by vector similarity.
package embeddings

import "context"

// Provider turns text into a dense vector.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the embedding of text. The vector length equals Dimensions.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions is the vector length produced by this provider.
	Dimensions() int

	// ModelID names the embedding model. Vectors from different models are not
	// comparable; stores record the model next to each vector.
	ModelID() string
}
