// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance and so on) and exposes a single request/response call. The
// conversational reply path and every summarisation stage go through this
// interface, so neither is coupled to a specific SDK.
//
// Implementors must be safe for concurrent use; the chunk extraction stage
// issues several Complete calls at once.
package llm

import (
	"context"

	"github.com/MrWong99/voxjournal/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation history.
	SystemPrompt string

	// Messages is the ordered conversation history.
	Messages []types.Message

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// JSONMode asks the backend to constrain its output to a single JSON
	// object. Backends without native support rely on the prompt alone; callers
	// must still validate the returned content.
	JSONMode bool
}

// CompletionResponse is the full reply to a [CompletionRequest].
type CompletionResponse struct {
	// Content is the text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error if the request fails or if ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
