package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voxjournal/internal/resilience"
	"github.com/MrWong99/voxjournal/pkg/provider/llm"
	"github.com/MrWong99/voxjournal/pkg/types"
)

// ErrMalformedResponse wraps completions that are not the expected JSON.
var ErrMalformedResponse = errors.New("summary: malformed response")

// Extractor issues structured-extraction requests. Each attempt gets its own
// deadline; a timeout, a transport error and malformed JSON all count as a
// failed attempt.
type Extractor struct {
	LLM llm.Provider

	// Timeout bounds one attempt. Zero means no extra deadline.
	Timeout time.Duration

	// Attempts is the total number of tries. Below 1 means 1.
	Attempts int

	// Backoff is the delay before the second attempt; it doubles after that.
	Backoff time.Duration

	Temperature float64
}

// Validator is implemented by response types with constraints beyond the
// JSON shape.
type Validator interface {
	Validate() error
}

// Extract sends system and user to the model and decodes the completion
// into v.
func (e Extractor) Extract(ctx context.Context, system, user string, v any) error {
	req := llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []types.Message{{Role: types.RoleUser, Content: user}},
		Temperature:  e.Temperature,
		JSONMode:     true,
	}
	return resilience.Retry(ctx, e.Attempts, e.Backoff, func(ctx context.Context) error {
		if e.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.Timeout)
			defer cancel()
		}
		resp, err := e.LLM.Complete(ctx, req)
		if err != nil {
			return err
		}
		if resp == nil {
			return fmt.Errorf("%w: empty completion", ErrMalformedResponse)
		}
		return DecodeJSON(resp.Content, v)
	})
}

// DecodeJSON parses a completion as a single JSON object. A surrounding
// markdown code fence is tolerated; any other text is not.
func DecodeJSON(content string, v any) error {
	s := strings.TrimSpace(content)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		rest, ok = strings.CutSuffix(strings.TrimSpace(rest), "```")
		if !ok {
			return fmt.Errorf("%w: unterminated code fence", ErrMalformedResponse)
		}
		s = strings.TrimSpace(rest)
	}
	if !strings.HasPrefix(s, "{") {
		return fmt.Errorf("%w: not a JSON object", ErrMalformedResponse)
	}

	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrMalformedResponse)
	}
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
	}
	return nil
}
