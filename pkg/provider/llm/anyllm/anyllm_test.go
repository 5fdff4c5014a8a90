package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxjournal/pkg/provider/llm"
	"github.com/MrWong99/voxjournal/pkg/types"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	for _, role := range []string{types.RoleSystem, types.RoleUser, types.RoleAssistant} {
		msg := convertMessage(types.Message{Role: role, Content: "hello"})
		if msg.Role != role {
			t.Errorf("role = %q, want %q", msg.Role, role)
		}
		if msg.ContentString() != "hello" {
			t.Errorf("content = %q, want hello", msg.ContentString())
		}
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o-mini"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "be brief",
		Messages:     []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Temperature:  0.3,
		MaxTokens:    200,
	})

	if params.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 200 {
		t.Errorf("max tokens = %v, want 200", params.MaxTokens)
	}
}

func TestBuildParams_ZeroOptionalFields(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	if len(params.Messages) != 1 {
		t.Fatalf("messages = %d, want 1 without system prompt", len(params.Messages))
	}
	if params.Temperature != nil {
		t.Error("temperature should be unset")
	}
	if params.MaxTokens != nil {
		t.Error("max tokens should be unset")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider string
		model    string
		wantSub  string
	}{
		{"empty provider", "", "m", "providerName"},
		{"empty model", "openai", "", "model"},
		{"unsupported", "nope", "m", "unsupported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.provider, tt.model)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestNew_OpenAI_WithAPIKey(t *testing.T) {
	t.Parallel()
	p, err := New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != "gpt-4o-mini" {
		t.Errorf("model = %q", p.model)
	}
}

func TestNew_Ollama_NoAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("ollama", "llama3.2"); err != nil {
		t.Fatalf("ollama should not require an API key: %v", err)
	}
}
