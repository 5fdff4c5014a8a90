package main

import (
	"errors"
	"log/slog"
	"slices"
	"testing"

	"github.com/MrWong99/voxjournal/internal/config"
	"github.com/MrWong99/voxjournal/internal/resilience"
	"github.com/MrWong99/voxjournal/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxjournal/pkg/provider/llm/mock"
	"github.com/MrWong99/voxjournal/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxjournal/pkg/provider/stt/mock"
)

func testRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterLLM("primary", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterLLM("backup", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) { return nil, errors.New("bad key") })
	reg.RegisterSTT("stt", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	return reg
}

func TestBuildProviders_WrapsLLMInFallback(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Providers.LLM = config.ProviderEntry{Name: "primary"}
	cfg.Providers.LLMFallbacks = []config.ProviderEntry{{Name: "backup"}, {Name: "unknown"}}
	cfg.Providers.STT = config.ProviderEntry{Name: "stt"}
	cfg.Providers.TTS = config.ProviderEntry{Name: "tts", Options: map[string]any{"voice_id": "v1", "voice_name": "Calm"}}

	ps, err := buildProviders(cfg, testRegistry(), nil)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	fb, ok := ps.LLM.(*resilience.LLMFallback)
	if !ok {
		t.Fatalf("LLM = %T, want *resilience.LLMFallback", ps.LLM)
	}
	if got, want := fb.Backends(), []string{"primary", "backup"}; !slices.Equal(got, want) {
		t.Errorf("Backends = %v, want %v", got, want)
	}
	if ps.STT == nil {
		t.Error("STT provider not created")
	}
	if ps.TTS != nil {
		t.Error("unregistered TTS should be skipped")
	}
	if ps.Voice.ID != "v1" || ps.Voice.Name != "Calm" {
		t.Errorf("Voice = %+v", ps.Voice)
	}
}

func TestBuildProviders_FactoryError(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Providers.LLM = config.ProviderEntry{Name: "broken"}
	if _, err := buildProviders(cfg, testRegistry(), nil); err == nil {
		t.Fatal("expected error from failing factory")
	}

	cfg.Providers.LLM = config.ProviderEntry{Name: "primary"}
	cfg.Providers.LLMFallbacks = []config.ProviderEntry{{Name: "broken"}}
	if _, err := buildProviders(cfg, testRegistry(), nil); err == nil {
		t.Fatal("expected error from failing fallback factory")
	}
}

func TestBuildProviders_Empty(t *testing.T) {
	t.Parallel()

	ps, err := buildProviders(&config.Config{}, testRegistry(), nil)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.LLM != nil || ps.STT != nil || ps.TTS != nil || ps.Embeddings != nil {
		t.Errorf("expected no providers, got %+v", ps)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			var err error
			entry := config.ProviderEntry{Name: name}
			switch kind {
			case "llm":
				_, err = reg.CreateLLM(entry)
			case "stt":
				_, err = reg.CreateSTT(entry)
			case "tts":
				_, err = reg.CreateTTS(entry)
			case "embeddings":
				_, err = reg.CreateEmbeddings(entry)
			}
			if errors.Is(err, config.ErrProviderNotRegistered) {
				t.Errorf("%s provider %q is not registered", kind, name)
			}
		}
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := slogLevel(tt.in); got != tt.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
