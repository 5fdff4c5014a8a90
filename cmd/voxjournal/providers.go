package main

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxjournal/internal/app"
	"github.com/MrWong99/voxjournal/internal/config"
	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/internal/resilience"
	"github.com/MrWong99/voxjournal/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/voxjournal/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/voxjournal/pkg/provider/embeddings/openai"
	"github.com/MrWong99/voxjournal/pkg/provider/llm"
	"github.com/MrWong99/voxjournal/pkg/provider/llm/anyllm"
	ollamallm "github.com/MrWong99/voxjournal/pkg/provider/llm/ollama"
	oallm "github.com/MrWong99/voxjournal/pkg/provider/llm/openai"
	"github.com/MrWong99/voxjournal/pkg/provider/stt"
	"github.com/MrWong99/voxjournal/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voxjournal/pkg/provider/tts"
	"github.com/MrWong99/voxjournal/pkg/provider/tts/elevenlabs"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Hosted backends without a native client share the any-llm pattern:
	// optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// ollama is a local server; BaseURL is its address.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		return ollamallm.New(entry.BaseURL, entry.Model)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptionString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if dims := entry.OptionInt("dimensions", 0); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := entry.OptionInt("dimensions", 0); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// The LLM is always wrapped in a [resilience.LLMFallback] so the health
// endpoint can report its circuit breaker.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{
		Voice: tts.Voice{
			ID:   cfg.Providers.TTS.OptionString("voice_id"),
			Name: cfg.Providers.TTS.OptionString("voice_name"),
		},
	}

	primary, err := createOptional(cfg.Providers.LLM, "llm", reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	if primary != nil {
		fb := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{}, metrics)
		for i, entry := range cfg.Providers.LLMFallbacks {
			p, err := createOptional(entry, "llm", reg.CreateLLM)
			if err != nil {
				return nil, fmt.Errorf("llm fallback %d: %w", i, err)
			}
			if p != nil {
				fb.AddFallback(entry.Name, p)
			}
		}
		ps.LLM = fb
	}

	if ps.STT, err = createOptional(cfg.Providers.STT, "stt", reg.CreateSTT); err != nil {
		return nil, err
	}
	if ps.TTS, err = createOptional(cfg.Providers.TTS, "tts", reg.CreateTTS); err != nil {
		return nil, err
	}
	if ps.Embeddings, err = createOptional(cfg.Providers.Embeddings, "embeddings", reg.CreateEmbeddings); err != nil {
		return nil, err
	}
	return ps, nil
}

// createOptional builds the provider selected by entry. An empty name or an
// unregistered one yields the zero value; app.New reports missing required
// slots.
func createOptional[P any](entry config.ProviderEntry, kind string, create func(config.ProviderEntry) (P, error)) (P, error) {
	var zero P
	if entry.Name == "" {
		return zero, nil
	}
	p, err := create(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}
