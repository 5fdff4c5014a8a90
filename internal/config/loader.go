package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"deepgram"},
	"tts":        {"elevenlabs"},
	"embeddings": {"openai", "ollama"},
}

// LoadEnv loads KEY=VALUE pairs from the given dotenv files into the process
// environment. Missing files are skipped; variables already set are kept.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load env %q: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// against the environment, applies defaults and validates the result.
// An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider names only warn; third-party factories may be registered.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameMS < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must be positive", cfg.Audio.FrameMS))
	}

	// Turn
	t := cfg.Turn
	if t.VADGate != 0 && (t.VADGate <= 0 || t.VADGate >= 1) {
		errs = append(errs, fmt.Errorf("turn.vad_gate %.4f is out of range (0, 1)", t.VADGate))
	}
	if t.Smoothing != 0 && (t.Smoothing <= 0 || t.Smoothing > 1) {
		errs = append(errs, fmt.Errorf("turn.smoothing %.4f is out of range (0, 1]", t.Smoothing))
	}
	if t.MinChars < 0 {
		errs = append(errs, fmt.Errorf("turn.min_chars %d must not be negative", t.MinChars))
	}
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"silence_hold", t.SilenceHold},
		{"tick", t.Tick},
		{"barge_hold", t.BargeHold},
		{"resume_delay", t.ResumeDelay},
		{"fast_resume_delay", t.FastResumeDelay},
		{"restart_backoff", t.RestartBackoff},
		{"reply_timeout", t.ReplyTimeout},
	} {
		if f.d < 0 {
			errs = append(errs, fmt.Errorf("turn.%s %s must be positive", f.name, f.d))
		}
	}

	// Session
	s := cfg.Session
	if s.MaxDuration < 0 || s.WarnAt < 0 || s.ClockInterval < 0 {
		errs = append(errs, errors.New("session durations must be positive"))
	}
	if s.MaxDuration > 0 && s.WarnAt > 0 && s.WarnAt >= s.MaxDuration {
		errs = append(errs, fmt.Errorf("session.warn_at %s must be less than session.max_duration %s", s.WarnAt, s.MaxDuration))
	}

	// Summary
	if cfg.Summary.ChunkBudget < 0 {
		errs = append(errs, fmt.Errorf("summary.chunk_budget %d must be at least 1", cfg.Summary.ChunkBudget))
	}
	if cfg.Summary.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("summary.concurrency %d must not be negative", cfg.Summary.Concurrency))
	}
	if cfg.Summary.AssistantLabel != "" && cfg.Summary.AssistantLabel == cfg.Summary.UserLabel {
		errs = append(errs, fmt.Errorf("summary.assistant_label and summary.user_label must differ, both are %q", cfg.Summary.UserLabel))
	}

	// Store
	if cfg.Store.Driver != "" && !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.Store.Driver))
	}
	if cfg.Store.Driver == StorePostgres && cfg.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required when store.driver is postgres"))
	}
	if cfg.Store.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions %d must be positive", cfg.Store.EmbeddingDimensions))
	}

	// Insights
	for i, d := range cfg.Insights.RangeDays {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("insights.range_days[%d] %d must be positive", i, d))
		}
	}

	// Availability warnings
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; sessions cannot reply or summarise")
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Debug("providers.embeddings is not configured; related reflections are disabled")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
