// Package config provides the configuration schema, loader, and provider registry
// for the voxjournal voice journaling service.
package config

import "time"

// LogLevel controls log verbosity for the voxjournal server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreDriver selects the persistence backend.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
)

// IsValid reports whether d is a recognised store driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreMemory, StoreSQLite, StorePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure for voxjournal.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Turn      TurnConfig      `yaml:"turn"`
	Session   SessionConfig   `yaml:"session"`
	Summary   SummaryConfig   `yaml:"summary"`
	Store     StoreConfig     `yaml:"store"`
	Insights  InsightsConfig  `yaml:"insights"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the metrics and health endpoint
	// (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary LLM fails or its
	// circuit breaker is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	STT        ProviderEntry `yaml:"stt"`
	TTS        ProviderEntry `yaml:"tts"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] if it is a string, or "" otherwise.
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptionInt returns Options[key] as an int. YAML integers and floats are
// accepted; anything else yields def.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// AudioConfig configures the local microphone and speaker.
type AudioConfig struct {
	// SampleRate is the capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameMS is the capture frame duration in milliseconds.
	FrameMS int `yaml:"frame_ms"`

	// PlaybackBufferMS sizes the playback ring buffer.
	PlaybackBufferMS int `yaml:"playback_buffer_ms"`
}

// TurnConfig tunes the turn-taking engine. Zero values are replaced by
// [ApplyDefaults].
type TurnConfig struct {
	// VADGate is the RMS level at or below which a frame is silence.
	VADGate float64 `yaml:"vad_gate"`

	// Smoothing is the exponential smoothing factor of the energy level.
	Smoothing float64 `yaml:"smoothing"`

	// MinChars is the shortest utterance the silence timer commits.
	MinChars int `yaml:"min_chars"`

	SilenceHold     time.Duration `yaml:"silence_hold"`
	Tick            time.Duration `yaml:"tick"`
	BargeHold       time.Duration `yaml:"barge_hold"`
	ResumeDelay     time.Duration `yaml:"resume_delay"`
	FastResumeDelay time.Duration `yaml:"fast_resume_delay"`
	RestartBackoff  time.Duration `yaml:"restart_backoff"`
	ReplyTimeout    time.Duration `yaml:"reply_timeout"`
}

// SessionConfig holds per-session settings.
type SessionConfig struct {
	// UserID owns every session started by this process.
	UserID string `yaml:"user_id"`

	MaxDuration time.Duration `yaml:"max_duration"`

	// WarnAt is the remaining time at which a one-time warning is raised.
	WarnAt time.Duration `yaml:"warn_at"`

	// ClockInterval is the limiter tick period.
	ClockInterval time.Duration `yaml:"clock_interval"`

	// SystemPrompt steers the conversational reply.
	SystemPrompt string `yaml:"system_prompt"`
}

// SummaryConfig tunes the summarisation pipeline.
type SummaryConfig struct {
	ChunkBudget    int           `yaml:"chunk_budget"`
	Concurrency    int           `yaml:"concurrency"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Retries is the number of extra attempts per structured request.
	Retries int `yaml:"retries"`

	AssistantLabel string `yaml:"assistant_label"`
	UserLabel      string `yaml:"user_label"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`

	// DSN is the driver connection string. For sqlite it is a file URI
	// such as "file:voxjournal.db"; for postgres a libpq URL.
	DSN string `yaml:"dsn"`

	// EmbeddingDimensions is the vector dimension of the reflections column.
	// Must match the model configured in Providers.Embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// InsightsConfig configures the cached per-range insight variants.
type InsightsConfig struct {
	// RangeDays lists the look-back windows computed after each session.
	RangeDays []int `yaml:"range_days"`
}
