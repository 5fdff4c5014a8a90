package config

import "time"

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultSampleRate          = 16000
	DefaultFrameMS             = 20
	DefaultPlaybackBufferMS    = 100
	DefaultVADGate             = 0.013
	DefaultSmoothing           = 0.25
	DefaultMinChars            = 2
	DefaultSilenceHold         = 900 * time.Millisecond
	DefaultTick                = 100 * time.Millisecond
	DefaultBargeHold           = 120 * time.Millisecond
	DefaultResumeDelay         = 250 * time.Millisecond
	DefaultFastResumeDelay     = 50 * time.Millisecond
	DefaultRestartBackoff      = 300 * time.Millisecond
	DefaultReplyTimeout        = 20 * time.Second
	DefaultUserID              = "local"
	DefaultMaxDuration         = 20 * time.Minute
	DefaultWarnAt              = 5 * time.Minute
	DefaultClockInterval       = 100 * time.Millisecond
	DefaultChunkBudget         = 8000
	DefaultConcurrency         = 4
	DefaultRequestTimeout      = 30 * time.Second
	DefaultRetries             = 1
	DefaultAssistantLabel      = "Assistant"
	DefaultUserLabel           = "User"
	DefaultEmbeddingDimensions = 1536
	DefaultSQLiteDSN           = "file:voxjournal.db"

	DefaultSystemPrompt = "You are a warm, attentive journaling companion. " +
		"Reply in one or two short spoken sentences and ask at most one gentle follow-up question."
)

// ApplyDefaults fills zero-valued fields of cfg with their defaults. It is
// called by [LoadFromReader] before validation.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Audio.SampleRate, DefaultSampleRate)
	setDefault(&cfg.Audio.FrameMS, DefaultFrameMS)
	setDefault(&cfg.Audio.PlaybackBufferMS, DefaultPlaybackBufferMS)

	t := &cfg.Turn
	setDefault(&t.VADGate, DefaultVADGate)
	setDefault(&t.Smoothing, DefaultSmoothing)
	setDefault(&t.MinChars, DefaultMinChars)
	setDefault(&t.SilenceHold, DefaultSilenceHold)
	setDefault(&t.Tick, DefaultTick)
	setDefault(&t.BargeHold, DefaultBargeHold)
	setDefault(&t.ResumeDelay, DefaultResumeDelay)
	setDefault(&t.FastResumeDelay, DefaultFastResumeDelay)
	setDefault(&t.RestartBackoff, DefaultRestartBackoff)
	setDefault(&t.ReplyTimeout, DefaultReplyTimeout)

	s := &cfg.Session
	setDefault(&s.UserID, DefaultUserID)
	setDefault(&s.MaxDuration, DefaultMaxDuration)
	setDefault(&s.WarnAt, DefaultWarnAt)
	setDefault(&s.ClockInterval, DefaultClockInterval)
	setDefault(&s.SystemPrompt, DefaultSystemPrompt)

	sm := &cfg.Summary
	setDefault(&sm.ChunkBudget, DefaultChunkBudget)
	setDefault(&sm.Concurrency, DefaultConcurrency)
	setDefault(&sm.RequestTimeout, DefaultRequestTimeout)
	setDefault(&sm.Retries, DefaultRetries)
	setDefault(&sm.AssistantLabel, DefaultAssistantLabel)
	setDefault(&sm.UserLabel, DefaultUserLabel)

	setDefault(&cfg.Store.Driver, StoreSQLite)
	setDefault(&cfg.Store.EmbeddingDimensions, DefaultEmbeddingDimensions)
	if cfg.Store.Driver == StoreSQLite {
		setDefault(&cfg.Store.DSN, DefaultSQLiteDSN)
	}

	if len(cfg.Insights.RangeDays) == 0 {
		cfg.Insights.RangeDays = []int{7, 30}
	}
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}
