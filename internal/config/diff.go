package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TurnChanged is set when any turn tuning value changed. New tuning
	// applies to the next session.
	TurnChanged bool
	NewTurn     TurnConfig

	// SessionChanged is set when the duration limits or the system prompt
	// changed.
	SessionChanged bool
}

// Any reports whether d contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.TurnChanged || d.SessionChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Turn != new.Turn {
		d.TurnChanged = true
		d.NewTurn = new.Turn
	}

	if old.Session != new.Session {
		d.SessionChanged = true
	}

	return d
}
