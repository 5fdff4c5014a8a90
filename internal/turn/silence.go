package turn

import "time"

// Silence commit defaults.
const (
	DefaultMinChars    = 2
	DefaultSilenceHold = 900 * time.Millisecond
	DefaultTick        = 100 * time.Millisecond
)

// SilenceTimer decides on every tick whether the pending utterance is
// complete. The coordinator drives it from its own ticker.
type SilenceTimer struct {
	MinChars int
	Hold     time.Duration
}

// Evaluate reports whether u should be committed at now. While assistant
// playback is active the evaluation is deferred and always false.
func (s SilenceTimer) Evaluate(u *Utterance, now time.Time, playing bool) bool {
	if playing {
		return false
	}
	return u.ShouldCommit(now, s.MinChars, s.Hold)
}
