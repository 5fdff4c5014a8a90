package session

import "time"

// ClockState is the derived view of a session clock at one instant.
type ClockState struct {
	Elapsed     time.Duration
	Remaining   time.Duration
	HasWarned   bool
	IsOverLimit bool
}

// TimeLimiter compares elapsed session time to a cap. It holds no mutable
// state; [TimeLimiter.Compute] is a pure function of now.
//
// WarnAt is the remaining time at or below which the session is in its
// warning window. A zero MaxDuration disables the limit.
type TimeLimiter struct {
	StartedAt   time.Time
	MaxDuration time.Duration
	WarnAt      time.Duration
}

// Compute derives the clock state at now. A now before StartedAt counts
// as zero elapsed, so both flags are monotonic for a clock moving forward.
func (l TimeLimiter) Compute(now time.Time) ClockState {
	elapsed := max(now.Sub(l.StartedAt), 0)
	if l.MaxDuration <= 0 {
		return ClockState{Elapsed: elapsed}
	}
	remaining := max(l.MaxDuration-elapsed, 0)
	return ClockState{
		Elapsed:     elapsed,
		Remaining:   remaining,
		HasWarned:   remaining <= l.WarnAt,
		IsOverLimit: remaining <= 0,
	}
}
