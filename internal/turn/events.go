package turn

import (
	"time"

	"github.com/MrWong99/voxjournal/internal/session"
	"github.com/MrWong99/voxjournal/pkg/types"
)

// State is the coordinator's state machine position.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateAwaitingReply
	StateSpeaking
	StateEnded
	StateTimeLimitEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateSpeaking:
		return "speaking"
	case StateEnded:
		return "ended"
	case StateTimeLimitEnded:
		return "time_limit_ended"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is an end state.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateTimeLimitEnded
}

// Event is published on [Coordinator.Events]. The concrete types are
// [StateEvent], [PartialEvent], [TurnEvent], [ClockEvent], [WarningEvent],
// [LevelEvent], [BargeInEvent] and [ErrorEvent].
type Event interface{ event() }

// StateEvent reports a state transition.
type StateEvent struct{ From, To State }

// PartialEvent carries the current recognizer hypothesis.
type PartialEvent struct{ Text string }

// TurnEvent reports a turn appended to the transcript.
type TurnEvent struct{ Turn types.Turn }

// ClockEvent is published on every limiter tick.
type ClockEvent struct{ session.ClockState }

// WarningEvent is published once when the session enters its warning window.
type WarningEvent struct{ Remaining time.Duration }

// LevelSource tells which energy level a [LevelEvent] carries.
type LevelSource int

const (
	LevelMic LevelSource = iota
	LevelOutput
)

// LevelEvent carries a smoothed energy level in [0, 1].
type LevelEvent struct {
	Source LevelSource
	Level  float64
}

// BargeInEvent reports that the user interrupted playback.
type BargeInEvent struct{}

// ErrorEvent reports a non-fatal failure such as a failed reply request.
type ErrorEvent struct{ Err error }

func (StateEvent) event()   {}
func (PartialEvent) event() {}
func (TurnEvent) event()    {}
func (ClockEvent) event()   {}
func (WarningEvent) event() {}
func (LevelEvent) event()   {}
func (BargeInEvent) event() {}
func (ErrorEvent) event()   {}

// Outcome describes how a session ended.
type Outcome struct {
	SessionID string
	State     State
	StartedAt time.Time
	EndedAt   time.Time
	Turns     int
}

// EndedByLimit reports whether the time limit ended the session.
func (o Outcome) EndedByLimit() bool { return o.State == StateTimeLimitEnded }

// Duration returns the session's wall-clock length.
func (o Outcome) Duration() time.Duration { return o.EndedAt.Sub(o.StartedAt) }
