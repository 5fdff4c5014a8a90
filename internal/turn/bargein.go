package turn

import "time"

// DefaultBargeHold is how long energy must stay above the barge-in gate.
const DefaultBargeHold = 120 * time.Millisecond

// minBargeGate is the floor of the barge-in gate. Echo from playback raises
// the noise floor above the normal VAD gate.
const minBargeGate = 0.015

// BargeGate returns the barge-in gate derived from the VAD gate.
func BargeGate(vadGate float64) float64 {
	return max(minBargeGate, vadGate*1.2)
}

// BargeInMonitor detects the user speaking over assistant playback. It only
// reacts while armed and fires at most once per sustained burst. It is not
// safe for concurrent use.
type BargeInMonitor struct {
	gate  float64
	hold  time.Duration
	armed bool

	above      bool
	aboveSince time.Time
	fired      bool
}

// NewBargeInMonitor returns a disarmed monitor for the given VAD gate.
func NewBargeInMonitor(vadGate float64, hold time.Duration) *BargeInMonitor {
	if hold <= 0 {
		hold = DefaultBargeHold
	}
	return &BargeInMonitor{gate: BargeGate(vadGate), hold: hold}
}

// Arm starts monitoring with a clean burst state.
func (b *BargeInMonitor) Arm() {
	b.armed = true
	b.above, b.fired = false, false
}

// Disarm stops monitoring.
func (b *BargeInMonitor) Disarm() {
	b.armed = false
	b.above, b.fired = false, false
}

// Armed reports whether the monitor is active.
func (b *BargeInMonitor) Armed() bool { return b.armed }

// Gate returns the energy threshold.
func (b *BargeInMonitor) Gate() float64 { return b.gate }

// Process feeds one frame's RMS observed at now. It returns true exactly once
// when energy has stayed above the gate for the hold window.
func (b *BargeInMonitor) Process(rms float64, now time.Time) bool {
	if !b.armed {
		return false
	}
	if rms <= b.gate {
		b.above, b.fired = false, false
		return false
	}
	if !b.above {
		b.above, b.aboveSince = true, now
	}
	if b.fired || now.Sub(b.aboveSince) < b.hold {
		return false
	}
	b.fired = true
	return true
}
