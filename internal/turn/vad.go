// Package turn implements the turn-taking engine: voice activity detection,
// utterance accumulation and silence commit, recognition lifecycle, barge-in
// detection, and the [Coordinator] that serialises all of them onto one
// goroutine.
package turn

import "github.com/MrWong99/voxjournal/pkg/audio"

// DefaultVADGate is the RMS level at or below which a frame is silence.
const DefaultVADGate = 0.013

// DefaultSmoothing is the exponential smoothing factor for energy levels.
const DefaultSmoothing = 0.25

// RMS returns the normalised root-mean-square energy of the valid samples of f.
func RMS(f audio.Frame) float64 { return audio.RMS(f.Valid()) }

// VAD classifies frames as voiced or silent and keeps a smoothed energy
// level for display. It is not safe for concurrent use; the coordinator owns it.
type VAD struct {
	gate  float64
	alpha float64
	level float64
}

// NewVAD returns a detector with the given gate and smoothing factor. Zero
// values select the defaults.
func NewVAD(gate, alpha float64) *VAD {
	if gate <= 0 {
		gate = DefaultVADGate
	}
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultSmoothing
	}
	return &VAD{gate: gate, alpha: alpha}
}

// Process classifies f. Empty frames are silence and leave the level untouched.
func (v *VAD) Process(f audio.Frame) bool {
	samples := f.Valid()
	if len(samples) == 0 {
		return false
	}
	return v.Observe(audio.RMS(samples))
}

// Observe updates the level with a precomputed RMS and classifies it.
func (v *VAD) Observe(rms float64) bool {
	v.level += v.alpha * (rms - v.level)
	return rms > v.gate
}

// Level returns the smoothed energy in [0, 1].
func (v *VAD) Level() float64 {
	return min(max(v.level, 0), 1)
}

// Gate returns the silence threshold.
func (v *VAD) Gate() float64 { return v.gate }
