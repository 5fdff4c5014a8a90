package turn

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Utterance accumulates the recognizer's hypothesis for the current user
// utterance. Each update replaces the text; the recognizer always reports
// the whole utterance, not a delta.
type Utterance struct {
	text        string
	lastVoiceAt time.Time
}

// Update replaces the hypothesis.
func (u *Utterance) Update(text string) { u.text = text }

// Voice records voiced energy at at.
func (u *Utterance) Voice(at time.Time) { u.lastVoiceAt = at }

// Text returns the current hypothesis, trimmed.
func (u *Utterance) Text() string { return strings.TrimSpace(u.text) }

// LastVoiceAt returns when voice was last detected.
func (u *Utterance) LastVoiceAt() time.Time { return u.lastVoiceAt }

// Reset clears the accumulator after a commit.
func (u *Utterance) Reset() { *u = Utterance{} }

// ShouldCommit reports whether the utterance holds at least minChars
// characters and no voice has been detected for longer than hold. Without
// any recorded voice time the hold has not started.
func (u *Utterance) ShouldCommit(now time.Time, minChars int, hold time.Duration) bool {
	if utf8.RuneCountInString(u.Text()) < minChars || u.lastVoiceAt.IsZero() {
		return false
	}
	return now.Sub(u.lastVoiceAt) > hold
}
