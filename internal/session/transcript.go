package session

import (
	"strings"
	"sync"

	"github.com/MrWong99/voxjournal/pkg/types"
)

// Labels names the two speakers when a transcript is rendered to text.
type Labels struct {
	User      string
	Assistant string
}

// DefaultLabels are used when a Labels field is empty.
var DefaultLabels = Labels{User: "User", Assistant: "Assistant"}

// For returns the label of s.
func (l Labels) For(s types.Speaker) string {
	if s == types.SpeakerAssistant {
		if l.Assistant == "" {
			return DefaultLabels.Assistant
		}
		return l.Assistant
	}
	if l.User == "" {
		return DefaultLabels.User
	}
	return l.User
}

// Line renders t as "label: text\n".
func (l Labels) Line(t types.Turn) string {
	return l.For(t.Speaker) + ": " + t.Text + "\n"
}

// Transcript is the ordered, append-only list of turns of one session.
type Transcript struct {
	mu    sync.RWMutex
	turns []types.Turn
}

// Append adds t and returns the new length.
func (t *Transcript) Append(turn types.Turn) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, turn)
	return len(t.turns)
}

// Turns returns a copy of all turns in insertion order.
func (t *Transcript) Turns() []types.Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Render returns the whole transcript, one labelled line per turn.
func (t *Transcript) Render(labels Labels) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return RenderTurns(t.turns, labels)
}

// RenderTurns renders turns the same way as [Transcript.Render].
func RenderTurns(turns []types.Turn, labels Labels) string {
	var b strings.Builder
	for _, turn := range turns {
		b.WriteString(labels.Line(turn))
	}
	return b.String()
}
