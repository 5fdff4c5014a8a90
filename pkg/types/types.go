// Package types defines the value types shared across voxjournal packages.
//
// These types are the common vocabulary between the turn-taking engine, the
// summarisation pipeline, the providers and the persistence layer. Each
// package keeps its own domain types; only cross-cutting records live here
// to avoid circular imports.
package types

import (
	"strings"
	"time"
)

// Speaker attributes a [Turn] to one side of the conversation.
type Speaker int

const (
	// SpeakerUser is the person speaking into the microphone.
	SpeakerUser Speaker = iota

	// SpeakerAssistant is the synthesised reply voice.
	SpeakerAssistant
)

// String returns the lower-case name of the speaker.
func (s Speaker) String() string {
	switch s {
	case SpeakerUser:
		return "user"
	case SpeakerAssistant:
		return "assistant"
	default:
		return "unknown"
	}
}

// Turn is one attributed unit of the transcript. Turns are immutable once
// appended to a transcript.
type Turn struct {
	Speaker Speaker
	Text    string
}

// Message roles understood by every LLM backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in an LLM conversation.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the message text.
	Content string
}

// Tone is the closed emotional-tone taxonomy used by the summary pipeline.
type Tone string

const (
	ToneCalm       Tone = "Calm"
	ToneHopeful    Tone = "Hopeful"
	ToneReflective Tone = "Reflective"
	ToneAnxious    Tone = "Anxious"
	ToneStressed   Tone = "Stressed"
	ToneSad        Tone = "Sad"
)

// Tones lists every valid [Tone] in canonical order.
var Tones = []Tone{ToneCalm, ToneHopeful, ToneReflective, ToneAnxious, ToneStressed, ToneSad}

// IsValid reports whether t is one of the six recognised tones.
func (t Tone) IsValid() bool {
	for _, v := range Tones {
		if t == v {
			return true
		}
	}
	return false
}

// ParseTone matches s case-insensitively against the taxonomy. Surrounding
// whitespace is ignored.
func ParseTone(s string) (Tone, bool) {
	s = strings.TrimSpace(s)
	for _, v := range Tones {
		if strings.EqualFold(s, string(v)) {
			return v, true
		}
	}
	return "", false
}

// LanguagePatterns carries the lexical signals extracted from user speech.
type LanguagePatterns struct {
	// RepeatedWords holds at most five words the user returned to often.
	RepeatedWords []string `json:"repeatedWords"`

	// ThinkingStyle is a short description such as "future-focused".
	ThinkingStyle string `json:"thinkingStyle"`

	// EmotionalIndicators is a short free-text note on emotional wording.
	EmotionalIndicators string `json:"emotionalIndicators"`
}

// IsZero reports whether no signal was extracted.
func (l LanguagePatterns) IsZero() bool {
	return len(l.RepeatedWords) == 0 && l.ThinkingStyle == "" && l.EmotionalIndicators == ""
}

// MaxSummaryBullets is the upper bound on [SessionSummary.Summary].
const MaxSummaryBullets = 6

// DisplayBullets is how many bullets are shown to the user.
const DisplayBullets = 3

// SessionSummary is the final artifact of a session. It is created once at
// summarisation time and never modified afterwards.
type SessionSummary struct {
	ID                string            `json:"id"`
	Summary           []string          `json:"summary"`
	Tone              Tone              `json:"tone"`
	SupportingTones   []string          `json:"supportingTones,omitempty"`
	ToneNote          string            `json:"toneNote,omitempty"`
	Language          *LanguagePatterns `json:"language,omitempty"`
	Recommendation    string            `json:"recommendation,omitempty"`
	GratitudeMentions int               `json:"gratitudeMentions"`
	CreatedAt         time.Time         `json:"createdAt"`
}

// Display returns the leading bullets shown on screen, at most
// [DisplayBullets] of them.
func (s SessionSummary) Display() []string {
	if len(s.Summary) <= DisplayBullets {
		return s.Summary
	}
	return s.Summary[:DisplayBullets]
}
