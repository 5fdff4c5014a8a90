// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (Deepgram or a
// compatible server) and exposes a uniform streaming interface. Once opened, a
// session accepts raw PCM audio and emits Transcript values. Every value
// carries the best hypothesis for the whole current utterance rather than an
// incremental delta, so consumers replace their text on each update.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by [Provider.StartStream] when the backend
// refuses access, for example because of a rejected API key. It is fatal to
// starting a session.
var ErrPermissionDenied = errors.New("stt: permission denied")

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// Transcript is one recognizer result.
type Transcript struct {
	// Text is the hypothesis for the entire current utterance.
	Text string

	// IsFinal marks the recognizer's end-of-utterance decision.
	IsFinal bool

	// Confidence is the provider's score in [0,1]. Zero when not reported.
	Confidence float64
}

// StreamConfig describes the audio format for a new session.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels. 1 = mono.
	Channels int

	// Language is a BCP-47 tag. Empty selects the provider default.
	Language string
}

// SessionHandle represents an open streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers little-endian 16-bit PCM. The chunk is only valid
	// for the duration of the call; implementations that queue it must copy
	// it. Calling it after Close returns [ErrSessionClosed].
	SendAudio(chunk []byte) error

	// Partials emits interim hypotheses. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits end-of-utterance hypotheses. Closed when the session ends.
	Finals() <-chan Transcript

	// Err reports why the session ended. It is nil while the session is live
	// and after a Close initiated by the caller.
	Err() error

	// Close terminates the session and releases its resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// session is ready to accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
