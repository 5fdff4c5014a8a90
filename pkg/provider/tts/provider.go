// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider consumes text fragments from a channel and produces raw
// 16-bit mono PCM at [Provider.SampleRate]. The speech player resamples that
// audio to the output device and plays it.
package tts

import "context"

// Voice identifies a provider voice.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is a human-readable label. Optional.
	Name string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// SynthesizeStream reads text fragments until text is closed and emits
	// PCM chunks as they are synthesised. The returned channel is closed when
	// synthesis completes or ctx is cancelled. A non-nil error means the
	// stream could not be opened at all.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error)

	// SampleRate is the rate of the emitted PCM in Hz.
	SampleRate() int
}
