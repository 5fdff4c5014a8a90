// Package audio defines the audio frame type and the capture and playback
// abstractions used by voxjournal.
//
// The two primary abstractions are:
//
//   - [Source] — a microphone-like input that delivers [Frame] values to a tap
//     callback at capture cadence.
//   - [Sink] — a speaker-like output that plays 16-bit little-endian mono PCM.
//
// Device-backed implementations live in audio/device; test doubles live in
// audio/mock.
package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned by [Source.Start] when the capture device
// cannot be opened, typically because microphone permission was refused.
var ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

// Frame is one buffer of captured audio. Count is the number of valid samples
// at the front of Samples; the remainder of Samples is scratch space owned by the
// producer.
//
// Frames are ephemeral: the producer may reuse Samples as soon as the tap
// callback returns, so consumers must copy anything they need to keep.
type Frame struct {
	// Samples holds signed 16-bit mono PCM.
	Samples []int16

	// Count is the number of valid samples in Samples.
	Count int

	// SampleRate in Hz (16000 for recognition).
	SampleRate int
}

// Valid returns the populated prefix of the sample buffer.
func (f Frame) Valid() []int16 {
	n := f.Count
	if n > len(f.Samples) {
		n = len(f.Samples)
	}
	if n < 0 {
		n = 0
	}
	return f.Samples[:n]
}

// Source captures audio and delivers frames to a tap.
//
// Implementations must call tap from a single goroutine; the tap must not
// block for longer than one frame period.
type Source interface {
	// Start opens the capture device and installs tap. Calling Start on a
	// running source replaces the tap. Returns an error wrapping
	// [ErrDeviceUnavailable] when the device cannot be opened.
	Start(ctx context.Context, tap func(Frame)) error

	// Stop removes the tap and releases the device. Safe to call more than once.
	Stop() error
}

// Sink plays synthesised audio.
type Sink interface {
	// Play queues pcm (16-bit little-endian mono at SampleRate) and blocks until
	// it has been played, Interrupt is called, or ctx is cancelled.
	Play(ctx context.Context, pcm []byte) error

	// Interrupt discards any queued audio and unblocks pending Play calls.
	Interrupt()

	// SampleRate is the rate Play expects.
	SampleRate() int

	// Close releases the output device.
	Close() error
}
