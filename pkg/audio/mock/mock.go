// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so that tests
// can assert on call counts and arguments, and they expose exported fields that
// the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{}
//	_ = src.Start(ctx, coordinator.HandleFrame)
//	src.Emit(audio.Frame{Samples: loud, Count: len(loud)})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxjournal/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Frames are pushed to the
// installed tap synchronously via [Source.Emit].
type Source struct {
	mu  sync.Mutex
	tap func(audio.Frame)

	// StartErr is returned by Start when non-nil. The tap is not installed.
	StartErr error

	// StopErr is returned by Stop.
	StopErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Start installs tap unless StartErr is set.
func (s *Source) Start(_ context.Context, tap func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.tap = tap
	return nil
}

// Stop removes the tap.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.tap = nil
	return s.StopErr
}

// Emit delivers f to the tap. It reports false when no tap is installed.
func (s *Source) Emit(f audio.Frame) bool {
	s.mu.Lock()
	tap := s.tap
	s.mu.Unlock()
	if tap == nil {
		return false
	}
	tap(f)
	return true
}

// Running reports whether a tap is installed.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tap != nil
}

var _ audio.Source = (*Source)(nil)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink]. Play records the chunk and
// returns immediately unless Block is set, in which case Play waits for
// Interrupt or ctx cancellation.
type Sink struct {
	mu        sync.Mutex
	interrupt chan struct{}

	// Rate is returned by SampleRate. Zero means 16000.
	Rate int

	// Block makes Play wait until Interrupt or ctx cancellation.
	Block bool

	// PlayErr is returned by Play when non-nil.
	PlayErr error

	// Played records a copy of every chunk passed to Play.
	Played [][]byte

	// CallCountInterrupt records how many times Interrupt was called.
	CallCountInterrupt int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Play records pcm and returns according to Block and PlayErr.
func (s *Sink) Play(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.Played = append(s.Played, cp)
	if s.interrupt == nil {
		s.interrupt = make(chan struct{})
	}
	interrupt := s.interrupt
	block := s.Block
	err := s.PlayErr
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if !block {
		return ctx.Err()
	}
	select {
	case <-interrupt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupt releases any blocked Play call.
func (s *Sink) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountInterrupt++
	if s.interrupt != nil {
		close(s.interrupt)
	}
	s.interrupt = make(chan struct{})
}

// SampleRate returns Rate or 16000.
func (s *Sink) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Rate == 0 {
		return 16000
	}
	return s.Rate
}

// Close records the call.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// PlayedCount returns the number of Play calls. Thread-safe.
func (s *Sink) PlayedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Played)
}

var _ audio.Sink = (*Sink)(nil)
