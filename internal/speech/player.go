// Package speech plays synthesised assistant replies.
//
// A [Player] turns reply text into audio through a [tts.Provider], resamples
// it to the output [audio.Sink] and reports playback progress on a single
// event channel: Started, a smoothed output Level per synthesised chunk, and
// Finished. The turn coordinator is the only consumer of that channel.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxjournal/pkg/audio"
	"github.com/MrWong99/voxjournal/pkg/provider/tts"
)

// EventKind discriminates [Event] values.
type EventKind int

const (
	EventStarted EventKind = iota
	EventLevel
	EventFinished
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventLevel:
		return "level"
	case EventFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event reports playback progress for one utterance.
type Event struct {
	Kind EventKind

	// ID is the value returned by the [Player.Speak] call the event belongs to.
	ID uint64

	// Level is the smoothed output loudness in [0, 1]. Set on EventLevel.
	Level float64

	// Interrupted is set on EventFinished when playback was stopped early.
	Interrupted bool

	// Err is set on EventFinished when synthesis or playback failed.
	Err error
}

// DefaultSmoothing is the exponential smoothing factor of the output level.
const DefaultSmoothing = 0.25

// Option configures a [Player].
type Option func(*Player)

// WithSmoothing overrides [DefaultSmoothing].
func WithSmoothing(alpha float64) Option {
	return func(p *Player) {
		if alpha > 0 && alpha <= 1 {
			p.alpha = alpha
		}
	}
}

// WithEventBuffer sets the event channel capacity. Default 64.
func WithEventBuffer(n int) Option {
	return func(p *Player) {
		if n > 2*levelHeadroom {
			p.events = make(chan Event, n)
		}
	}
}

// Player speaks one reply at a time. Starting a new reply stops the current
// one. All methods are safe for concurrent use.
type Player struct {
	tts   tts.Provider
	sink  audio.Sink
	voice tts.Voice
	alpha float64

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	nextID uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Player that synthesises with provider in voice and plays on sink.
func New(provider tts.Provider, sink audio.Sink, voice tts.Voice, opts ...Option) *Player {
	p := &Player{
		tts:    provider,
		sink:   sink,
		voice:  voice,
		alpha:  DefaultSmoothing,
		events: make(chan Event, 64),
		closed: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Events returns the playback event channel.
func (p *Player) Events() <-chan Event { return p.events }

// Speak starts speaking text asynchronously and returns the utterance ID
// carried by its events. Any utterance still playing is stopped first.
func (p *Player) Speak(ctx context.Context, text string) (uint64, error) {
	select {
	case <-p.closed:
		return 0, errors.New("speech: player closed")
	default:
	}

	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	playCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done

	go func() {
		defer close(done)
		p.emit(Event{Kind: EventStarted, ID: id}, false)
		p.play(playCtx, id, text)
	}()
	return id, nil
}

// Stop interrupts the current utterance, if any, and waits for its Finished
// event to be emitted.
func (p *Player) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.sink.Interrupt()
	<-done
}

// Speaking reports whether an utterance is in progress.
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Close stops playback and unblocks pending event sends. The sink is not closed.
func (p *Player) Close() {
	p.Stop()
	p.closeOnce.Do(func() { close(p.closed) })
}

func (p *Player) play(ctx context.Context, id uint64, text string) {
	finish := Event{Kind: EventFinished, ID: id}
	defer func() { p.emit(finish, false) }()

	in := make(chan string, 1)
	in <- text
	close(in)

	chunks, err := p.tts.SynthesizeStream(ctx, in, p.voice)
	if err != nil {
		finish.Err = err
		finish.Interrupted = ctx.Err() != nil
		return
	}
	defer audio.Drain(chunks)

	srcRate, dstRate := p.tts.SampleRate(), p.sink.SampleRate()
	var level float64
	for chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		pcm := audio.ResampleMono16(chunk, srcRate, dstRate)
		level += p.alpha * (audio.RMSBytes(pcm) - level)
		p.emit(Event{Kind: EventLevel, ID: id, Level: clamp01(level)}, true)

		if err := p.sink.Play(ctx, pcm); err != nil {
			if ctx.Err() == nil {
				slog.Warn("speech: playback failed", "err", err)
				finish.Err = err
			}
			break
		}
	}
	finish.Interrupted = ctx.Err() != nil
	p.emit(Event{Kind: EventLevel, ID: id, Level: 0}, true)
}

// levelHeadroom keeps room in the event buffer for Started and Finished, so
// a consumer that calls Stop from its own event loop never deadlocks.
const levelHeadroom = 4

// emit delivers ev. Level events are dropped when the buffer is nearly full.
func (p *Player) emit(ev Event, lossy bool) {
	if lossy {
		if len(p.events) >= cap(p.events)-levelHeadroom {
			return
		}
		select {
		case p.events <- ev:
		default:
		}
		return
	}
	select {
	case p.events <- ev:
	case <-p.closed:
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
