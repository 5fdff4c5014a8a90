package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/pkg/audio"
	"github.com/MrWong99/voxjournal/pkg/provider/stt"
)

// DefaultRestartBackoff is the delay before restarting after a recognizer error.
const DefaultRestartBackoff = 300 * time.Millisecond

// ErrRecognitionClosed is returned by [Recognition.Start] after a user stop.
var ErrRecognitionClosed = errors.New("turn: recognition closed")

// ErrStreamEnded is reported when the recognizer closes a live stream
// without an error.
var ErrStreamEnded = errors.New("turn: recognizer stream ended")

// RecognitionState is the lifecycle state of a [Recognition].
type RecognitionState int

const (
	RecognitionStopped RecognitionState = iota
	RecognitionRunning
)

// StopReason explains why recognition was stopped. It decides whether a
// later recognizer error may trigger an automatic restart.
type StopReason int

const (
	// StopNone means recognition has not been stopped since the last start.
	StopNone StopReason = iota

	// StopForAssistantSpeech suspends recognition while a reply plays.
	// Errors do not restart it.
	StopForAssistantSpeech

	// StopUser ends recognition for the rest of the session.
	StopUser

	// StopTransient allows automatic restart.
	StopTransient
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopForAssistantSpeech:
		return "assistant_speech"
	case StopUser:
		return "user_stop"
	case StopTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// RecognitionConfig configures a [Recognition].
type RecognitionConfig struct {
	Provider stt.Provider
	Stream   stt.StreamConfig

	// Backoff before an automatic restart. Zero selects [DefaultRestartBackoff].
	Backoff time.Duration

	// OnResult receives every hypothesis of the live stream. Finals arrive
	// with IsFinal set.
	OnResult func(stt.Transcript)

	// OnError is told about recognizer failures. Optional.
	OnError func(error)

	// Metrics records restarts. nil selects [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Recognition owns the streaming recognizer of one session: it starts and
// stops streams, forwards captured audio to the live stream and restarts
// after errors. All methods are safe for concurrent use.
type Recognition struct {
	cfg     RecognitionConfig
	metrics *observe.Metrics

	mu       sync.Mutex
	state    RecognitionState
	handle   stt.SessionHandle
	gen      uint64
	lastStop StopReason
	closed   bool
	ctx      context.Context
	restart  *time.Timer

	// feedMu guards pcm, the reused encode buffer of Feed.
	feedMu sync.Mutex
	pcm    []byte
}

// NewRecognition creates a stopped Recognition.
func NewRecognition(cfg RecognitionConfig) *Recognition {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultRestartBackoff
	}
	if cfg.OnResult == nil {
		cfg.OnResult = func(stt.Transcript) {}
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Recognition{cfg: cfg, metrics: m, ctx: context.Background()}
}

// Start stops any running stream and opens a new one. Errors from the
// provider are returned as-is wrapped, so [stt.ErrPermissionDenied] can be
// matched with errors.Is.
func (r *Recognition) Start(ctx context.Context) error {
	_, err := r.start(ctx)
	return err
}

// Resume starts a stream in the background. A failure takes the same
// backoff-and-restart path as a recognizer error.
func (r *Recognition) Resume(ctx context.Context) {
	go func() {
		if gen, err := r.start(ctx); err != nil && !errors.Is(err, ErrRecognitionClosed) {
			r.fail(gen, err)
		}
	}()
}

func (r *Recognition) start(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrRecognitionClosed
	}
	r.stopLocked()
	r.gen++
	gen := r.gen
	r.ctx = ctx
	r.lastStop = StopNone
	r.mu.Unlock()

	h, err := r.cfg.Provider.StartStream(ctx, r.cfg.Stream)
	if err != nil {
		return gen, fmt.Errorf("turn: start recognition: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.gen != gen {
		// Stopped or superseded while dialling.
		_ = h.Close()
		return gen, nil
	}
	r.handle = h
	r.state = RecognitionRunning
	go r.pump(gen, h)
	return gen, nil
}

// Stop closes the live stream. A [StopUser] stop is terminal.
func (r *Recognition) Stop(reason StopReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastStop = reason
	if reason == StopUser {
		r.closed = true
	}
	r.stopLocked()
	r.gen++
}

// Close is Stop(StopUser).
func (r *Recognition) Close() { r.Stop(StopUser) }

// State returns the lifecycle state.
func (r *Recognition) State() RecognitionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastStop returns the most recent stop reason.
func (r *Recognition) LastStop() StopReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastStop
}

// Feed forwards samples to the live stream. It is a no-op while stopped.
func (r *Recognition) Feed(samples []int16) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	h := r.handle
	r.mu.Unlock()
	if h == nil {
		return
	}
	r.feedMu.Lock()
	defer r.feedMu.Unlock()
	r.pcm = audio.EncodePCM16(r.pcm[:0], samples)
	if err := h.SendAudio(r.pcm); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
		slog.Debug("turn: send audio failed", "err", err)
	}
}

func (r *Recognition) stopLocked() {
	if r.restart != nil {
		r.restart.Stop()
		r.restart = nil
	}
	if r.handle != nil {
		_ = r.handle.Close()
		r.handle = nil
	}
	r.state = RecognitionStopped
}

func (r *Recognition) pump(gen uint64, h stt.SessionHandle) {
	partials, finals := h.Partials(), h.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			r.deliver(gen, t)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			t.IsFinal = true
			r.deliver(gen, t)
		}
	}
	err := h.Err()
	if err == nil {
		// A clean close of the live stream is unexpected; a stop bumps gen
		// first, so fail ignores the intended ones.
		err = ErrStreamEnded
	}
	r.fail(gen, err)
}

func (r *Recognition) deliver(gen uint64, t stt.Transcript) {
	r.mu.Lock()
	live := r.gen == gen && r.state == RecognitionRunning
	r.mu.Unlock()
	if live {
		r.cfg.OnResult(t)
	}
}

// fail handles an error of stream gen and schedules a restart unless the
// last stop was for assistant speech or the session is over.
func (r *Recognition) fail(gen uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return
	}
	r.handle = nil
	r.state = RecognitionStopped
	if r.cfg.OnError != nil {
		r.cfg.OnError(err)
	}
	if r.closed || r.lastStop == StopForAssistantSpeech || r.ctx.Err() != nil {
		slog.Debug("turn: recognizer error, no restart", "err", err, "reason", r.lastStop.String())
		return
	}
	slog.Warn("turn: recognizer error, restarting", "err", err, "backoff", r.cfg.Backoff)
	ctx := r.ctx
	r.restart = time.AfterFunc(r.cfg.Backoff, func() {
		r.metrics.STTRestarts.Add(ctx, 1)
		if next, err := r.start(ctx); err != nil && !errors.Is(err, ErrRecognitionClosed) {
			r.fail(next, err)
		}
	})
}
