package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/internal/session"
	"github.com/MrWong99/voxjournal/internal/speech"
	"github.com/MrWong99/voxjournal/pkg/audio"
	"github.com/MrWong99/voxjournal/pkg/provider/llm"
	"github.com/MrWong99/voxjournal/pkg/provider/stt"
	"github.com/MrWong99/voxjournal/pkg/types"
)

// Coordinator defaults not covered by the component defaults.
const (
	DefaultResumeDelay     = 250 * time.Millisecond
	DefaultFastResumeDelay = 50 * time.Millisecond
	DefaultReplyTimeout    = 20 * time.Second
	DefaultClockInterval   = 100 * time.Millisecond
)

// ErrAlreadyStarted is returned by a second call to [Coordinator.Start].
var ErrAlreadyStarted = errors.New("turn: coordinator already started")

// Speaker plays assistant replies. [speech.Player] implements it.
type Speaker interface {
	Speak(ctx context.Context, text string) (uint64, error)
	Stop()
	Speaking() bool
	Events() <-chan speech.Event
}

// Config tunes one session. Zero values select the package defaults.
type Config struct {
	UserID string

	VADGate         float64
	Smoothing       float64
	MinChars        int
	SilenceHold     time.Duration
	Tick            time.Duration
	BargeHold       time.Duration
	ResumeDelay     time.Duration
	FastResumeDelay time.Duration
	RestartBackoff  time.Duration
	ReplyTimeout    time.Duration

	// MaxDuration caps the session. Zero means unlimited.
	MaxDuration time.Duration

	// WarnAt is the remaining time that raises the one-time warning.
	WarnAt        time.Duration
	ClockInterval time.Duration

	SystemPrompt string
	Temperature  float64
	MaxTokens    int

	Stream stt.StreamConfig
	Labels session.Labels
}

func (c *Config) applyDefaults() {
	if c.MinChars <= 0 {
		c.MinChars = DefaultMinChars
	}
	if c.SilenceHold <= 0 {
		c.SilenceHold = DefaultSilenceHold
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.ResumeDelay <= 0 {
		c.ResumeDelay = DefaultResumeDelay
	}
	if c.FastResumeDelay <= 0 {
		c.FastResumeDelay = DefaultFastResumeDelay
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = DefaultReplyTimeout
	}
	if c.ClockInterval <= 0 {
		c.ClockInterval = DefaultClockInterval
	}
	if c.Stream.SampleRate == 0 {
		c.Stream.SampleRate = 16000
	}
	if c.Stream.Channels == 0 {
		c.Stream.Channels = 1
	}
}

// Deps are the collaborators of a [Coordinator].
type Deps struct {
	Source  audio.Source
	STT     stt.Provider
	LLM     llm.Provider
	Speaker Speaker

	// Recorder persists the transcript after every turn. Optional.
	Recorder *session.Recorder

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

type frameMsg struct {
	rms float64
	at  time.Time
}

type message interface{ message() }

type recognizedMsg struct{ t stt.Transcript }
type recognizerErrMsg struct{ err error }
type replyMsg struct {
	gen  uint64
	text string
	err  error
}
type resumeMsg struct{ gen uint64 }

func (recognizedMsg) message()    {}
func (recognizerErrMsg) message() {}
func (replyMsg) message()         {}
func (resumeMsg) message()        {}

// Coordinator is the turn-taking state machine of one session.
//
// Audio callbacks, recognizer results, reply completions, playback events
// and timer ticks all funnel into a single goroutine that owns the
// utterance, the detectors and the state. Completions that arrive after the
// session ended, or that belong to a superseded request, are discarded.
type Coordinator struct {
	cfg     Config
	deps    Deps
	metrics *observe.Metrics
	now     func() time.Time

	rec        *Recognition
	vad        *VAD
	barge      *BargeInMonitor
	silence    SilenceTimer
	utt        Utterance
	transcript session.Transcript
	limiter    session.TimeLimiter
	warned     bool

	state     atomic.Int32
	started   atomic.Bool
	sessionID string

	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span

	frames chan frameMsg
	inbox  chan message
	events chan Event

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	replyGen       uint64
	replyCancel    context.CancelFunc
	speakID        uint64
	bargeRequested bool
	resumeGen      uint64
	resumeTimer    *time.Timer

	outcomeMu sync.Mutex
	outcome   Outcome
}

// New creates an idle Coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	var errs []error
	if deps.Source == nil {
		errs = append(errs, errors.New("audio source is required"))
	}
	if deps.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if deps.LLM == nil {
		errs = append(errs, errors.New("llm provider is required"))
	}
	if deps.Speaker == nil {
		errs = append(errs, errors.New("speaker is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("turn: new coordinator: %w", err)
	}

	cfg.applyDefaults()
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	c := &Coordinator{
		cfg:     cfg,
		deps:    deps,
		metrics: deps.Metrics,
		now:     deps.Now,
		vad:     NewVAD(cfg.VADGate, cfg.Smoothing),
		barge:   NewBargeInMonitor(cfg.VADGate, cfg.BargeHold),
		silence: SilenceTimer{MinChars: cfg.MinChars, Hold: cfg.SilenceHold},
		frames:  make(chan frameMsg, 64),
		inbox:   make(chan message, 32),
		events:  make(chan Event, 256),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.rec = NewRecognition(RecognitionConfig{
		Provider: deps.STT,
		Stream:   cfg.Stream,
		Backoff:  cfg.RestartBackoff,
		Metrics:  deps.Metrics,
		OnResult: func(t stt.Transcript) { c.post(recognizedMsg{t: t}) },
		OnError: func(err error) {
			// Runs under the recognition lock; never block here.
			select {
			case c.inbox <- recognizerErrMsg{err: err}:
			default:
			}
		},
	})
	return c, nil
}

// Start moves the coordinator from Idle to Listening. It opens the
// recognizer, installs the capture tap and opens the session record.
// Recognizer and capture failures are returned before any transition, so
// a refused permission surfaces as [stt.ErrPermissionDenied] or
// [audio.ErrDeviceUnavailable].
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	sctx, cancel := context.WithCancel(ctx)
	if err := c.rec.Start(sctx); err != nil {
		cancel()
		c.started.Store(false)
		return err
	}
	if err := c.deps.Source.Start(sctx, c.HandleFrame); err != nil {
		c.rec.Close()
		cancel()
		c.started.Store(false)
		return fmt.Errorf("turn: start capture: %w", err)
	}

	c.sessionID = uuid.NewString()
	if c.deps.Recorder != nil {
		id, err := c.deps.Recorder.Open(sctx, c.cfg.UserID)
		if err != nil {
			slog.Warn("turn: session record unavailable, continuing offline", "err", err)
		}
		c.sessionID = id
	}

	sctx = observe.WithSessionID(sctx, c.sessionID)
	sctx, c.span = observe.StartSpan(sctx, "turn.session")
	c.ctx, c.cancel = sctx, cancel

	startedAt := c.now()
	c.limiter = session.TimeLimiter{StartedAt: startedAt, MaxDuration: c.cfg.MaxDuration, WarnAt: c.cfg.WarnAt}
	c.outcomeMu.Lock()
	c.outcome = Outcome{SessionID: c.sessionID, State: StateListening, StartedAt: startedAt}
	c.outcomeMu.Unlock()

	c.setState(StateListening)
	observe.Logger(sctx).Info("turn: session started", "user_id", c.cfg.UserID)
	go c.run()
	return nil
}

// HandleFrame is the capture tap. It forwards audio to the recognizer and
// hands the frame energy to the coordinator goroutine. Frames are dropped
// when the coordinator falls behind. It does not allocate unless the
// recognizer is running.
func (c *Coordinator) HandleFrame(f audio.Frame) {
	samples := f.Valid()
	if len(samples) == 0 {
		return
	}
	c.rec.Feed(samples)
	select {
	case c.frames <- frameMsg{rms: audio.RMS(samples), at: c.now()}:
	default:
	}
}

// Stop ends the session as a user stop and waits for the coordinator to
// finish. Calling Stop on a coordinator that never started is a no-op.
func (c *Coordinator) Stop() {
	if !c.started.Load() {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.done
}

// Events returns the event channel. Events are dropped when it is full.
func (c *Coordinator) Events() <-chan Event { return c.events }

// Done is closed when the session reached a terminal state.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// State returns the current state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// SessionID returns the session record ID. Empty before Start.
func (c *Coordinator) SessionID() string { return c.sessionID }

// Transcript returns a copy of the turns so far.
func (c *Coordinator) Transcript() []types.Turn { return c.transcript.Turns() }

// Outcome returns how the session ended. Before the end, State is the
// state at the last transition and EndedAt is zero.
func (c *Coordinator) Outcome() Outcome {
	c.outcomeMu.Lock()
	defer c.outcomeMu.Unlock()
	return c.outcome
}

func (c *Coordinator) run() {
	defer close(c.done)

	tick := time.NewTicker(c.cfg.Tick)
	defer tick.Stop()
	clock := time.NewTicker(c.cfg.ClockInterval)
	defer clock.Stop()
	playback := c.deps.Speaker.Events()

	for {
		select {
		case <-c.ctx.Done():
			c.finish(StateEnded, "context cancelled")
			return
		case <-c.stopCh:
			c.finish(StateEnded, "user stop")
			return
		case f := <-c.frames:
			c.onFrame(f)
		case m := <-c.inbox:
			c.onMessage(m)
		case ev := <-playback:
			c.onPlayback(ev)
		case <-tick.C:
			c.onTick(c.now())
		case <-clock.C:
			if c.onClock(c.now()) {
				return
			}
		}
	}
}

func (c *Coordinator) onFrame(f frameMsg) {
	voiced := c.vad.Observe(f.rms)
	switch c.State() {
	case StateListening:
		if voiced {
			c.utt.Voice(f.at)
		}
	case StateSpeaking:
		if c.barge.Process(f.rms, f.at) {
			c.bargeIn()
		}
	}
}

func (c *Coordinator) onMessage(m message) {
	switch m := m.(type) {
	case recognizedMsg:
		c.onRecognized(m.t)
	case recognizerErrMsg:
		c.emit(ErrorEvent{Err: m.err})
	case replyMsg:
		c.onReply(m)
	case resumeMsg:
		if m.gen == c.resumeGen && c.State() == StateListening {
			c.rec.Resume(c.ctx)
		}
	}
}

func (c *Coordinator) onRecognized(t stt.Transcript) {
	if c.State() != StateListening {
		return
	}
	// A hypothesis is evidence of speech; the hold runs from the first one
	// even when no frame crossed the gate.
	if c.utt.LastVoiceAt().IsZero() {
		c.utt.Voice(c.now())
	}
	c.utt.Update(t.Text)
	c.emit(PartialEvent{Text: c.utt.Text()})
	if !t.IsFinal {
		return
	}
	if utf8.RuneCountInString(c.utt.Text()) >= c.cfg.MinChars {
		c.commit(observe.CommitFinal)
		return
	}
	c.utt.Reset()
}

func (c *Coordinator) onTick(now time.Time) {
	if c.State() != StateListening {
		return
	}
	if c.silence.Evaluate(&c.utt, now, c.deps.Speaker.Speaking()) {
		c.commit(observe.CommitSilence)
	}
}

// onClock publishes the clock state and reports whether the time limit
// ended the session.
func (c *Coordinator) onClock(now time.Time) bool {
	cs := c.limiter.Compute(now)
	c.emit(ClockEvent{ClockState: cs})
	c.emit(LevelEvent{Source: LevelMic, Level: c.vad.Level()})

	if cs.HasWarned && !c.warned {
		c.warned = true
		observe.Logger(c.ctx).Info("turn: session time warning", "remaining", cs.Remaining)
		c.emit(WarningEvent{Remaining: cs.Remaining})
	}
	if cs.IsOverLimit {
		c.finish(StateTimeLimitEnded, "time limit")
		return true
	}
	return false
}

func (c *Coordinator) commit(cause string) {
	text := c.utt.Text()
	c.utt.Reset()
	c.metrics.RecordCommit(c.ctx, cause)
	c.appendTurn(types.Turn{Speaker: types.SpeakerUser, Text: text})

	c.rec.Stop(StopForAssistantSpeech)
	c.setState(StateAwaitingReply)
	c.requestReply()
}

func (c *Coordinator) requestReply() {
	c.replyGen++
	gen := c.replyGen
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ReplyTimeout)
	c.replyCancel = cancel

	req := llm.CompletionRequest{
		SystemPrompt: c.cfg.SystemPrompt,
		Messages:     history(c.transcript.Turns()),
		Temperature:  c.cfg.Temperature,
		MaxTokens:    c.cfg.MaxTokens,
	}
	go func() {
		defer cancel()
		ctx, span := observe.StartSpan(ctx, "turn.reply")
		defer span.End()

		msg := replyMsg{gen: gen}
		resp, err := c.deps.LLM.Complete(ctx, req)
		switch {
		case err != nil:
			msg.err = err
		case resp == nil || strings.TrimSpace(resp.Content) == "":
			msg.err = errors.New("turn: empty reply")
		default:
			msg.text = strings.TrimSpace(resp.Content)
		}
		if !c.post(msg) {
			c.discardReply(ctx, "session ended")
		}
	}()
}

func (c *Coordinator) onReply(m replyMsg) {
	if c.State() != StateAwaitingReply || m.gen != c.replyGen {
		c.discardReply(c.ctx, "stale reply")
		return
	}
	c.replyCancel = nil

	if m.err != nil {
		observe.Logger(c.ctx).Warn("turn: reply failed", "err", m.err)
		c.emit(ErrorEvent{Err: m.err})
		c.listen(c.cfg.ResumeDelay)
		return
	}

	c.appendTurn(types.Turn{Speaker: types.SpeakerAssistant, Text: m.text})
	id, err := c.deps.Speaker.Speak(c.ctx, m.text)
	if err != nil {
		observe.Logger(c.ctx).Warn("turn: playback failed to start", "err", err)
		c.emit(ErrorEvent{Err: err})
		c.listen(c.cfg.ResumeDelay)
		return
	}
	c.speakID = id
	c.bargeRequested = false
	c.setState(StateSpeaking)
	c.barge.Arm()
}

func (c *Coordinator) onPlayback(ev speech.Event) {
	if ev.ID != c.speakID {
		return
	}
	switch ev.Kind {
	case speech.EventLevel:
		c.emit(LevelEvent{Source: LevelOutput, Level: ev.Level})
	case speech.EventFinished:
		if c.State() != StateSpeaking {
			return
		}
		if ev.Err != nil {
			observe.Logger(c.ctx).Warn("turn: playback error", "err", ev.Err)
		}
		c.barge.Disarm()
		delay := c.cfg.ResumeDelay
		if c.bargeRequested {
			delay = c.cfg.FastResumeDelay
			c.bargeRequested = false
		}
		c.listen(delay)
	}
}

func (c *Coordinator) bargeIn() {
	c.bargeRequested = true
	c.barge.Disarm()
	c.metrics.BargeIns.Add(c.ctx, 1)
	observe.Logger(c.ctx).Debug("turn: barge-in")
	c.emit(BargeInEvent{})
	c.deps.Speaker.Stop()
}

// listen returns to Listening and resumes recognition after delay.
func (c *Coordinator) listen(delay time.Duration) {
	c.utt.Reset()
	c.setState(StateListening)
	c.resumeGen++
	gen := c.resumeGen
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
	}
	c.resumeTimer = time.AfterFunc(delay, func() { c.post(resumeMsg{gen: gen}) })
}

func (c *Coordinator) finish(final State, reason string) {
	if c.State().Terminal() {
		return
	}
	if c.replyCancel != nil {
		c.replyCancel()
		c.replyCancel = nil
	}
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
	}
	c.rec.Close()
	if err := c.deps.Source.Stop(); err != nil {
		observe.Logger(c.ctx).Warn("turn: stop capture", "err", err)
	}
	c.barge.Disarm()
	c.deps.Speaker.Stop()

	// A pending utterance still belongs to the session.
	if c.State() == StateListening {
		if text := c.utt.Text(); utf8.RuneCountInString(text) >= c.cfg.MinChars {
			c.appendTurn(types.Turn{Speaker: types.SpeakerUser, Text: text})
		}
	}
	c.utt.Reset()
	c.setState(final)

	endedAt := c.now()
	c.outcomeMu.Lock()
	c.outcome.State = final
	c.outcome.EndedAt = endedAt
	c.outcome.Turns = c.transcript.Len()
	c.outcomeMu.Unlock()

	observe.Logger(c.ctx).Info("turn: session ended",
		"state", final.String(),
		"reason", reason,
		"turns", c.transcript.Len(),
	)
	c.span.End()
	c.cancel()
}

func (c *Coordinator) appendTurn(t types.Turn) {
	c.transcript.Append(t)
	c.emit(TurnEvent{Turn: t})
	if c.deps.Recorder != nil {
		// Fire-and-forget; the recorder logs failures.
		_ = c.deps.Recorder.Persist(c.sessionID, c.transcript.Render(c.cfg.Labels))
	}
}

func (c *Coordinator) discardReply(ctx context.Context, reason string) {
	c.metrics.RepliesDiscarded.Add(context.WithoutCancel(ctx), 1)
	observe.Logger(ctx).Debug("turn: reply discarded", "reason", reason)
}

func (c *Coordinator) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	c.outcomeMu.Lock()
	if !c.outcome.State.Terminal() {
		c.outcome.State = s
	}
	c.outcomeMu.Unlock()
	c.emit(StateEvent{From: prev, To: s})
}

// post delivers m to the coordinator goroutine. It reports false once the
// session has ended.
func (c *Coordinator) post(m message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- m:
		return true
	case <-c.done:
		return false
	}
}

func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

func history(turns []types.Turn) []types.Message {
	msgs := make([]types.Message, 0, len(turns))
	for _, t := range turns {
		role := types.RoleUser
		if t.Speaker == types.SpeakerAssistant {
			role = types.RoleAssistant
		}
		msgs = append(msgs, types.Message{Role: role, Content: t.Text})
	}
	return msgs
}
