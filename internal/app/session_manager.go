package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxjournal/internal/config"
	"github.com/MrWong99/voxjournal/internal/insights"
	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/internal/session"
	"github.com/MrWong99/voxjournal/internal/speech"
	"github.com/MrWong99/voxjournal/internal/summary"
	"github.com/MrWong99/voxjournal/internal/turn"
	"github.com/MrWong99/voxjournal/pkg/audio"
	"github.com/MrWong99/voxjournal/pkg/provider/stt"
	"github.com/MrWong99/voxjournal/pkg/store"
	"github.com/MrWong99/voxjournal/pkg/types"
)

var (
	// ErrSessionActive is returned by [SessionManager.Start] while a session
	// is running.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned when no session has been started.
	ErrNoSession = errors.New("app: no session")
)

// summaryTimeout bounds the post-session summary and insight refresh.
const summaryTimeout = 3 * time.Minute

// Result is what remains of a finished session.
type Result struct {
	Outcome turn.Outcome

	// Summary is nil when the session had no turns.
	Summary *types.SessionSummary

	// Err is the first error that prevented a summary from being stored.
	Err error
}

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	SessionID string
	UserID    string
	StartedAt time.Time
}

// SessionManager runs one journaling session at a time: it connects the turn
// coordinator to the audio devices and, once the session ends, summarises and
// stores it. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	cfg    *config.Config
	active *runningSession
	last   *runningSession

	providers *Providers
	source    audio.Source
	sink      audio.Sink
	store     store.Store
	insights  *insights.Service
	metrics   *observe.Metrics
	onEvent   func(turn.Event)

	// base outlives every session; Close cancels it.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type runningSession struct {
	coord  *turn.Coordinator
	player *speech.Player
	info   SessionInfo
	done   chan struct{}
	result Result
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config    *config.Config
	Providers *Providers
	Source    audio.Source
	Sink      audio.Sink
	Store     store.Store

	// Insights is refreshed after each stored summary. Optional.
	Insights *insights.Service

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// OnEvent receives every coordinator event of every session. Optional.
	// It runs on the event forwarding goroutine and must not block for long.
	OnEvent func(turn.Event)
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	base, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		cfg:       cfg.Config,
		providers: cfg.Providers,
		source:    cfg.Source,
		sink:      cfg.Sink,
		store:     cfg.Store,
		insights:  cfg.Insights,
		metrics:   m,
		onEvent:   cfg.OnEvent,
		base:      base,
		cancel:    cancel,
	}
}

// SetConfig replaces the configuration used by the next session. The active
// session keeps the tuning it started with.
func (sm *SessionManager) SetConfig(cfg *config.Config) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cfg = cfg
}

// Start begins a new session and returns its ID. It fails with
// [ErrSessionActive] while another session runs, and with
// [stt.ErrPermissionDenied] when the microphone or recognizer is refused.
func (sm *SessionManager) Start(ctx context.Context) (string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active != nil {
		return "", fmt.Errorf("%w (id=%s)", ErrSessionActive, sm.active.info.SessionID)
	}
	if sm.base.Err() != nil {
		return "", fmt.Errorf("app: session manager closed")
	}

	cfg := sm.cfg
	player := speech.New(sm.providers.TTS, sm.sink, sm.providers.Voice, speech.WithSmoothing(cfg.Turn.Smoothing))
	coord, err := turn.New(coordinatorConfig(cfg), turn.Deps{
		Source:   sm.source,
		STT:      sm.providers.STT,
		LLM:      sm.providers.LLM,
		Speaker:  player,
		Recorder: session.NewRecorder(sm.store, session.DefaultPersistTimeout),
		Metrics:  sm.metrics,
	})
	if err != nil {
		player.Close()
		return "", fmt.Errorf("app: create coordinator: %w", err)
	}
	// The session outlives ctx; it ends through Stop, Close or its time limit.
	if err := coord.Start(sm.base); err != nil {
		player.Close()
		if errors.Is(err, stt.ErrPermissionDenied) {
			return "", err
		}
		return "", fmt.Errorf("app: start session: %w", err)
	}

	rs := &runningSession{
		coord:  coord,
		player: player,
		done:   make(chan struct{}),
		info: SessionInfo{
			SessionID: coord.SessionID(),
			UserID:    cfg.Session.UserID,
			StartedAt: time.Now().UTC(),
		},
	}
	sm.active = rs
	sm.metrics.ActiveSessions.Add(ctx, 1)

	sm.wg.Add(2)
	go sm.forward(rs)
	go sm.finalize(rs, cfg)

	slog.Info("session started",
		"session_id", rs.info.SessionID,
		"user_id", rs.info.UserID,
		"max_duration", cfg.Session.MaxDuration,
	)
	return rs.info.SessionID, nil
}

// Stop ends the active session. The pending utterance is kept as the last
// user turn. Stop returns once the coordinator is down; summarisation
// continues in the background, see [SessionManager.Wait].
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	rs := sm.active
	sm.mu.Unlock()
	if rs == nil {
		return ErrNoSession
	}

	rs.coord.Stop()
	select {
	case <-rs.coord.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	sm.release(rs)
	return nil
}

// release clears rs as the active session.
func (sm *SessionManager) release(rs *runningSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == rs {
		sm.active = nil
	}
	sm.last = rs
}

// Wait blocks until the active or most recent session is finalised and
// returns its result. Finalised means summarised, stored and indexed.
func (sm *SessionManager) Wait(ctx context.Context) (Result, error) {
	sm.mu.Lock()
	rs := sm.active
	if rs == nil {
		rs = sm.last
	}
	sm.mu.Unlock()
	if rs == nil {
		return Result{}, ErrNoSession
	}

	select {
	case <-rs.done:
		return rs.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// IsActive reports whether a session is currently running. A session that
// ended but is still being summarised is not active.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active != nil
}

// Info returns metadata about the active session, or the zero value.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == nil {
		return SessionInfo{}
	}
	return sm.active.info
}

// Close stops the active session, cancels any summary in progress and
// waits for the background work to end.
func (sm *SessionManager) Close() error {
	sm.mu.Lock()
	rs := sm.active
	sm.mu.Unlock()
	if rs != nil {
		rs.coord.Stop()
	}
	sm.cancel()
	sm.wg.Wait()
	return nil
}

// forward drains coordinator events until the session ends.
func (sm *SessionManager) forward(rs *runningSession) {
	defer sm.wg.Done()
	for {
		select {
		case ev := <-rs.coord.Events():
			if sm.onEvent != nil {
				sm.onEvent(ev)
			}
		case <-rs.coord.Done():
			return
		}
	}
}

// finalize waits for the session to end, then summarises, stores and
// indexes it.
func (sm *SessionManager) finalize(rs *runningSession, cfg *config.Config) {
	defer sm.wg.Done()
	<-rs.coord.Done()
	rs.player.Close()

	sm.release(rs)

	out := rs.coord.Outcome()
	rs.result.Outcome = out
	log := slog.With("session_id", out.SessionID)
	log.Info("session ended",
		"state", out.State.String(),
		"turns", out.Turns,
		"duration", out.Duration().Round(time.Second),
	)

	ctx, cancel := context.WithTimeout(observe.WithSessionID(sm.base, out.SessionID), summaryTimeout)
	defer cancel()
	sm.metrics.ActiveSessions.Add(ctx, -1)

	defer close(rs.done)

	pipeline := summary.NewPipeline(sm.providers.LLM, summaryConfig(cfg), summary.WithMetrics(sm.metrics))
	s, err := pipeline.Summarize(ctx, rs.coord.Transcript())
	if errors.Is(err, summary.ErrEmptyTranscript) {
		log.Info("session: nothing to summarise")
		return
	}
	if err != nil {
		rs.result.Err = err
		log.Warn("session: summary failed", "err", err)
		return
	}
	rs.result.Summary = &s

	if err := sm.store.WriteSummary(ctx, out.SessionID, s, int(out.Duration().Seconds())); err != nil {
		rs.result.Err = fmt.Errorf("app: write summary: %w", err)
		log.Warn("session: summary not stored", "err", err)
		return
	}
	if sm.insights == nil {
		return
	}
	if sm.insights.Embeddings() {
		if err := sm.insights.Index(ctx, cfg.Session.UserID, out.SessionID, s); err != nil {
			log.Warn("session: reflection not indexed", "err", err)
		}
	}
	sm.insights.Refresh(ctx, cfg.Session.UserID, cfg.Insights.RangeDays)
}

func coordinatorConfig(cfg *config.Config) turn.Config {
	t := cfg.Turn
	return turn.Config{
		UserID:          cfg.Session.UserID,
		VADGate:         t.VADGate,
		Smoothing:       t.Smoothing,
		MinChars:        t.MinChars,
		SilenceHold:     t.SilenceHold,
		Tick:            t.Tick,
		BargeHold:       t.BargeHold,
		ResumeDelay:     t.ResumeDelay,
		FastResumeDelay: t.FastResumeDelay,
		RestartBackoff:  t.RestartBackoff,
		ReplyTimeout:    t.ReplyTimeout,
		MaxDuration:     cfg.Session.MaxDuration,
		WarnAt:          cfg.Session.WarnAt,
		ClockInterval:   cfg.Session.ClockInterval,
		SystemPrompt:    cfg.Session.SystemPrompt,
		Stream: stt.StreamConfig{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   1,
			Language:   cfg.Providers.STT.OptionString("language"),
		},
		Labels: labels(cfg),
	}
}

func summaryConfig(cfg *config.Config) summary.Config {
	s := cfg.Summary
	return summary.Config{
		ChunkBudget:    s.ChunkBudget,
		Concurrency:    s.Concurrency,
		RequestTimeout: s.RequestTimeout,
		Retries:        s.Retries,
		Labels:         labels(cfg),
	}
}

func labels(cfg *config.Config) session.Labels {
	return session.Labels{User: cfg.Summary.UserLabel, Assistant: cfg.Summary.AssistantLabel}
}
