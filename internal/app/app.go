// Package app wires all voxjournal subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes one journaling session, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithAudio, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/voxjournal/internal/config"
	"github.com/MrWong99/voxjournal/internal/health"
	"github.com/MrWong99/voxjournal/internal/insights"
	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/internal/turn"
	"github.com/MrWong99/voxjournal/pkg/audio"
	"github.com/MrWong99/voxjournal/pkg/provider/embeddings"
	"github.com/MrWong99/voxjournal/pkg/provider/llm"
	"github.com/MrWong99/voxjournal/pkg/provider/stt"
	"github.com/MrWong99/voxjournal/pkg/provider/tts"
	"github.com/MrWong99/voxjournal/pkg/store"
	storemock "github.com/MrWong99/voxjournal/pkg/store/mock"
	"github.com/MrWong99/voxjournal/pkg/store/postgres"
	"github.com/MrWong99/voxjournal/pkg/store/sqlite"
)

// stopTimeout bounds how long Run waits for the coordinator after ctx ends.
const stopTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Embeddings may be
// nil. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider

	// Voice is the synthesis voice.
	Voice tts.Voice
}

// healthReporter is implemented by LLM providers with a circuit breaker,
// such as resilience.LLMFallback.
type healthReporter interface {
	Healthy() bool
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store    store.Store
	source   audio.Source
	sink     audio.Sink
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	insights *insights.Service
	sessions *SessionManager
	server   *http.Server
	listener net.Listener

	onEvent  func(turn.Event)
	onResult func(Result)

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of opening the configured driver.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithAudio injects the capture source and playback sink. main opens the
// malgo devices and passes them here.
func WithAudio(src audio.Source, sink audio.Sink) Option {
	return func(a *App) { a.source, a.sink = src, sink }
}

// WithMetrics records metrics on m instead of the global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer serves g at /metrics. Without it /metrics is not mounted.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithEventHandler receives every live session event.
func WithEventHandler(fn func(turn.Event)) Option {
	return func(a *App) { a.onEvent = fn }
}

// WithResultHandler receives the result of every finished session.
func WithResultHandler(fn func(Result)) Option {
	return func(a *App) { a.onResult = fn }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if err := validateProviders(providers); err != nil {
		return nil, err
	}
	if a.source == nil || a.sink == nil {
		return nil, errors.New("app: audio source and sink are required")
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	var insightOpts []insights.Option
	insightOpts = append(insightOpts, insights.WithMetrics(a.metrics))
	if providers.Embeddings != nil {
		insightOpts = append(insightOpts, insights.WithEmbeddings(providers.Embeddings))
	}
	a.insights = insights.New(a.store, providers.LLM, insights.Config{
		RequestTimeout: cfg.Summary.RequestTimeout,
		Retries:        cfg.Summary.Retries,
	}, insightOpts...)

	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:    cfg,
		Providers: providers,
		Source:    a.source,
		Sink:      a.sink,
		Store:     a.store,
		Insights:  a.insights,
		Metrics:   a.metrics,
		OnEvent:   a.onEvent,
	})
	// Sessions stop before the store closes.
	a.closers = append([]func() error{a.sessions.Close}, a.closers...)

	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

func validateProviders(p *Providers) error {
	if p == nil {
		return errors.New("app: providers are required")
	}
	var errs []error
	if p.LLM == nil {
		errs = append(errs, errors.New("app: an LLM provider is required"))
	}
	if p.STT == nil {
		errs = append(errs, errors.New("app: an STT provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("app: a TTS provider is required"))
	}
	return errors.Join(errs...)
}

// initStore opens the configured store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	sc := a.cfg.Store
	var (
		st  store.Store
		err error
	)
	switch sc.Driver {
	case config.StorePostgres:
		st, err = postgres.NewStore(ctx, sc.DSN, sc.EmbeddingDimensions)
	case config.StoreSQLite:
		st, err = sqlite.Open(ctx, sc.DSN)
	case config.StoreMemory, "":
		slog.Warn("using in-memory store, sessions are lost on exit")
		st = storemock.New()
	default:
		return fmt.Errorf("unknown store driver %q", sc.Driver)
	}
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	slog.Info("store ready", "driver", string(sc.Driver))
	return nil
}

// Handler returns the HTTP handler with /healthz, /readyz and, when a
// gatherer was given, /metrics.
func (a *App) Handler() http.Handler {
	checks := []health.Checker{health.PingCheck("store", a.store)}
	if hr, ok := a.providers.LLM.(healthReporter); ok {
		checks = append(checks, health.BreakerCheck("llm", hr.Healthy))
	}
	h := health.New(checks, health.WithSessionState(a.sessions.IsActive))

	mux := http.NewServeMux()
	h.Register(mux)
	if a.gatherer != nil {
		mux.Handle("GET /metrics", observe.MetricsHandler(a.gatherer))
	}
	return observe.Middleware(a.metrics)(mux)
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Insights returns the insight service.
func (a *App) Insights() *insights.Service { return a.insights }

// ApplyConfig makes cfg the configuration of the next session.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.sessions.SetConfig(cfg)
}

// Run serves HTTP, runs one session and blocks until it has been
// summarised. Cancelling ctx ends the session early; its summary is still
// written. Run returns ctx's error only when ctx ended before the session
// could start.
func (a *App) Run(ctx context.Context) error {
	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
		a.listener = ln
		go func() {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server failed", "err", err)
			}
		}()
		slog.Info("http server listening", "addr", ln.Addr().String())
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := a.sessions.Start(ctx); err != nil {
		return err
	}

	res, err := a.sessions.Wait(ctx)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		if err := a.sessions.Stop(stopCtx); err != nil && !errors.Is(err, ErrNoSession) {
			slog.Warn("session stop", "err", err)
		}
		cancel()
		res, err = a.sessions.Wait(context.WithoutCancel(ctx))
		if err != nil {
			return err
		}
	}

	if a.onResult != nil {
		a.onResult(res)
	}
	return nil
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
