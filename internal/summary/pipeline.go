package summary

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/internal/session"
	"github.com/MrWong99/voxjournal/pkg/provider/llm"
	"github.com/MrWong99/voxjournal/pkg/types"
)

// ErrEmptyTranscript is returned by [Pipeline.Summarize] for a session
// without turns.
var ErrEmptyTranscript = errors.New("summary: empty transcript")

// Config tunes a [Pipeline]. Zero values select defaults.
type Config struct {
	ChunkBudget    int
	Concurrency    int
	RequestTimeout time.Duration

	// Retries is the number of extra attempts per request. Negative
	// disables retries.
	Retries      int
	RetryBackoff time.Duration
	Temperature  float64
	Labels       session.Labels
}

// Pipeline turns a transcript into a [types.SessionSummary].
type Pipeline struct {
	cfg     Config
	chunks  *ChunkSummarizer
	reducer *Reducer
	final   Extractor
	guard   GratitudeGuard
	metrics *observe.Metrics
	now     func() time.Time
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMetrics records pipeline metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides time.Now for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a Pipeline over provider.
func NewPipeline(provider llm.Provider, cfg Config, opts ...Option) *Pipeline {
	if cfg.ChunkBudget < 1 {
		cfg.ChunkBudget = DefaultChunkBudget
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	p := &Pipeline{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}

	e := Extractor{
		LLM:         provider,
		Timeout:     cfg.RequestTimeout,
		Attempts:    max(1, cfg.Retries+1),
		Backoff:     cfg.RetryBackoff,
		Temperature: cfg.Temperature,
	}
	p.chunks = NewChunkSummarizer(e, cfg.Labels, cfg.Concurrency, p.metrics)
	p.reducer = NewReducer(e)
	p.final = e
	p.guard = GratitudeGuard{AssistantLabel: cfg.Labels.For(types.SpeakerAssistant)}
	return p
}

// Summarize runs the whole pipeline. Past the empty-transcript check it does
// not fail: failed requests fall back to local results. A cancelled ctx
// makes every remaining request fail fast.
func (p *Pipeline) Summarize(ctx context.Context, turns []types.Turn) (types.SessionSummary, error) {
	if len(turns) == 0 {
		return types.SessionSummary{}, ErrEmptyTranscript
	}
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "summary.pipeline")
	defer span.End()

	chunks := Chunk(turns, p.cfg.ChunkBudget, p.cfg.Labels)
	span.SetAttributes(attribute.Int("chunks", len(chunks)), attribute.Int("turns", len(turns)))

	results := p.chunks.Summarize(ctx, chunks)
	bullets := p.reducer.Reduce(ctx, results)

	final, err := extractFinal(ctx, p.final, bullets, results)
	if err != nil {
		observe.Logger(ctx).Warn("summary: using local final signals", "err", err)
		final = LocalFinal(results)
	}

	text := session.RenderTurns(turns, p.cfg.Labels)
	s := types.SessionSummary{
		ID:                uuid.NewString(),
		Summary:           bullets,
		Tone:              final.Tone,
		SupportingTones:   final.SupportingTones,
		ToneNote:          final.ToneNote,
		Language:          final.Language,
		Recommendation:    final.Recommendation,
		GratitudeMentions: p.guard.Reconcile(final.GratitudeMentions, text),
		CreatedAt:         p.now().UTC(),
	}

	p.metrics.SummaryDuration.Record(ctx, time.Since(start).Seconds())
	observe.Logger(ctx).Info("summary: session summarised",
		"chunks", len(chunks),
		"bullets", len(s.Summary),
		"tone", string(s.Tone),
		"gratitude", s.GratitudeMentions,
	)
	return s, nil
}
