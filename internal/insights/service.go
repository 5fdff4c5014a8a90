package insights

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/internal/summary"
	"github.com/MrWong99/voxjournal/pkg/provider/embeddings"
	"github.com/MrWong99/voxjournal/pkg/provider/llm"
	"github.com/MrWong99/voxjournal/pkg/store"
	"github.com/MrWong99/voxjournal/pkg/types"
)

// ErrInvalidRange is returned for a look-back window below one day.
var ErrInvalidRange = errors.New("insights: range must be at least one day")

// Config tunes the model requests. Zero values select defaults.
type Config struct {
	RequestTimeout time.Duration
	Retries        int
	RetryBackoff   time.Duration
	Temperature    float64
}

// Service computes and caches insights for one store.
type Service struct {
	store     store.Store
	extractor summary.Extractor
	embedder  embeddings.Provider
	metrics   *observe.Metrics
	now       func() time.Time
}

// Option configures a [Service].
type Option func(*Service)

// WithEmbeddings enables reflection indexing and recall.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(s *Service) { s.embedder = p }
}

// WithMetrics records cache lookups on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now for range windows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(st store.Store, provider llm.Provider, cfg Config, opts ...Option) *Service {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	s := &Service{
		store: st,
		extractor: summary.Extractor{
			LLM:         provider,
			Timeout:     cfg.RequestTimeout,
			Attempts:    max(1, cfg.Retries+1),
			Backoff:     cfg.RetryBackoff,
			Temperature: cfg.Temperature,
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Refresh recomputes every variant for each range concurrently. Failures are
// logged; unchanged inputs are served from the cache without a request.
func (s *Service) Refresh(ctx context.Context, userID string, ranges []int) {
	var g errgroup.Group
	for _, days := range ranges {
		g.Go(func() error {
			if _, err := s.LanguagePatterns(ctx, userID, days); err != nil {
				observe.Logger(ctx).Warn("insights: language patterns", "range_days", days, "err", err)
			}
			return nil
		})
		g.Go(func() error {
			if _, err := s.Recommendation(ctx, userID, days); err != nil {
				observe.Logger(ctx).Warn("insights: recommendation", "range_days", days, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// window lists the summaries of userID inside the last days.
func (s *Service) window(ctx context.Context, userID string, days int) ([]store.SummaryRecord, error) {
	if days < 1 {
		return nil, ErrInvalidRange
	}
	since := s.now().AddDate(0, 0, -days)
	recs, err := s.store.ListSummaries(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("insights: list summaries: %w", err)
	}
	return recs, nil
}

// inputParts flattens the ordered digest inputs shared by every variant:
// the range, then each session's bullets and signals. Counts are included so
// adjacent groups cannot be confused.
func inputParts(kind store.Kind, days int, recs []store.SummaryRecord) []string {
	parts := []string{string(kind), strconv.Itoa(days), strconv.Itoa(len(recs))}
	for _, r := range recs {
		sum := r.Summary
		parts = append(parts, r.SessionID, strconv.Itoa(len(sum.Summary)))
		parts = append(parts, sum.Summary...)
		parts = append(parts, string(sum.Tone), strconv.Itoa(sum.GratitudeMentions))
		if l := sum.Language; l != nil {
			parts = append(parts, strconv.Itoa(len(l.RepeatedWords)))
			parts = append(parts, l.RepeatedWords...)
			parts = append(parts, l.ThinkingStyle, l.EmotionalIndicators)
		} else {
			parts = append(parts, "-")
		}
	}
	return parts
}

// topTone returns the most frequent tone in recs, the earliest on ties.
func topTone(recs []store.SummaryRecord) types.Tone {
	counts := make(map[types.Tone]int)
	var best types.Tone
	for _, r := range recs {
		t := r.Summary.Tone
		if t == "" {
			continue
		}
		counts[t]++
		if counts[t] > counts[best] || best == "" {
			best = t
		}
	}
	return best
}
