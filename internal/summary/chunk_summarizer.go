package summary

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/internal/session"
	"github.com/MrWong99/voxjournal/pkg/types"
)

// Per-chunk limits.
const (
	maxChunkBullets   = 3
	maxRepeatedWords  = 5
	defaultChunkLimit = 4
)

// ChunkResult is the signal extracted from one chunk. The zero value is the
// degraded result of a failed chunk.
type ChunkResult struct {
	Bullets           []string               `json:"bullets"`
	GratitudeMentions int                    `json:"gratitudeMentions"`
	Tone              types.Tone             `json:"tone"`
	Language          types.LanguagePatterns `json:"language"`
}

// IsZero reports whether r carries no signal.
func (r ChunkResult) IsZero() bool {
	return len(r.Bullets) == 0 && r.GratitudeMentions == 0 && r.Tone == "" && r.Language.IsZero()
}

func (r *ChunkResult) Validate() error {
	tone, ok := types.ParseTone(string(r.Tone))
	if !ok {
		return errors.New("unknown tone " + string(r.Tone))
	}
	if r.GratitudeMentions < 0 {
		return errors.New("negative gratitude count")
	}
	r.Tone = tone
	r.Bullets = cleanList(r.Bullets, maxChunkBullets)
	r.Language.RepeatedWords = cleanList(r.Language.RepeatedWords, maxRepeatedWords)
	return nil
}

// ChunkSummarizer extracts one [ChunkResult] per chunk.
type ChunkSummarizer struct {
	extractor   Extractor
	labels      session.Labels
	concurrency int
	metrics     *observe.Metrics
}

// NewChunkSummarizer creates a summarizer that keeps at most concurrency
// requests in flight. metrics may be nil.
func NewChunkSummarizer(e Extractor, labels session.Labels, concurrency int, metrics *observe.Metrics) *ChunkSummarizer {
	if concurrency < 1 {
		concurrency = defaultChunkLimit
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &ChunkSummarizer{extractor: e, labels: labels, concurrency: concurrency, metrics: metrics}
}

// Summarize returns one result per chunk, in chunk order. It waits for every
// request; failed chunks yield the zero ChunkResult.
func (s *ChunkSummarizer) Summarize(ctx context.Context, chunks []TranscriptChunk) []ChunkResult {
	results := make([]ChunkResult, len(chunks))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			results[i] = s.summarizeOne(ctx, i, c)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *ChunkSummarizer) summarizeOne(ctx context.Context, i int, c TranscriptChunk) ChunkResult {
	ctx, span := observe.StartSpan(ctx, "summary.chunk")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk", i), attribute.Int("chunk.len", c.Len))

	if len(c.Turns) == 0 {
		return ChunkResult{}
	}
	var r ChunkResult
	if err := s.extractor.Extract(ctx, chunkSystemPrompt, c.Text(s.labels), &r); err != nil {
		observe.Logger(ctx).Warn("summary: chunk degraded", "chunk", i, "err", err)
		s.metrics.RecordChunk(ctx, observe.ChunkDegraded)
		span.RecordError(err)
		return ChunkResult{}
	}
	s.metrics.RecordChunk(ctx, observe.ChunkOK)
	return r
}

// cleanList trims entries, drops empty ones and caps the length.
func cleanList(in []string, limit int) []string {
	out := make([]string, 0, min(len(in), limit))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
		if len(out) == limit {
			break
		}
	}
	return out
}
