package summary

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxjournal/internal/session"
	"github.com/MrWong99/voxjournal/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxjournal/pkg/provider/llm/mock"
	"github.com/MrWong99/voxjournal/pkg/types"
)

const okChunk = `{"bullets": ["Went hiking", " ", "Felt proud", "Ate well", "Extra"], "gratitudeMentions": 1, "tone": "hopeful",
"language": {"repeatedWords": ["trail", "proud"], "thinkingStyle": "present-focused", "emotionalIndicators": "upbeat"}}`

func chunksOf(texts ...string) []TranscriptChunk {
	var turns []types.Turn
	for _, s := range texts {
		turns = append(turns, user(s))
	}
	return Chunk(turns, 1, session.Labels{})
}

func TestChunkSummarizer_ParsesAndNormalises(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: okChunk}}
	s := NewChunkSummarizer(Extractor{LLM: p}, session.Labels{}, 2, m)

	got := s.Summarize(context.Background(), chunksOf("I went hiking"))
	if len(got) != 1 {
		t.Fatalf("results = %d", len(got))
	}
	r := got[0]
	if len(r.Bullets) != 3 || r.Bullets[1] != "Felt proud" {
		t.Errorf("bullets = %q, want 3 trimmed bullets", r.Bullets)
	}
	if r.Tone != types.ToneHopeful || r.GratitudeMentions != 1 {
		t.Errorf("tone=%q gratitude=%d", r.Tone, r.GratitudeMentions)
	}
	if sumWhere(t, reader, "voxjournal.summary.chunks", "status", "ok") != 1 {
		t.Error("ok chunk not recorded")
	}
}

func TestChunkSummarizer_FailedChunkDegrades(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	p := &llmmock.Provider{CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		switch {
		case strings.Contains(req.Messages[0].Content, "second"):
			return nil, errors.New("gateway timeout")
		case strings.Contains(req.Messages[0].Content, "third"):
			return &llm.CompletionResponse{Content: `{"bullets": [], "tone": "Furious"}`}, nil
		}
		return &llm.CompletionResponse{Content: okChunk}, nil
	}}
	s := NewChunkSummarizer(Extractor{LLM: p}, session.Labels{}, 3, m)

	got := s.Summarize(context.Background(), chunksOf("first", "second", "third"))
	if len(got) != 3 {
		t.Fatalf("results = %d, want 3", len(got))
	}
	if got[0].IsZero() {
		t.Error("first chunk should succeed")
	}
	if !got[1].IsZero() || !got[2].IsZero() {
		t.Errorf("failed chunks should be empty, got %+v / %+v", got[1], got[2])
	}
	if n := sumWhere(t, reader, "voxjournal.summary.chunks", "status", "degraded"); n != 2 {
		t.Errorf("degraded chunks = %d, want 2", n)
	}
}

func TestChunkSummarizer_ConcurrencyLimit(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	p := &llmmock.Provider{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		n := inFlight.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return &llm.CompletionResponse{Content: okChunk}, nil
	}}
	m, _ := newTestMetrics(t)
	s := NewChunkSummarizer(Extractor{LLM: p}, session.Labels{}, 2, m)

	got := s.Summarize(context.Background(), chunksOf("a", "b", "c", "d", "e", "f"))
	if len(got) != 6 {
		t.Fatalf("results = %d", len(got))
	}
	for i, r := range got {
		if r.IsZero() {
			t.Errorf("chunk %d missing; the join must wait for all", i)
		}
	}
	if peak.Load() > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", peak.Load())
	}
}
