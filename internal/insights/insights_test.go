package insights

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxjournal/internal/observe"
	embmock "github.com/MrWong99/voxjournal/pkg/provider/embeddings/mock"
	"github.com/MrWong99/voxjournal/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxjournal/pkg/provider/llm/mock"
	"github.com/MrWong99/voxjournal/pkg/store"
	storemock "github.com/MrWong99/voxjournal/pkg/store/mock"
	"github.com/MrWong99/voxjournal/pkg/types"
)

var now = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *storemock.Store
	llm     *llmmock.Provider
	svc     *Service
	reader  *sdkmetric.ManualReader
	emb     *embmock.Provider
	user    string
	written []string
}

func newFixture(t *testing.T, content string) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := &fixture{
		store: storemock.New(),
		llm:   &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}},
		emb: &embmock.Provider{ModelIDValue: "test-embed", DimensionsValue: 2, EmbedFunc: func(text string) []float32 {
			if strings.Contains(text, "sleep") {
				return []float32{1, 0}
			}
			return []float32{0, 1}
		}},
		reader: reader,
		user:   "u1",
	}
	f.svc = New(f.store, f.llm, Config{Retries: -1},
		WithMetrics(m), WithClock(func() time.Time { return now }), WithEmbeddings(f.emb))
	return f
}

// seed stores a summary created daysAgo days before now.
func (f *fixture) seed(t *testing.T, daysAgo int, s types.SessionSummary) string {
	t.Helper()
	ctx := context.Background()
	id, err := f.store.StartSession(ctx, f.user)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	s.CreatedAt = now.AddDate(0, 0, -daysAgo)
	if err := f.store.WriteSummary(ctx, id, s, 60); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	f.written = append(f.written, id)
	return id
}

func lookups(t *testing.T, reader *sdkmetric.ManualReader, result string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var n int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if m.Name != "voxjournal.cache.lookups" || !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("result")); ok && v.AsString() == result {
					n += dp.Value
				}
			}
		}
	}
	return n
}

func sad(bullets ...string) types.SessionSummary {
	return types.SessionSummary{
		Summary:           bullets,
		Tone:              types.ToneSad,
		GratitudeMentions: 1,
		Language:          &types.LanguagePatterns{RepeatedWords: []string{"tired", "work"}, ThinkingStyle: "past-focused"},
	}
}

func TestLanguagePatterns_CachedByDigest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"repeatedWords": ["work", "Work", "sleep"], "thinkingStyle": " self-critical ", "emotionalIndicators": "flat"}`)
	f.seed(t, 2, sad("Long shift"))
	f.seed(t, 1, sad("Could not sleep"))
	ctx := context.Background()

	got, err := f.svc.LanguagePatterns(ctx, f.user, 7)
	if err != nil {
		t.Fatalf("LanguagePatterns: %v", err)
	}
	if len(got.RepeatedWords) != 2 || got.ThinkingStyle != "self-critical" {
		t.Errorf("got %+v", got)
	}
	if f.store.WriteCacheCount != 1 {
		t.Fatalf("cache writes = %d, want 1", f.store.WriteCacheCount)
	}

	again, err := f.svc.LanguagePatterns(ctx, f.user, 7)
	if err != nil {
		t.Fatalf("second LanguagePatterns: %v", err)
	}
	if len(f.llm.Calls()) != 1 {
		t.Errorf("model calls = %d, want the cached payload", len(f.llm.Calls()))
	}
	if again.ThinkingStyle != got.ThinkingStyle || len(again.RepeatedWords) != len(got.RepeatedWords) {
		t.Errorf("cached payload changed: %+v vs %+v", again, got)
	}
	if lookups(t, f.reader, "hit") != 1 || lookups(t, f.reader, "miss") != 1 {
		t.Errorf("hit=%d miss=%d", lookups(t, f.reader, "hit"), lookups(t, f.reader, "miss"))
	}

	// A new summary inside the window changes the digest.
	f.seed(t, 0, sad("Went for a walk"))
	if _, err := f.svc.LanguagePatterns(ctx, f.user, 7); err != nil {
		t.Fatalf("third LanguagePatterns: %v", err)
	}
	if len(f.llm.Calls()) != 2 {
		t.Errorf("model calls = %d, want a recompute on new input", len(f.llm.Calls()))
	}
}

func TestLanguagePatterns_RangesAreSeparateKeys(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"repeatedWords": ["work"], "thinkingStyle": "x", "emotionalIndicators": "y"}`)
	f.seed(t, 3, sad("a"))
	ctx := context.Background()
	for _, days := range []int{7, 30} {
		if _, err := f.svc.LanguagePatterns(ctx, f.user, days); err != nil {
			t.Fatalf("LanguagePatterns(%d): %v", days, err)
		}
	}
	if len(f.llm.Calls()) != 2 || f.store.WriteCacheCount != 2 {
		t.Errorf("calls=%d writes=%d, want one per range", len(f.llm.Calls()), f.store.WriteCacheCount)
	}
}

func TestLanguagePatterns_FallbackNotCached(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.llm.CompleteErr = errors.New("503")
	f.seed(t, 1, sad("x"))
	f.seed(t, 0, types.SessionSummary{Summary: []string{"y"}, Language: &types.LanguagePatterns{
		RepeatedWords: []string{"Work", "family"}, EmotionalIndicators: "softer",
	}})

	got, err := f.svc.LanguagePatterns(context.Background(), f.user, 7)
	if err != nil {
		t.Fatalf("LanguagePatterns: %v", err)
	}
	want := []string{"tired", "work", "family"}
	if strings.Join(got.RepeatedWords, ",") != strings.Join(want, ",") {
		t.Errorf("RepeatedWords = %q, want %q", got.RepeatedWords, want)
	}
	if got.ThinkingStyle != "past-focused" || got.EmotionalIndicators != "softer" {
		t.Errorf("got %+v", got)
	}
	if f.store.WriteCacheCount != 0 {
		t.Error("local fallback must not be cached")
	}
}

func TestLanguagePatterns_OutsideWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{}`)
	f.seed(t, 40, sad("old"))
	got, err := f.svc.LanguagePatterns(context.Background(), f.user, 7)
	if err != nil {
		t.Fatalf("LanguagePatterns: %v", err)
	}
	if !got.IsZero() || len(f.llm.Calls()) != 0 {
		t.Errorf("got %+v with %d calls, want nothing", got, len(f.llm.Calls()))
	}
}

func TestLanguagePatterns_InvalidRange(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{}`)
	if _, err := f.svc.LanguagePatterns(context.Background(), f.user, 0); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("err = %v, want ErrInvalidRange", err)
	}
}

func TestRecommendation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"recommendation": " Take the evening walk again. "}`)
	f.seed(t, 2, sad("Long shift"))
	calm := sad("Walked by the river")
	calm.Tone, calm.GratitudeMentions = types.ToneCalm, 2
	f.seed(t, 1, calm)
	f.seed(t, 0, sad("Skipped lunch"))
	ctx := context.Background()

	got, err := f.svc.Recommendation(ctx, f.user, 7)
	if err != nil {
		t.Fatalf("Recommendation: %v", err)
	}
	if got != "Take the evening walk again." {
		t.Errorf("Recommendation = %q", got)
	}
	body := f.llm.Calls()[0].Req.Messages[0].Content
	if !strings.Contains(body, `"topTone":"Sad"`) || !strings.Contains(body, `"gratitudeTotal":4`) {
		t.Errorf("request lacks prior signals: %s", body)
	}

	if _, err := f.svc.Recommendation(ctx, f.user, 7); err != nil {
		t.Fatalf("second Recommendation: %v", err)
	}
	if len(f.llm.Calls()) != 1 {
		t.Errorf("model calls = %d, want cache hit", len(f.llm.Calls()))
	}
}

func TestRecommendation_EmptyIsMalformed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"recommendation": "  "}`)
	f.seed(t, 0, sad("x"))
	if _, err := f.svc.Recommendation(context.Background(), f.user, 7); err == nil {
		t.Fatal("expected error for empty recommendation")
	}
	if f.store.WriteCacheCount != 0 {
		t.Error("failed recommendation must not be cached")
	}
}

func TestCache_ReadFailureIsMiss(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{"recommendation": "Rest."}`)
	f.store.ReadCacheErr = errors.New("disk full")
	f.seed(t, 0, sad("x"))
	got, err := f.svc.Recommendation(context.Background(), f.user, 7)
	if err != nil || got != "Rest." {
		t.Fatalf("Recommendation = %q, %v", got, err)
	}
	if lookups(t, f.reader, "miss") != 1 {
		t.Error("read failure should count as a miss")
	}
}

func TestTopTone(t *testing.T) {
	t.Parallel()

	rec := func(tone types.Tone) store.SummaryRecord {
		return store.SummaryRecord{Summary: types.SessionSummary{Tone: tone}}
	}
	tests := []struct {
		name string
		in   []store.SummaryRecord
		want types.Tone
	}{
		{"majority", []store.SummaryRecord{rec(types.ToneCalm), rec(types.ToneSad), rec(types.ToneSad)}, types.ToneSad},
		{"tie keeps earliest", []store.SummaryRecord{rec(types.ToneCalm), rec(types.ToneSad)}, types.ToneCalm},
		{"empty tones", []store.SummaryRecord{rec("")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topTone(tt.in); got != tt.want {
				t.Errorf("topTone() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRelatedReflections(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `{}`)
	ctx := context.Background()
	sleepy := f.seed(t, 2, sad("Could not sleep"))
	walky := f.seed(t, 1, sad("Walked by the river"))
	if err := f.svc.Index(ctx, f.user, sleepy, sad("Could not sleep")); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := f.svc.Index(ctx, f.user, walky, sad("Walked by the river")); err != nil {
		t.Fatalf("Index: %v", err)
	}

	got, err := f.svc.RelatedReflections(ctx, f.user, "sleep was bad again", 1)
	if err != nil {
		t.Fatalf("RelatedReflections: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != sleepy {
		t.Fatalf("got %+v, want the sleep session", got)
	}
	if got[0].Model != "test-embed" {
		t.Errorf("Model = %q", got[0].Model)
	}
}

func TestRelatedReflections_NoEmbeddings(t *testing.T) {
	t.Parallel()

	svc := New(storemock.New(), &llmmock.Provider{}, Config{})
	if _, err := svc.RelatedReflections(context.Background(), "u", "x", 3); !errors.Is(err, ErrNoEmbeddings) {
		t.Errorf("err = %v, want ErrNoEmbeddings", err)
	}
	if err := svc.Index(context.Background(), "u", "s", sad("x")); !errors.Is(err, ErrNoEmbeddings) {
		t.Errorf("Index err = %v, want ErrNoEmbeddings", err)
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.llm.CompleteFunc = func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if req.SystemPrompt == recommendationSystemPrompt {
			return &llm.CompletionResponse{Content: `{"recommendation": "Rest."}`}, nil
		}
		return &llm.CompletionResponse{Content: `{"repeatedWords": ["work"], "thinkingStyle": "x", "emotionalIndicators": "y"}`}, nil
	}
	f.seed(t, 0, sad("x"))
	f.svc.Refresh(context.Background(), f.user, []int{7, 30})

	for _, days := range []int{7, 30} {
		for _, kind := range []store.Kind{store.KindLanguagePatterns, store.KindRecommendation} {
			if _, err := f.store.ReadCache(context.Background(), store.CacheKey{UserID: f.user, RangeDays: days, Kind: kind}); err != nil {
				t.Errorf("cache %s/%d: %v", kind, days, err)
			}
		}
	}
}
