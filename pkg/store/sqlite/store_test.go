package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxjournal/pkg/store"
	"github.com/MrWong99/voxjournal/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "voxjournal.db")
	s, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SessionLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StartSession(ctx, "u1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := s.AppendTranscript(ctx, id, "User: hi\n"); err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}
	if err := s.AppendTranscript(ctx, "missing", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("AppendTranscript(missing) err = %v, want ErrNotFound", err)
	}

	created := time.Now().Truncate(time.Millisecond)
	sum := types.SessionSummary{ID: id, Summary: []string{"one", "two"}, Tone: types.ToneHopeful, GratitudeMentions: 3, CreatedAt: created}
	if err := s.WriteSummary(ctx, id, sum, 120); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	if err := s.WriteSummary(ctx, "missing", sum, 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("WriteSummary(missing) err = %v, want ErrNotFound", err)
	}

	recs, err := s.ListSummaries(ctx, "u1", created.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListSummaries: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("ListSummaries len = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.UserID != "u1" || r.DurationSec != 120 || r.Summary.Tone != types.ToneHopeful || r.Summary.GratitudeMentions != 3 {
		t.Errorf("record = %+v", r)
	}
	if !r.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", r.CreatedAt, created)
	}

	later, err := s.ListSummaries(ctx, "u1", created.Add(time.Minute))
	if err != nil {
		t.Fatalf("ListSummaries: %v", err)
	}
	if len(later) != 0 {
		t.Errorf("ListSummaries after range = %d records, want 0", len(later))
	}
}

func TestStore_Cache(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	key := store.CacheKey{UserID: "u1", RangeDays: 7, Kind: store.KindRecommendation}

	if _, err := s.ReadCache(ctx, key); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("ReadCache err = %v, want ErrNotFound", err)
	}
	if err := s.WriteCache(ctx, key, store.CacheEntry{Digest: "a", Payload: []byte("first")}); err != nil {
		t.Fatalf("WriteCache: %v", err)
	}
	if err := s.WriteCache(ctx, key, store.CacheEntry{Digest: "b", Payload: []byte("second")}); err != nil {
		t.Fatalf("WriteCache: %v", err)
	}
	e, err := s.ReadCache(ctx, key)
	if err != nil {
		t.Fatalf("ReadCache: %v", err)
	}
	if e.Digest != "b" || string(e.Payload) != "second" {
		t.Errorf("entry = %q/%q, want b/second", e.Digest, e.Payload)
	}

	other := key
	other.Kind = store.KindLanguagePatterns
	if _, err := s.ReadCache(ctx, other); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ReadCache(other kind) err = %v, want ErrNotFound", err)
	}
}

func TestStore_SearchReflections(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for _, r := range []store.Reflection{
		{SessionID: "s1", UserID: "u1", Text: "work", Model: "m", Embedding: []float32{1, 0, 0}},
		{SessionID: "s2", UserID: "u1", Text: "family", Model: "m", Embedding: []float32{0, 1, 0}},
		{SessionID: "s3", UserID: "u1", Text: "mixed", Model: "m", Embedding: []float32{0.7, 0.7, 0}},
		{SessionID: "s4", UserID: "u1", Text: "other model", Model: "x", Embedding: []float32{1, 0, 0}},
		{SessionID: "s5", UserID: "u2", Text: "other user", Model: "m", Embedding: []float32{1, 0, 0}},
	} {
		if err := s.IndexReflection(ctx, r); err != nil {
			t.Fatalf("IndexReflection: %v", err)
		}
	}

	got, err := s.SearchReflections(ctx, "u1", "m", []float32{1, 0.1, 0}, 2)
	if err != nil {
		t.Fatalf("SearchReflections: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].SessionID != "s1" || got[1].SessionID != "s3" {
		t.Errorf("order = %s, %s; want s1, s3", got[0].SessionID, got[1].SessionID)
	}
	if len(got[0].Embedding) != 3 || got[0].Embedding[0] != 1 {
		t.Errorf("embedding round trip = %v", got[0].Embedding)
	}
}

func TestVectorCodec(t *testing.T) {
	t.Parallel()
	in := []float32{0, -1.5, 3.25, 1e-7}
	out := decodeVector(encodeVector(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}
