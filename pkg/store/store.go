// Package store defines the persistence interface used by voxjournal.
//
// A store records sessions, the transcript-so-far of each session, the final
// summaries, the per-range insight cache and the embedded reflections used
// for related-session recall. Every write from the live session path is
// best-effort: callers log failures and continue.
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/MrWong99/voxjournal/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Kind names a cached pipeline variant.
type Kind string

const (
	KindLanguagePatterns Kind = "language_patterns"
	KindRecommendation   Kind = "recommendation"
)

// CacheKey addresses one cache entry.
type CacheKey struct {
	UserID    string
	RangeDays int
	Kind      Kind
}

// CacheEntry is a cached pipeline payload and the digest of the inputs that
// produced it.
type CacheEntry struct {
	Digest    string
	Payload   []byte
	UpdatedAt time.Time
}

// SummaryRecord is a stored session summary.
type SummaryRecord struct {
	SessionID   string
	UserID      string
	Summary     types.SessionSummary
	DurationSec int
	CreatedAt   time.Time
}

// Reflection is an embedded session summary.
type Reflection struct {
	SessionID string
	UserID    string
	Text      string
	Model     string
	Embedding []float32
	CreatedAt time.Time
}

// ReflectionMatch is a search hit with its cosine similarity to the query.
type ReflectionMatch struct {
	Reflection
	Similarity float64
}

// Store is the persistence boundary.
type Store interface {
	// StartSession opens a session record for userID and returns its ID.
	StartSession(ctx context.Context, userID string) (string, error)

	// AppendTranscript replaces the stored transcript of sessionID with
	// fullText, the whole rendered transcript so far.
	AppendTranscript(ctx context.Context, sessionID, fullText string) error

	// WriteSummary stores the final summary of a session.
	WriteSummary(ctx context.Context, sessionID string, summary types.SessionSummary, durationSec int) error

	// ListSummaries returns the summaries of userID created at or after since,
	// oldest first.
	ListSummaries(ctx context.Context, userID string, since time.Time) ([]SummaryRecord, error)

	// ReadCache returns the entry for key, or [ErrNotFound].
	ReadCache(ctx context.Context, key CacheKey) (*CacheEntry, error)

	// WriteCache upserts the entry for key.
	WriteCache(ctx context.Context, key CacheKey, entry CacheEntry) error

	// IndexReflection upserts the embedding of a session summary.
	IndexReflection(ctx context.Context, r Reflection) error

	// SearchReflections returns up to k reflections of userID that were
	// embedded with model, most similar to embedding first.
	SearchReflections(ctx context.Context, userID, model string, embedding []float32, k int) ([]ReflectionMatch, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// Cosine returns the cosine similarity of a and b. Vectors of different
// length, or with zero magnitude, have similarity 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
