// Package mock provides an in-memory implementation of store.Store.
//
// Store keeps every record in maps guarded by a mutex. It backs the "memory"
// store driver and doubles as the test fake: set the Err fields to inject
// failures, and read the exported accessors to inspect what was written.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxjournal/pkg/store"
	"github.com/MrWong99/voxjournal/pkg/types"
)

type session struct {
	userID     string
	startedAt  time.Time
	transcript string
	appends    int
}

// Store is an in-memory store.Store.
type Store struct {
	mu sync.Mutex

	// Now overrides the clock used for timestamps. Optional.
	Now func() time.Time

	// Injected failures. nil means success.
	StartSessionErr      error
	AppendTranscriptErr  error
	WriteSummaryErr      error
	ReadCacheErr         error
	WriteCacheErr        error
	IndexReflectionErr   error
	SearchReflectionsErr error
	PingErr              error

	sessions    map[string]*session
	summaries   map[string]store.SummaryRecord
	cache       map[store.CacheKey]store.CacheEntry
	reflections map[string]store.Reflection

	// WriteCacheCount counts successful WriteCache calls.
	WriteCacheCount int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions:    make(map[string]*session),
		summaries:   make(map[string]store.SummaryRecord),
		cache:       make(map[store.CacheKey]store.CacheEntry),
		reflections: make(map[string]store.Reflection),
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// StartSession implements store.Store.
func (s *Store) StartSession(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartSessionErr != nil {
		return "", s.StartSessionErr
	}
	id := uuid.NewString()
	s.sessions[id] = &session{userID: userID, startedAt: s.now()}
	return id, nil
}

// AppendTranscript implements store.Store.
func (s *Store) AppendTranscript(_ context.Context, sessionID, fullText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendTranscriptErr != nil {
		return s.AppendTranscriptErr
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("mock store: append transcript %q: %w", sessionID, store.ErrNotFound)
	}
	sess.transcript = fullText
	sess.appends++
	return nil
}

// WriteSummary implements store.Store.
func (s *Store) WriteSummary(_ context.Context, sessionID string, summary types.SessionSummary, durationSec int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteSummaryErr != nil {
		return s.WriteSummaryErr
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("mock store: write summary %q: %w", sessionID, store.ErrNotFound)
	}
	created := summary.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	s.summaries[sessionID] = store.SummaryRecord{
		SessionID:   sessionID,
		UserID:      sess.userID,
		Summary:     summary,
		DurationSec: durationSec,
		CreatedAt:   created,
	}
	return nil
}

// ListSummaries implements store.Store.
func (s *Store) ListSummaries(_ context.Context, userID string, since time.Time) ([]store.SummaryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.SummaryRecord
	for _, r := range s.summaries {
		if r.UserID == userID && !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ReadCache implements store.Store.
func (s *Store) ReadCache(_ context.Context, key store.CacheKey) (*store.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadCacheErr != nil {
		return nil, s.ReadCacheErr
	}
	e, ok := s.cache[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

// WriteCache implements store.Store.
func (s *Store) WriteCache(_ context.Context, key store.CacheKey, entry store.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteCacheErr != nil {
		return s.WriteCacheErr
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = s.now()
	}
	entry.Payload = append([]byte(nil), entry.Payload...)
	s.cache[key] = entry
	s.WriteCacheCount++
	return nil
}

// IndexReflection implements store.Store.
func (s *Store) IndexReflection(_ context.Context, r store.Reflection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IndexReflectionErr != nil {
		return s.IndexReflectionErr
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.reflections[r.SessionID] = r
	return nil
}

// SearchReflections implements store.Store.
func (s *Store) SearchReflections(_ context.Context, userID, model string, embedding []float32, k int) ([]store.ReflectionMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchReflectionsErr != nil {
		return nil, s.SearchReflectionsErr
	}
	var out []store.ReflectionMatch
	for _, r := range s.reflections {
		if r.UserID != userID || r.Model != model {
			continue
		}
		out = append(out, store.ReflectionMatch{Reflection: r, Similarity: store.Cosine(embedding, r.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Ping implements store.Store.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// Transcript returns the last transcript stored for sessionID and how many
// times it was written.
func (s *Store) Transcript(sessionID string) (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", 0
	}
	return sess.transcript, sess.appends
}

// Summary returns the stored summary of sessionID.
func (s *Store) Summary(sessionID string) (store.SummaryRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.summaries[sessionID]
	return r, ok
}

// SessionCount returns the number of started sessions.
func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)
