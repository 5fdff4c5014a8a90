package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/voxjournal/pkg/store"
	"github.com/MrWong99/voxjournal/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL-backed store. It holds a single [pgxpool.Pool].
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a connection pool to the database at dsn, registers
// pgvector types on every connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// StartSession implements [store.Store].
func (s *Store) StartSession(ctx context.Context, userID string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO journal_sessions (id, user_id, started_at) VALUES ($1, $2, now())`,
		id, userID)
	if err != nil {
		return "", fmt.Errorf("postgres store: start session: %w", err)
	}
	return id, nil
}

// AppendTranscript implements [store.Store].
func (s *Store) AppendTranscript(ctx context.Context, sessionID, fullText string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE journal_sessions SET transcript = $2, transcript_at = now() WHERE id = $1`,
		sessionID, fullText)
	if err != nil {
		return fmt.Errorf("postgres store: append transcript: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: append transcript %q: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

// WriteSummary implements [store.Store]. The owning user is taken from the
// session row.
func (s *Store) WriteSummary(ctx context.Context, sessionID string, summary types.SessionSummary, durationSec int) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("postgres store: encode summary: %w", err)
	}
	created := summary.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	const q = `
		INSERT INTO journal_summaries (session_id, user_id, payload, duration_sec, created_at)
		SELECT id, user_id, $2::jsonb, $3::integer, $4::timestamptz FROM journal_sessions WHERE id = $1
		ON CONFLICT (session_id) DO UPDATE SET
		    payload      = EXCLUDED.payload,
		    duration_sec = EXCLUDED.duration_sec,
		    created_at   = EXCLUDED.created_at`

	tag, err := s.pool.Exec(ctx, q, sessionID, payload, durationSec, created)
	if err != nil {
		return fmt.Errorf("postgres store: write summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: write summary %q: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

// ListSummaries implements [store.Store].
func (s *Store) ListSummaries(ctx context.Context, userID string, since time.Time) ([]store.SummaryRecord, error) {
	const q = `
		SELECT session_id, user_id, payload, duration_sec, created_at
		FROM   journal_summaries
		WHERE  user_id = $1 AND created_at >= $2
		ORDER  BY created_at, session_id`

	rows, err := s.pool.Query(ctx, q, userID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list summaries: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SummaryRecord, error) {
		var (
			r       store.SummaryRecord
			payload []byte
		)
		if err := row.Scan(&r.SessionID, &r.UserID, &payload, &r.DurationSec, &r.CreatedAt); err != nil {
			return store.SummaryRecord{}, err
		}
		if err := json.Unmarshal(payload, &r.Summary); err != nil {
			return store.SummaryRecord{}, fmt.Errorf("decode summary %s: %w", r.SessionID, err)
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan summaries: %w", err)
	}
	return records, nil
}

// ReadCache implements [store.Store].
func (s *Store) ReadCache(ctx context.Context, key store.CacheKey) (*store.CacheEntry, error) {
	const q = `
		SELECT digest, payload, updated_at
		FROM   insight_cache
		WHERE  user_id = $1 AND range_days = $2 AND kind = $3`

	var e store.CacheEntry
	err := s.pool.QueryRow(ctx, q, key.UserID, key.RangeDays, string(key.Kind)).
		Scan(&e.Digest, &e.Payload, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: read cache: %w", err)
	}
	return &e, nil
}

// WriteCache implements [store.Store].
func (s *Store) WriteCache(ctx context.Context, key store.CacheKey, entry store.CacheEntry) error {
	updated := entry.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	const q = `
		INSERT INTO insight_cache (user_id, range_days, kind, digest, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, range_days, kind) DO UPDATE SET
		    digest     = EXCLUDED.digest,
		    payload    = EXCLUDED.payload,
		    updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, q, key.UserID, key.RangeDays, string(key.Kind), entry.Digest, entry.Payload, updated)
	if err != nil {
		return fmt.Errorf("postgres store: write cache: %w", err)
	}
	return nil
}

// IndexReflection implements [store.Store]. An existing reflection for the
// same session is replaced.
func (s *Store) IndexReflection(ctx context.Context, r store.Reflection) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	const q = `
		INSERT INTO reflections (session_id, user_id, content, model, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
		    user_id    = EXCLUDED.user_id,
		    content    = EXCLUDED.content,
		    model      = EXCLUDED.model,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, q, r.SessionID, r.UserID, r.Text, r.Model, pgvector.NewVector(r.Embedding), created)
	if err != nil {
		return fmt.Errorf("postgres store: index reflection: %w", err)
	}
	return nil
}

// SearchReflections implements [store.Store] using pgvector cosine distance.
// Similarity is reported as 1 - distance.
func (s *Store) SearchReflections(ctx context.Context, userID, model string, embedding []float32, k int) ([]store.ReflectionMatch, error) {
	const q = `
		SELECT session_id, user_id, content, model, embedding, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM   reflections
		WHERE  user_id = $2 AND model = $3
		ORDER  BY embedding <=> $1
		LIMIT  $4`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), userID, model, k)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search reflections: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ReflectionMatch, error) {
		var (
			m   store.ReflectionMatch
			vec pgvector.Vector
		)
		if err := row.Scan(&m.SessionID, &m.UserID, &m.Text, &m.Model, &vec, &m.CreatedAt, &m.Similarity); err != nil {
			return store.ReflectionMatch{}, err
		}
		m.Embedding = vec.Slice()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan reflections: %w", err)
	}
	return matches, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
