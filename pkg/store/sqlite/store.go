// Package sqlite provides a single-file [store.Store] backed by
// modernc.org/sqlite, a cgo-free SQLite driver.
//
// Reflection embeddings are stored as little-endian float32 blobs and
// searched by computing cosine similarity in process, which is adequate for
// the per-user volume of a journal.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MrWong99/voxjournal/pkg/store"
	"github.com/MrWong99/voxjournal/pkg/types"
)

var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS journal_sessions (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    started_at    INTEGER NOT NULL,
    transcript    TEXT NOT NULL DEFAULT '',
    transcript_at INTEGER
);

CREATE TABLE IF NOT EXISTS journal_summaries (
    session_id   TEXT PRIMARY KEY REFERENCES journal_sessions(id),
    user_id      TEXT NOT NULL,
    payload      TEXT NOT NULL,
    duration_sec INTEGER NOT NULL,
    created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_summaries_user_created
    ON journal_summaries (user_id, created_at);

CREATE TABLE IF NOT EXISTS insight_cache (
    user_id    TEXT NOT NULL,
    range_days INTEGER NOT NULL,
    kind       TEXT NOT NULL,
    digest     TEXT NOT NULL,
    payload    BLOB NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, range_days, kind)
);

CREATE TABLE IF NOT EXISTS reflections (
    session_id TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    content    TEXT NOT NULL,
    model      TEXT NOT NULL,
    embedding  BLOB NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reflections_user_model
    ON reflections (user_id, model);
`

// Store is the SQLite-backed store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and applies the schema.
// dsn is passed to the driver unchanged, e.g. "file:voxjournal.db".
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite store: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// StartSession implements [store.Store].
func (s *Store) StartSession(ctx context.Context, userID string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_sessions (id, user_id, started_at) VALUES (?, ?, ?)`,
		id, userID, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("sqlite store: start session: %w", err)
	}
	return id, nil
}

// AppendTranscript implements [store.Store].
func (s *Store) AppendTranscript(ctx context.Context, sessionID, fullText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE journal_sessions SET transcript = ?, transcript_at = ? WHERE id = ?`,
		fullText, time.Now().UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("sqlite store: append transcript: %w", err)
	}
	return requireRow(res, "append transcript", sessionID)
}

// WriteSummary implements [store.Store].
func (s *Store) WriteSummary(ctx context.Context, sessionID string, summary types.SessionSummary, durationSec int) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("sqlite store: encode summary: %w", err)
	}
	created := summary.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	const q = `
		INSERT INTO journal_summaries (session_id, user_id, payload, duration_sec, created_at)
		SELECT id, user_id, ?, ?, ? FROM journal_sessions WHERE id = ?
		ON CONFLICT (session_id) DO UPDATE SET
		    payload      = excluded.payload,
		    duration_sec = excluded.duration_sec,
		    created_at   = excluded.created_at`

	res, err := s.db.ExecContext(ctx, q, string(payload), durationSec, created.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("sqlite store: write summary: %w", err)
	}
	return requireRow(res, "write summary", sessionID)
}

// ListSummaries implements [store.Store].
func (s *Store) ListSummaries(ctx context.Context, userID string, since time.Time) ([]store.SummaryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, payload, duration_sec, created_at
		FROM   journal_summaries
		WHERE  user_id = ? AND created_at >= ?
		ORDER  BY created_at, session_id`,
		userID, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list summaries: %w", err)
	}
	defer rows.Close()

	var out []store.SummaryRecord
	for rows.Next() {
		var (
			r       store.SummaryRecord
			payload string
			created int64
		)
		if err := rows.Scan(&r.SessionID, &r.UserID, &payload, &r.DurationSec, &created); err != nil {
			return nil, fmt.Errorf("sqlite store: scan summary: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &r.Summary); err != nil {
			return nil, fmt.Errorf("sqlite store: decode summary %s: %w", r.SessionID, err)
		}
		r.CreatedAt = time.UnixMilli(created)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list summaries: %w", err)
	}
	return out, nil
}

// ReadCache implements [store.Store].
func (s *Store) ReadCache(ctx context.Context, key store.CacheKey) (*store.CacheEntry, error) {
	var (
		e       store.CacheEntry
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT digest, payload, updated_at FROM insight_cache
		WHERE  user_id = ? AND range_days = ? AND kind = ?`,
		key.UserID, key.RangeDays, string(key.Kind)).Scan(&e.Digest, &e.Payload, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: read cache: %w", err)
	}
	e.UpdatedAt = time.UnixMilli(updated)
	return &e, nil
}

// WriteCache implements [store.Store].
func (s *Store) WriteCache(ctx context.Context, key store.CacheKey, entry store.CacheEntry) error {
	updated := entry.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insight_cache (user_id, range_days, kind, digest, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, range_days, kind) DO UPDATE SET
		    digest     = excluded.digest,
		    payload    = excluded.payload,
		    updated_at = excluded.updated_at`,
		key.UserID, key.RangeDays, string(key.Kind), entry.Digest, entry.Payload, updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite store: write cache: %w", err)
	}
	return nil
}

// IndexReflection implements [store.Store].
func (s *Store) IndexReflection(ctx context.Context, r store.Reflection) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reflections (session_id, user_id, content, model, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
		    user_id    = excluded.user_id,
		    content    = excluded.content,
		    model      = excluded.model,
		    embedding  = excluded.embedding,
		    created_at = excluded.created_at`,
		r.SessionID, r.UserID, r.Text, r.Model, encodeVector(r.Embedding), created.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite store: index reflection: %w", err)
	}
	return nil
}

// SearchReflections implements [store.Store]. Every reflection of the user
// and model is scanned and ranked by [store.Cosine].
func (s *Store) SearchReflections(ctx context.Context, userID, model string, embedding []float32, k int) ([]store.ReflectionMatch, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, content, model, embedding, created_at
		FROM   reflections
		WHERE  user_id = ? AND model = ?`,
		userID, model)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: search reflections: %w", err)
	}
	defer rows.Close()

	var matches []store.ReflectionMatch
	for rows.Next() {
		var (
			m       store.ReflectionMatch
			blob    []byte
			created int64
		)
		if err := rows.Scan(&m.SessionID, &m.UserID, &m.Text, &m.Model, &blob, &created); err != nil {
			return nil, fmt.Errorf("sqlite store: scan reflection: %w", err)
		}
		m.Embedding = decodeVector(blob)
		m.CreatedAt = time.UnixMilli(created)
		m.Similarity = store.Cosine(embedding, m.Embedding)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: search reflections: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func requireRow(res sql.Result, op, sessionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite store: %s %q: %w", op, sessionID, store.ErrNotFound)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
