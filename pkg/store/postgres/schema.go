// Package postgres provides a PostgreSQL-backed implementation of store.Store.
//
// Sessions, summaries and the insight cache are plain tables. Reflection
// embeddings live in a pgvector column behind an HNSW cosine index; the
// pgvector extension must be available in the target database. [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
//	id, _ := st.StartSession(ctx, "local")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sessions and summaries
// ─────────────────────────────────────────────────────────────────────────────

const ddlSessions = `
CREATE TABLE IF NOT EXISTS journal_sessions (
    id             TEXT         PRIMARY KEY,
    user_id        TEXT         NOT NULL,
    started_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    transcript     TEXT         NOT NULL DEFAULT '',
    transcript_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_journal_sessions_user
    ON journal_sessions (user_id, started_at);

CREATE TABLE IF NOT EXISTS journal_summaries (
    session_id    TEXT         PRIMARY KEY REFERENCES journal_sessions (id) ON DELETE CASCADE,
    user_id       TEXT         NOT NULL,
    payload       JSONB        NOT NULL,
    duration_sec  INTEGER      NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_journal_summaries_user_created
    ON journal_summaries (user_id, created_at);
`

// ─────────────────────────────────────────────────────────────────────────────
// Insight cache
// ─────────────────────────────────────────────────────────────────────────────

const ddlCache = `
CREATE TABLE IF NOT EXISTS insight_cache (
    user_id     TEXT         NOT NULL,
    range_days  INTEGER      NOT NULL,
    kind        TEXT         NOT NULL,
    digest      TEXT         NOT NULL,
    payload     JSONB        NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, range_days, kind)
);
`

// ddlReflections returns the reflection DDL with the embedding dimension
// substituted. The dimension is baked into the column type at creation time.
func ddlReflections(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS reflections (
    session_id  TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    model       TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_reflections_user
    ON reflections (user_id, model);

CREATE INDEX IF NOT EXISTS idx_reflections_embedding
    ON reflections USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every application start.
//
// embeddingDimensions must match the configured embedding model (e.g. 1536 for
// OpenAI text-embedding-3-small, 768 for nomic-embed-text). Changing it after
// the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	statements := []string{
		ddlSessions,
		ddlCache,
		ddlReflections(embeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
