package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DefaultEmbeddingDimensions matches nomic-embed-text, the default embedding model.
const DefaultEmbeddingDimensions = 768

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS works (
	id TEXT PRIMARY KEY,
	author TEXT NOT NULL,
	title TEXT NOT NULL,
	alt_titles JSONB NOT NULL DEFAULT '[]'::jsonb,
	description TEXT NOT NULL DEFAULT '',
	structure TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id BIGSERIAL PRIMARY KEY,
	work_id TEXT NOT NULL REFERENCES works(id),
	part_num INTEGER,
	chapter_num INTEGER,
	section_num INTEGER,
	paragraph_num INTEGER,
	ref TEXT NOT NULL UNIQUE,
	content_en TEXT NOT NULL DEFAULT '',
	content_he TEXT NOT NULL DEFAULT '',
	word_count INTEGER NOT NULL DEFAULT 0,
	char_count INTEGER NOT NULL DEFAULT 0,
	embedding_en vector(%[1]d),
	embedding_he vector(%[1]d),
	search_vector tsvector GENERATED ALWAYS AS (
		to_tsvector('simple', coalesce(content_en, '') || ' ' || coalesce(content_he, ''))
	) STORED,
	topic_keywords JSONB NOT NULL DEFAULT '[]'::jsonb,
	complexity DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_work_id ON chunks(work_id);
CREATE INDEX IF NOT EXISTS idx_chunks_search_vector ON chunks USING GIN (search_vector);
CREATE INDEX IF NOT EXISTS idx_chunks_embedding_en ON chunks USING hnsw (embedding_en vector_cosine_ops);
CREATE INDEX IF NOT EXISTS idx_chunks_embedding_he ON chunks USING hnsw (embedding_he vector_cosine_ops);

CREATE TABLE IF NOT EXISTS search_cache (
	cache_key TEXT PRIMARY KEY,
	query_text TEXT NOT NULL,
	chunk_ids JSONB NOT NULL,
	scores JSONB NOT NULL,
	match_types JSONB NOT NULL DEFAULT '[]'::jsonb,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_search_cache_expires_at ON search_cache(expires_at);
`

// EnsureSchema creates the pgvector extension and the works, chunks and search_cache tables.
func EnsureSchema(ctx context.Context, db *sql.DB, dimensions int) error {
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101601)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(schemaDDL, dimensions)); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// inPlaceholders renders "$start,$start+1,..." for n arguments.
func inPlaceholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}
