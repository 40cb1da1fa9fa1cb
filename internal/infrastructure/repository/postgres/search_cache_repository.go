package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

type SearchCacheRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSearchCacheRepository(db *sql.DB) *SearchCacheRepository {
	return &SearchCacheRepository{db: db, now: time.Now}
}

// GetCachedSearch returns the unexpired entry for key, or nil when there is none.
func (r *SearchCacheRepository) GetCachedSearch(ctx context.Context, key string) (*domain.SearchCacheEntry, error) {
	entry := domain.SearchCacheEntry{Key: key}
	var idsRaw, scoresRaw, typesRaw []byte
	err := r.db.QueryRowContext(ctx, `
SELECT query_text, chunk_ids, scores, match_types, expires_at
FROM search_cache
WHERE cache_key = $1 AND expires_at > $2
`, key, r.now().UTC()).Scan(&entry.Query, &idsRaw, &scoresRaw, &typesRaw, &entry.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached search: %w", err)
	}

	if err := json.Unmarshal(idsRaw, &entry.ChunkIDs); err != nil {
		return nil, fmt.Errorf("unmarshal cached chunk ids: %w", err)
	}
	if err := json.Unmarshal(scoresRaw, &entry.Scores); err != nil {
		return nil, fmt.Errorf("unmarshal cached scores: %w", err)
	}
	if len(typesRaw) > 0 {
		if err := json.Unmarshal(typesRaw, &entry.MatchTypes); err != nil {
			return nil, fmt.Errorf("unmarshal cached match types: %w", err)
		}
	}
	if len(entry.ChunkIDs) != len(entry.Scores) {
		return nil, domain.WrapError(domain.ErrMalformedResponse, "get cached search",
			fmt.Errorf("cache entry %s has %d ids and %d scores", key, len(entry.ChunkIDs), len(entry.Scores)))
	}
	return &entry, nil
}

func (r *SearchCacheRepository) SetCachedSearch(ctx context.Context, entry domain.SearchCacheEntry) error {
	idsJSON, err := json.Marshal(nonNil(entry.ChunkIDs))
	if err != nil {
		return fmt.Errorf("marshal chunk ids: %w", err)
	}
	scoresJSON, err := json.Marshal(nonNil(entry.Scores))
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	typesJSON, err := json.Marshal(nonNil(entry.MatchTypes))
	if err != nil {
		return fmt.Errorf("marshal match types: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO search_cache (cache_key, query_text, chunk_ids, scores, match_types, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (cache_key) DO UPDATE SET
	query_text = EXCLUDED.query_text,
	chunk_ids = EXCLUDED.chunk_ids,
	scores = EXCLUDED.scores,
	match_types = EXCLUDED.match_types,
	expires_at = EXCLUDED.expires_at,
	created_at = EXCLUDED.created_at
`, entry.Key, entry.Query, idsJSON, scoresJSON, typesJSON, entry.ExpiresAt.UTC(), r.now().UTC())
	if err != nil {
		return fmt.Errorf("set cached search: %w", err)
	}
	return nil
}

// PurgeExpiredSearches deletes expired entries and returns how many were removed.
func (r *SearchCacheRepository) PurgeExpiredSearches(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM search_cache WHERE expires_at <= $1`, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge search cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge search cache rows affected: %w", err)
	}
	return n, nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
