package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
	"github.com/kirillkom/witness-retrieval/internal/core/ports"
)

const (
	DefaultSearchCacheTTL = time.Hour
	candidateMultiplier   = 2
)

type HybridSearchUseCase struct {
	embedder ports.Embedder
	chunks   ports.ChunkStore
	cache    ports.SearchCache
	observer ports.RetrievalObserver
	cacheTTL time.Duration
	now      func() time.Time
}

func NewHybridSearchUseCase(
	embedder ports.Embedder,
	chunks ports.ChunkStore,
	cache ports.SearchCache,
	observer ports.RetrievalObserver,
	cacheTTL time.Duration,
) *HybridSearchUseCase {
	if cacheTTL <= 0 {
		cacheTTL = DefaultSearchCacheTTL
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &HybridSearchUseCase{
		embedder: embedder,
		chunks:   chunks,
		cache:    cache,
		observer: observer,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

func (uc *HybridSearchUseCase) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	start := uc.now()
	opts = opts.Normalize()
	key := searchCacheKey(query, opts)

	if results, ok := uc.fromCache(ctx, key); ok {
		analytics := domain.SearchAnalytics{
			ResultCount: len(results),
			CacheHit:    true,
		}
		return uc.finish(results, analytics, start), nil
	}

	var (
		vectorHits, lexicalHits []domain.SearchResult
		analytics               domain.SearchAnalytics
	)

	if opts.Mode == domain.SearchModeVector {
		hits, err := uc.vectorSearch(ctx, query, opts.Limit, opts)
		if err != nil {
			return nil, err
		}
		vectorHits = hits
	} else {
		var vectorErr, lexicalErr error
		var g errgroup.Group
		g.Go(func() error {
			vectorHits, vectorErr = uc.vectorSearch(ctx, query, candidateMultiplier*opts.Limit, opts)
			return nil
		})
		g.Go(func() error {
			lexicalHits, lexicalErr = uc.lexicalSearch(ctx, query, candidateMultiplier*opts.Limit, opts)
			return nil
		})
		_ = g.Wait()

		switch {
		case vectorErr != nil && lexicalErr != nil:
			return nil, fmt.Errorf("hybrid search: %w", errors.Join(vectorErr, lexicalErr))
		case vectorErr != nil:
			analytics.Degraded = true
			analytics.Warnings = append(analytics.Warnings, "vector search unavailable, lexical-only results: "+vectorErr.Error())
			slog.Warn("hybrid_search_degraded", "side", "vector", "error", vectorErr)
		case lexicalErr != nil:
			analytics.Degraded = true
			analytics.Warnings = append(analytics.Warnings, "lexical search unavailable, vector-only results: "+lexicalErr.Error())
			slog.Warn("hybrid_search_degraded", "side", "lexical", "error", lexicalErr)
		}
	}

	analytics.VectorCandidates = len(vectorHits)
	analytics.LexicalCandidates = len(lexicalHits)

	results := fuseResults(vectorHits, lexicalHits, opts.Limit)
	analytics.ResultCount = len(results)
	countMatchTypes(results, &analytics)

	// Degraded rankings are not cached.
	if !analytics.Degraded {
		if err := uc.writeCache(ctx, key, query, results); err != nil {
			analytics.CacheWriteError = err.Error()
		}
	}

	return uc.finish(results, analytics, start), nil
}

func (uc *HybridSearchUseCase) finish(results []domain.SearchResult, analytics domain.SearchAnalytics, start time.Time) *domain.SearchResponse {
	analytics.Duration = uc.now().Sub(start)
	uc.observer.ObserveSearch(analytics)
	if results == nil {
		results = []domain.SearchResult{}
	}
	return &domain.SearchResponse{Results: results, Analytics: analytics}
}

func (uc *HybridSearchUseCase) vectorSearch(ctx context.Context, query string, limit int, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	embedding, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbeddingUnavailable, "embed query", err)
	}
	opts.Limit = limit
	hits, err := uc.chunks.VectorSearch(ctx, embedding, opts)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}

func (uc *HybridSearchUseCase) lexicalSearch(ctx context.Context, query string, limit int, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	opts.Limit = limit
	hits, err := uc.chunks.LexicalSearch(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	return hits, nil
}

// fromCache hydrates a cached ranking from the chunk store so content is always current.
// Any cache or hydration failure is a miss.
func (uc *HybridSearchUseCase) fromCache(ctx context.Context, key string) ([]domain.SearchResult, bool) {
	if uc.cache == nil {
		return nil, false
	}
	entry, err := uc.cache.GetCachedSearch(ctx, key)
	if err != nil {
		slog.Warn("search_cache_read_failed", "error", err)
		uc.observer.ObserveCacheError("read")
		return nil, false
	}
	if entry == nil || !entry.ExpiresAt.After(uc.now()) {
		return nil, false
	}
	if len(entry.Scores) != len(entry.ChunkIDs) {
		slog.Warn("search_cache_entry_inconsistent", "ids", len(entry.ChunkIDs), "scores", len(entry.Scores))
		return nil, false
	}
	if len(entry.ChunkIDs) == 0 {
		return []domain.SearchResult{}, true
	}

	chunks, err := uc.chunks.GetByIDs(ctx, entry.ChunkIDs)
	if err != nil {
		slog.Warn("search_cache_hydrate_failed", "error", err)
		uc.observer.ObserveCacheError("hydrate")
		return nil, false
	}
	byID := make(map[int64]domain.Chunk, len(chunks))
	for _, chunk := range chunks {
		byID[chunk.ID] = chunk
	}

	results := make([]domain.SearchResult, 0, len(entry.ChunkIDs))
	for i, id := range entry.ChunkIDs {
		chunk, ok := byID[id]
		if !ok {
			continue
		}
		matchType := domain.MatchVector
		if i < len(entry.MatchTypes) && entry.MatchTypes[i] != "" {
			matchType = entry.MatchTypes[i]
		}
		results = append(results, domain.SearchResult{
			Chunk:      chunk,
			Similarity: entry.Scores[i],
			MatchType:  matchType,
		})
	}
	return results, true
}

func (uc *HybridSearchUseCase) writeCache(ctx context.Context, key, query string, results []domain.SearchResult) error {
	if uc.cache == nil {
		return nil
	}
	entry := domain.SearchCacheEntry{
		Key:        key,
		Query:      query,
		ChunkIDs:   make([]int64, 0, len(results)),
		Scores:     make([]float64, 0, len(results)),
		MatchTypes: make([]domain.MatchType, 0, len(results)),
		ExpiresAt:  uc.now().Add(uc.cacheTTL),
	}
	for _, r := range results {
		entry.ChunkIDs = append(entry.ChunkIDs, r.Chunk.ID)
		entry.Scores = append(entry.Scores, r.Similarity)
		entry.MatchTypes = append(entry.MatchTypes, r.MatchType)
	}
	if err := uc.cache.SetCachedSearch(ctx, entry); err != nil {
		slog.Warn("search_cache_write_failed", "error", err)
		uc.observer.ObserveCacheError("write")
		return err
	}
	return nil
}

type noopObserver struct{}

func (noopObserver) ObserveSearch(domain.SearchAnalytics)            {}
func (noopObserver) ObserveCacheError(string)                        {}
func (noopObserver) ObserveResolution(domain.ResolutionSource, int) {}
func (noopObserver) ObserveVerification(int, int)                   {}
