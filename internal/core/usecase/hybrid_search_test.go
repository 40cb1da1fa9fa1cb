package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

type searchEmbedderFake struct {
	err   error
	calls int
}

func (f *searchEmbedderFake) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }
func (f *searchEmbedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type chunkStoreFake struct {
	vector     []domain.SearchResult
	lexical    []domain.SearchResult
	vectorErr  error
	lexicalErr error
	getErr     error
	chunks     map[int64]domain.Chunk

	vectorLimit  int
	lexicalLimit int
	lexicalCalls int
}

func (f *chunkStoreFake) VectorSearch(_ context.Context, _ []float32, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	f.vectorLimit = opts.Limit
	if f.vectorErr != nil {
		return nil, f.vectorErr
	}
	return cloneResults(f.vector), nil
}

func (f *chunkStoreFake) LexicalSearch(_ context.Context, _ string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	f.lexicalLimit = opts.Limit
	f.lexicalCalls++
	if f.lexicalErr != nil {
		return nil, f.lexicalErr
	}
	return cloneResults(f.lexical), nil
}

func (f *chunkStoreFake) GetByIDs(_ context.Context, ids []int64) ([]domain.Chunk, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		if chunk, ok := f.chunks[id]; ok {
			out = append(out, chunk)
		}
	}
	return out, nil
}

type searchCacheFake struct {
	entries map[string]domain.SearchCacheEntry
	getErr  error
	setErr  error
	sets    int
}

func newSearchCacheFake() *searchCacheFake {
	return &searchCacheFake{entries: map[string]domain.SearchCacheEntry{}}
}

func (f *searchCacheFake) GetCachedSearch(_ context.Context, key string) (*domain.SearchCacheEntry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	entry, ok := f.entries[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (f *searchCacheFake) SetCachedSearch(_ context.Context, entry domain.SearchCacheEntry) error {
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	f.entries[entry.Key] = entry
	return nil
}

type observerFake struct {
	searches      []domain.SearchAnalytics
	cacheErrors   []string
	resolutions   []domain.ResolutionSource
	verifications [][2]int
}

func (f *observerFake) ObserveSearch(a domain.SearchAnalytics) { f.searches = append(f.searches, a) }
func (f *observerFake) ObserveCacheError(op string)           { f.cacheErrors = append(f.cacheErrors, op) }
func (f *observerFake) ObserveResolution(source domain.ResolutionSource, _ int) {
	f.resolutions = append(f.resolutions, source)
}
func (f *observerFake) ObserveVerification(total, unsourced int) {
	f.verifications = append(f.verifications, [2]int{total, unsourced})
}

func testChunk(id int64, ref string) domain.Chunk {
	return domain.Chunk{ID: id, WorkID: "w", Ref: ref, ContentEN: "text of " + ref, ContentHE: "טקסט " + ref}
}

func hit(id int64, similarity float64, terms ...string) domain.SearchResult {
	return domain.SearchResult{Chunk: testChunk(id, refFor(id)), Similarity: similarity, MatchedTerms: terms}
}

func refFor(id int64) string {
	return "Work " + string(rune('A'+id))
}

func cloneResults(in []domain.SearchResult) []domain.SearchResult {
	out := make([]domain.SearchResult, len(in))
	copy(out, in)
	return out
}

func scenarioStore() *chunkStoreFake {
	return &chunkStoreFake{
		vector:  []domain.SearchResult{hit(1, 0.9), hit(2, 0.5)},
		lexical: []domain.SearchResult{hit(1, 0.4, "providence"), hit(3, 0.2, "providence")},
		chunks: map[int64]domain.Chunk{
			1: testChunk(1, refFor(1)),
			2: testChunk(2, refFor(2)),
			3: testChunk(3, refFor(3)),
		},
	}
}

func resultIDs(results []domain.SearchResult) []int64 {
	out := make([]int64, 0, len(results))
	for _, r := range results {
		out = append(out, r.Chunk.ID)
	}
	return out
}

func TestHybridSearchFusesVectorAndLexical(t *testing.T) {
	store := scenarioStore()
	uc := NewHybridSearchUseCase(&searchEmbedderFake{}, store, newSearchCacheFake(), nil, 0)

	resp, err := uc.Search(context.Background(), "providence", domain.SearchOptions{Limit: 3})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := resultIDs(resp.Results); !reflect.DeepEqual(got, []int64{1, 2, 3}) {
		t.Fatalf("expected ids [1 2 3], got %v", got)
	}
	wantTypes := []domain.MatchType{domain.MatchHybrid, domain.MatchVector, domain.MatchFulltext}
	for i, r := range resp.Results {
		if r.MatchType != wantTypes[i] {
			t.Fatalf("result %d: expected %s, got %s", i, wantTypes[i], r.MatchType)
		}
	}
	if resp.Results[0].Similarity != 1.0 {
		t.Fatalf("expected boosted similarity capped at 1.0, got %v", resp.Results[0].Similarity)
	}
	if resp.Results[1].Similarity != 0.5 {
		t.Fatalf("expected vector similarity kept, got %v", resp.Results[1].Similarity)
	}
	if store.vectorLimit != 6 || store.lexicalLimit != 6 {
		t.Fatalf("expected 2x limit candidates, got vector=%d lexical=%d", store.vectorLimit, store.lexicalLimit)
	}

	a := resp.Analytics
	if a.CacheHit || a.ResultCount != 3 || a.HybridMatches != 1 || a.VectorMatches != 1 || a.FulltextMatches != 1 {
		t.Fatalf("unexpected analytics: %+v", a)
	}
	if a.VectorCandidates != 2 || a.LexicalCandidates != 2 {
		t.Fatalf("unexpected candidate counts: %+v", a)
	}
}

func TestHybridSearchCacheRoundTrip(t *testing.T) {
	store := scenarioStore()
	embedder := &searchEmbedderFake{}
	cache := newSearchCacheFake()
	observer := &observerFake{}
	uc := NewHybridSearchUseCase(embedder, store, cache, observer, time.Hour)

	first, err := uc.Search(context.Background(), "Providence", domain.SearchOptions{Limit: 3})
	if err != nil {
		t.Fatalf("first Search() error = %v", err)
	}
	second, err := uc.Search(context.Background(), "  providence ", domain.SearchOptions{Limit: 3})
	if err != nil {
		t.Fatalf("second Search() error = %v", err)
	}

	if embedder.calls != 1 {
		t.Fatalf("expected cached second call, embedder called %d times", embedder.calls)
	}
	if !second.Analytics.CacheHit {
		t.Fatalf("expected cache hit")
	}
	if second.Analytics.VectorCandidates != 0 || second.Analytics.LexicalCandidates != 0 {
		t.Fatalf("expected zero candidate counts on hit, got %+v", second.Analytics)
	}
	if a := second.Analytics; a.VectorMatches != 0 || a.FulltextMatches != 0 || a.HybridMatches != 0 {
		t.Fatalf("expected zero origin counts on hit, got %+v", a)
	}
	if len(first.Results) != len(second.Results) {
		t.Fatalf("expected %d results, got %d", len(first.Results), len(second.Results))
	}
	for i := range first.Results {
		a, b := first.Results[i], second.Results[i]
		if a.Chunk.Ref != b.Chunk.Ref || a.Similarity != b.Similarity || a.MatchType != b.MatchType {
			t.Fatalf("result %d differs: %+v vs %+v", i, a, b)
		}
	}
	if len(observer.searches) != 2 {
		t.Fatalf("expected 2 observed searches, got %d", len(observer.searches))
	}
}

func TestHybridSearchCacheHitHydratesFreshContent(t *testing.T) {
	store := scenarioStore()
	uc := NewHybridSearchUseCase(&searchEmbedderFake{}, store, newSearchCacheFake(), nil, time.Hour)

	if _, err := uc.Search(context.Background(), "providence", domain.SearchOptions{Limit: 3}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	updated := store.chunks[2]
	updated.ContentEN = "revised text"
	store.chunks[2] = updated
	delete(store.chunks, 3)

	resp, err := uc.Search(context.Background(), "providence", domain.SearchOptions{Limit: 3})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := resultIDs(resp.Results); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Fatalf("expected missing chunk skipped, got %v", got)
	}
	if resp.Results[1].Chunk.ContentEN != "revised text" {
		t.Fatalf("expected hydrated content, got %q", resp.Results[1].Chunk.ContentEN)
	}
}

func TestHybridSearchExpiredEntryIsRecomputed(t *testing.T) {
	store := scenarioStore()
	embedder := &searchEmbedderFake{}
	uc := NewHybridSearchUseCase(embedder, store, newSearchCacheFake(), nil, time.Hour)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	uc.now = func() time.Time { return clock }

	if _, err := uc.Search(context.Background(), "providence", domain.SearchOptions{}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	clock = clock.Add(time.Hour)

	resp, err := uc.Search(context.Background(), "providence", domain.SearchOptions{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Analytics.CacheHit {
		t.Fatalf("expected expired entry to be a miss")
	}
	if embedder.calls != 2 {
		t.Fatalf("expected recomputation, embedder called %d times", embedder.calls)
	}
}

func TestHybridSearchDegradesToLexicalWhenEmbeddingFails(t *testing.T) {
	store := scenarioStore()
	cache := newSearchCacheFake()
	uc := NewHybridSearchUseCase(&searchEmbedderFake{err: errors.New("ollama down")}, store, cache, nil, time.Hour)

	resp, err := uc.Search(context.Background(), "providence", domain.SearchOptions{Limit: 3})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got := resultIDs(resp.Results); !reflect.DeepEqual(got, []int64{1, 3}) {
		t.Fatalf("expected lexical-only ids, got %v", got)
	}
	for _, r := range resp.Results {
		if r.MatchType != domain.MatchFulltext {
			t.Fatalf("expected fulltext only, got %s", r.MatchType)
		}
	}
	if !resp.Analytics.Degraded || len(resp.Analytics.Warnings) != 1 {
		t.Fatalf("expected degraded analytics with warning, got %+v", resp.Analytics)
	}
	if cache.sets != 0 {
		t.Fatalf("degraded results must not be cached")
	}
}

func TestHybridSearchVectorModePropagatesEmbeddingError(t *testing.T) {
	store := scenarioStore()
	uc := NewHybridSearchUseCase(&searchEmbedderFake{err: errors.New("ollama down")}, store, newSearchCacheFake(), nil, 0)

	_, err := uc.Search(context.Background(), "providence", domain.SearchOptions{Mode: domain.SearchModeVector})
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if store.lexicalCalls != 0 {
		t.Fatalf("vector mode must not run lexical search")
	}
}

func TestHybridSearchVectorModeUsesLimit(t *testing.T) {
	store := scenarioStore()
	uc := NewHybridSearchUseCase(&searchEmbedderFake{}, store, nil, nil, 0)

	resp, err := uc.Search(context.Background(), "providence", domain.SearchOptions{Limit: 4, Mode: domain.SearchModeVector})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if store.vectorLimit != 4 {
		t.Fatalf("expected limit 4, got %d", store.vectorLimit)
	}
	if resp.Analytics.VectorMatches != 2 || resp.Analytics.FulltextMatches != 0 {
		t.Fatalf("unexpected analytics: %+v", resp.Analytics)
	}
}

func TestHybridSearchFailsWhenBothSidesFail(t *testing.T) {
	store := scenarioStore()
	store.lexicalErr = errors.New("db down")
	uc := NewHybridSearchUseCase(&searchEmbedderFake{err: errors.New("ollama down")}, store, newSearchCacheFake(), nil, 0)

	if _, err := uc.Search(context.Background(), "providence", domain.SearchOptions{}); err == nil {
		t.Fatalf("expected error when both sides fail")
	}
}

func TestHybridSearchCacheWriteFailureIsBestEffort(t *testing.T) {
	cache := newSearchCacheFake()
	cache.setErr = errors.New("cache table locked")
	observer := &observerFake{}
	uc := NewHybridSearchUseCase(&searchEmbedderFake{}, scenarioStore(), cache, observer, 0)

	resp, err := uc.Search(context.Background(), "providence", domain.SearchOptions{Limit: 3})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	if resp.Analytics.CacheWriteError == "" {
		t.Fatalf("expected cache write error surfaced in analytics")
	}
	if !reflect.DeepEqual(observer.cacheErrors, []string{"write"}) {
		t.Fatalf("expected write cache error observed, got %v", observer.cacheErrors)
	}
}

func TestHybridSearchCacheReadFailureIsMiss(t *testing.T) {
	cache := newSearchCacheFake()
	cache.getErr = errors.New("cache unavailable")
	observer := &observerFake{}
	embedder := &searchEmbedderFake{}
	uc := NewHybridSearchUseCase(embedder, scenarioStore(), cache, observer, 0)

	resp, err := uc.Search(context.Background(), "providence", domain.SearchOptions{Limit: 3})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Analytics.CacheHit || embedder.calls != 1 {
		t.Fatalf("expected recomputation on cache read failure")
	}
	if len(observer.cacheErrors) != 1 || observer.cacheErrors[0] != "read" {
		t.Fatalf("expected read cache error observed, got %v", observer.cacheErrors)
	}
}

func TestSearchCacheKeyNormalizesQueryAndOptions(t *testing.T) {
	a := searchCacheKey("  Divine Providence ", domain.SearchOptions{WorkIDs: []string{"b", "a"}}.Normalize())
	b := searchCacheKey("divine providence", domain.SearchOptions{Limit: 10, WorkIDs: []string{"a", "b"}}.Normalize())
	if a != b {
		t.Fatalf("expected equal keys, got %s and %s", a, b)
	}
	c := searchCacheKey("divine providence", domain.SearchOptions{Limit: 5}.Normalize())
	if a == c {
		t.Fatalf("expected different options to change the key")
	}
}
