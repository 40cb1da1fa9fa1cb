package ports

import (
	"context"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

// ChunkStore ranks and hydrates stored chunks.
type ChunkStore interface {
	VectorSearch(ctx context.Context, embedding []float32, opts domain.SearchOptions) ([]domain.SearchResult, error)
	LexicalSearch(ctx context.Context, query string, opts domain.SearchOptions) ([]domain.SearchResult, error)
	GetByIDs(ctx context.Context, ids []int64) ([]domain.Chunk, error)
}

// ChunkWriter persists chunk batches. A batch is written atomically.
type ChunkWriter interface {
	UpsertChunks(ctx context.Context, chunks []domain.Chunk) error
}

// SearchCache stores fused rankings. A nil entry with nil error is a miss.
type SearchCache interface {
	GetCachedSearch(ctx context.Context, key string) (*domain.SearchCacheEntry, error)
	SetCachedSearch(ctx context.Context, entry domain.SearchCacheEntry) error
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ReferenceFetcher resolves a canonical reference into source text.
// Not-found, transient and malformed failures are reported as
// domain.ErrReferenceNotFound, domain.ErrTemporary and domain.ErrMalformedResponse.
type ReferenceFetcher interface {
	FetchText(ctx context.Context, ref string, opts domain.FetchOptions) (*domain.FetchedText, error)
}

// ReferencePlanner selects catalog references for a question.
type ReferencePlanner interface {
	Plan(question string) domain.ReferencePlan
}

// ParagraphChunker groups a passage's paragraphs into retrieval-sized chunks.
type ParagraphChunker interface {
	Split(ref string, paragraphs, altParagraphs []string) []domain.ChunkDraft
}

// MessageQueue publishes/consumes work ingestion events.
type MessageQueue interface {
	PublishWorkQueued(ctx context.Context, workID string) error
	SubscribeWorkQueued(ctx context.Context, handler func(context.Context, string) error) error
}

// RetrievalObserver receives retrieval telemetry. Implementations must be cheap and non-blocking.
type RetrievalObserver interface {
	ObserveSearch(analytics domain.SearchAnalytics)
	ObserveCacheError(op string)
	ObserveResolution(source domain.ResolutionSource, witnesses int)
	ObserveVerification(total, unsourced int)
}
