package ports

import (
	"context"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

// WitnessResolver is the inbound contract for question -> witness list reconciliation.
type WitnessResolver interface {
	Resolve(ctx context.Context, question string) (*domain.Resolution, error)
}

// Searcher is the inbound contract for hybrid chunk search.
type Searcher interface {
	Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error)
}

// CitationVerifier checks an answer's sentences against the retrieved witnesses.
type CitationVerifier interface {
	Verify(answer string, witnesses []domain.Witness) domain.VerificationResult
}

// WorkIngestor enqueues a catalog work for chunking and embedding.
type WorkIngestor interface {
	Enqueue(ctx context.Context, workID string) error
}

// WorkProcessor chunks, embeds and stores one work.
type WorkProcessor interface {
	Process(ctx context.Context, workID string) (*domain.IngestReport, error)
}
