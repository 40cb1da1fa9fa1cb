package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
	"github.com/kirillkom/witness-retrieval/internal/core/ports"
)

const DefaultEmbedBatchSize = 16

type ProcessConfig struct {
	BatchSize  int
	BatchDelay time.Duration
}

// ProcessWorkUseCase walks a catalog work reference by reference, groups paragraphs into
// chunks, embeds each language and upserts chunk batches transactionally.
type ProcessWorkUseCase struct {
	catalog  domain.Catalog
	fetcher  ports.ReferenceFetcher
	chunker  ports.ParagraphChunker
	embedder ports.Embedder
	writer   ports.ChunkWriter
	cfg      ProcessConfig
	sleep    func(context.Context, time.Duration) error
}

func NewProcessWorkUseCase(
	catalog domain.Catalog,
	fetcher ports.ReferenceFetcher,
	chunker ports.ParagraphChunker,
	embedder ports.Embedder,
	writer ports.ChunkWriter,
	cfg ProcessConfig,
) *ProcessWorkUseCase {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEmbedBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	return &ProcessWorkUseCase{
		catalog:  catalog,
		fetcher:  fetcher,
		chunker:  chunker,
		embedder: embedder,
		writer:   writer,
		cfg:      cfg,
		sleep:    sleepContext,
	}
}

// Process ingests one catalog work and reports what was written.
func (uc *ProcessWorkUseCase) Process(ctx context.Context, workID string) (*domain.IngestReport, error) {
	start := time.Now()
	work, ok := uc.catalog.WorkByID(workID)
	if !ok {
		return nil, domain.WrapError(domain.ErrWorkNotFound, "process work", fmt.Errorf("unknown work %q", workID))
	}
	report := &domain.IngestReport{RunID: uuid.NewString(), WorkID: work.ID}

	chunks, err := uc.collectChunks(ctx, work, report)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "process work", fmt.Errorf("work %q produced zero chunks", work.ID))
	}

	for batchStart := 0; batchStart < len(chunks); batchStart += uc.cfg.BatchSize {
		if batchStart > 0 {
			if err := uc.sleep(ctx, uc.cfg.BatchDelay); err != nil {
				return nil, err
			}
		}
		batch := chunks[batchStart:min(batchStart+uc.cfg.BatchSize, len(chunks))]
		if err := uc.embedBatch(ctx, batch); err != nil {
			return nil, err
		}
		if err := uc.writer.UpsertChunks(ctx, batch); err != nil {
			return nil, fmt.Errorf("upsert chunk batch %d: %w", report.Batches+1, err)
		}
		report.Batches++
		report.Chunks += len(batch)
		slog.Debug("work_ingest_batch_stored", "run_id", report.RunID, "work_id", work.ID, "batch", report.Batches, "chunks", len(batch))
	}

	report.Duration = time.Since(start)
	return report, nil
}

// collectChunks fetches references sequentially. Missing references are skipped,
// any other fetch failure aborts the run.
func (uc *ProcessWorkUseCase) collectChunks(ctx context.Context, work domain.Work, report *domain.IngestReport) ([]domain.Chunk, error) {
	topics := make(map[string][]string)
	for _, ch := range work.AllChapters() {
		topics[ch.Ref] = ch.Topics
	}

	var chunks []domain.Chunk
	for _, loc := range work.Locations() {
		report.References++
		text, err := uc.fetcher.FetchText(ctx, loc.Ref, domain.FetchOptions{Language: domain.LanguageEnglish})
		if err != nil {
			if errors.Is(err, domain.ErrReferenceNotFound) {
				slog.Warn("work_ingest_reference_skipped", "run_id", report.RunID, "ref", loc.Ref)
				report.SkippedReferences = append(report.SkippedReferences, loc.Ref)
				continue
			}
			return nil, fmt.Errorf("fetch %q: %w", loc.Ref, err)
		}

		paragraphs := text.Segments
		if len(paragraphs) == 0 && strings.TrimSpace(text.Text) != "" {
			paragraphs = []string{text.Text}
		}
		altParagraphs := text.AltSegments
		if len(altParagraphs) == 0 && strings.TrimSpace(text.AltText) != "" {
			altParagraphs = []string{text.AltText}
		}

		ref := text.Ref
		if ref == "" {
			ref = loc.Ref
		}
		for _, draft := range uc.chunker.Split(ref, paragraphs, altParagraphs) {
			chunks = append(chunks, buildChunk(work.ID, loc, draft, topics[loc.Ref]))
		}
	}
	return chunks, nil
}

func buildChunk(workID string, loc domain.Location, draft domain.ChunkDraft, chapterTopics []string) domain.Chunk {
	chunk := domain.Chunk{
		WorkID:        workID,
		Ref:           draft.Ref,
		ContentEN:     draft.Text,
		ContentHE:     draft.AltText,
		WordCount:     draft.WordCount,
		CharCount:     draft.CharCount,
		TopicKeywords: topicKeywords(chapterTopics, draft.Text),
		Complexity:    complexityScore(draft.Text),
	}
	if loc.Part > 0 {
		chunk.Part = intPtr(loc.Part)
	}
	if loc.Chapter > 0 {
		chunk.Chapter = intPtr(loc.Chapter)
	}
	if draft.FirstParagraph > 0 {
		chunk.Paragraph = intPtr(draft.FirstParagraph)
	}
	return chunk
}

// embedBatch embeds both languages from each chunk's own content.
func (uc *ProcessWorkUseCase) embedBatch(ctx context.Context, batch []domain.Chunk) error {
	for _, lang := range []domain.Language{domain.LanguageEnglish, domain.LanguageHebrew} {
		texts := make([]string, 0, len(batch))
		positions := make([]int, 0, len(batch))
		for i, chunk := range batch {
			if text := chunk.Text(lang); strings.TrimSpace(text) != "" {
				texts = append(texts, text)
				positions = append(positions, i)
			}
		}
		if len(texts) == 0 {
			continue
		}

		vectors, err := uc.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed %s chunks: %w", lang, err)
		}
		if len(vectors) != len(texts) {
			return domain.WrapError(
				domain.ErrMalformedResponse,
				"embed chunks",
				fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(texts)),
			)
		}
		for i, pos := range positions {
			if lang == domain.LanguageHebrew {
				batch[pos].EmbeddingHE = vectors[i]
			} else {
				batch[pos].EmbeddingEN = vectors[i]
			}
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func intPtr(v int) *int {
	return &v
}
