package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
	"github.com/kirillkom/witness-retrieval/internal/core/ports"
)

// IngestWorkUseCase accepts ingestion requests for catalog works and hands them to the worker queue.
type IngestWorkUseCase struct {
	catalog domain.Catalog
	queue   ports.MessageQueue
}

func NewIngestWorkUseCase(catalog domain.Catalog, queue ports.MessageQueue) *IngestWorkUseCase {
	return &IngestWorkUseCase{
		catalog: catalog,
		queue:   queue,
	}
}

func (uc *IngestWorkUseCase) Enqueue(ctx context.Context, workID string) error {
	workID = strings.TrimSpace(workID)
	if workID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "enqueue work", errors.New("work id is required"))
	}
	if _, ok := uc.catalog.WorkByID(workID); !ok {
		return domain.WrapError(domain.ErrWorkNotFound, "enqueue work", fmt.Errorf("unknown work %q", workID))
	}
	if err := uc.queue.PublishWorkQueued(ctx, workID); err != nil {
		return fmt.Errorf("publish ingestion event: %w", err)
	}
	slog.Info("work_ingest_enqueued", "work_id", workID)
	return nil
}
