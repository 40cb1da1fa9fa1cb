package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

type queueFake struct {
	published []string
	err       error
}

func (f *queueFake) PublishWorkQueued(_ context.Context, workID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, workID)
	return nil
}

func (f *queueFake) SubscribeWorkQueued(context.Context, func(context.Context, string) error) error {
	return nil
}

func TestEnqueuePublishesKnownWork(t *testing.T) {
	queue := &queueFake{}
	uc := NewIngestWorkUseCase(testCatalog(), queue)

	if err := uc.Enqueue(context.Background(), " path "); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if len(queue.published) != 1 || queue.published[0] != "path" {
		t.Fatalf("expected path published, got %v", queue.published)
	}
}

func TestEnqueueRejectsUnknownWork(t *testing.T) {
	queue := &queueFake{}
	uc := NewIngestWorkUseCase(testCatalog(), queue)

	if err := uc.Enqueue(context.Background(), "missing"); !errors.Is(err, domain.ErrWorkNotFound) {
		t.Fatalf("expected ErrWorkNotFound, got %v", err)
	}
	if err := uc.Enqueue(context.Background(), ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(queue.published) != 0 {
		t.Fatalf("nothing should be published")
	}
}

func TestEnqueuePublishError(t *testing.T) {
	uc := NewIngestWorkUseCase(testCatalog(), &queueFake{err: errors.New("nats down")})
	if err := uc.Enqueue(context.Background(), "path"); err == nil {
		t.Fatalf("expected publish error")
	}
}
