package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
	"github.com/kirillkom/witness-retrieval/internal/infrastructure/resilience"
)

func TestWorkQueuedRoundTrip(t *testing.T) {
	payload, err := encodeWorkQueued("derech-hashem", time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("encodeWorkQueued() error = %v", err)
	}
	if string(payload) != `{"work_id":"derech-hashem","requested_at":"2026-10-16T09:00:00Z"}` {
		t.Fatalf("unexpected payload: %s", payload)
	}
	workID, err := decodeWorkQueued(payload)
	if err != nil {
		t.Fatalf("decodeWorkQueued() error = %v", err)
	}
	if workID != "derech-hashem" {
		t.Fatalf("unexpected work id: %q", workID)
	}
}

func TestDecodeWorkQueuedAcceptsBareID(t *testing.T) {
	workID, err := decodeWorkQueued([]byte(" mesillat-yesharim\n"))
	if err != nil || workID != "mesillat-yesharim" {
		t.Fatalf("unexpected decode: %q, %v", workID, err)
	}
}

func TestDecodeWorkQueuedRejectsInvalidPayloads(t *testing.T) {
	for _, payload := range []string{"", "  ", `{"work_id":""}`, `{"work_id":`} {
		if _, err := decodeWorkQueued([]byte(payload)); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("%q: expected ErrInvalidInput, got %v", payload, err)
		}
	}
}

func TestDispatchSkipsHandlerAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	dispatch(ctx, []byte("derech-hashem"), func(context.Context, string) error {
		called = true
		return nil
	})
	if called {
		t.Fatalf("handler must not run after shutdown")
	}
}

func TestDispatchPassesDecodedID(t *testing.T) {
	var got string
	dispatch(context.Background(), []byte(`{"work_id":"daat-tevunot"}`), func(_ context.Context, id string) error {
		got = id
		return errors.New("ignored")
	})
	if got != "daat-tevunot" {
		t.Fatalf("unexpected work id: %q", got)
	}
}

func TestClassifyNATSError(t *testing.T) {
	if !classifyNATSError(fmt.Errorf("publish: %w", nats.ErrConnectionClosed)).Retryable {
		t.Fatalf("closed connection should be retryable")
	}
	if classifyNATSError(context.Canceled).RecordFailure {
		t.Fatalf("cancellation must not count against the breaker")
	}
	if classifyNATSError(nats.ErrBadSubject).Retryable {
		t.Fatalf("bad subject should not be retryable")
	}

	wrapped := resilience.WrapTemporary("nats publish", nats.ErrNoServers, classifyNATSError)
	if !domain.IsKind(wrapped, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", wrapped)
	}
}
