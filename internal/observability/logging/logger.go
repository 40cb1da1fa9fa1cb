package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
)

// NewJSONLogger writes JSON records to stdout, each tagged with service.
func NewJSONLogger(service, level string) *slog.Logger {
	return New(os.Stdout, service, level)
}

func New(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler).With("service", service)
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var errorKinds = []struct {
	kind error
	name string
}{
	{domain.ErrInvalidInput, "invalid_input"},
	{domain.ErrWorkNotFound, "work_not_found"},
	{domain.ErrReferenceNotFound, "reference_not_found"},
	{domain.ErrChunkNotFound, "chunk_not_found"},
	{domain.ErrMalformedResponse, "malformed_response"},
	{domain.ErrEmbeddingUnavailable, "embedding_unavailable"},
	{domain.ErrTemporary, "temporary"},
}

// ErrorAttrs returns "error" and "error_kind" key/value pairs for slog calls.
// The kind is the first matching domain error, "canceled" for context errors, else "internal".
func ErrorAttrs(err error) []any {
	return []any{"error", err, "error_kind", ErrorKind(err)}
}

func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "internal"
}
