package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrWorkNotFound         = errors.New("work not found")
	ErrReferenceNotFound    = errors.New("reference not found")
	ErrChunkNotFound        = errors.New("chunk not found")
	ErrMalformedResponse    = errors.New("malformed response")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrTemporary            = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
