package core

import "errors"

var (
	// ErrInvalidInput is returned for empty content or queries, before any I/O.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned by lookups on ids that do not exist. Mutating
	// operations (delete, update) report a missing row as false instead.
	ErrNotFound = errors.New("not found")

	// ErrEmbeddingUnavailable marks a failed embedding provider call. The
	// embedding gateway absorbs it; it never reaches gateway callers.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrClassificationUnavailable marks a failed importance or pattern
	// extraction call. Callers degrade to neutral defaults.
	ErrClassificationUnavailable = errors.New("classification unavailable")

	// ErrDimensionMismatch is a configuration error: a stored embedding does
	// not have the dimensionality of the current embedding model.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
