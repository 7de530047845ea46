package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreUnavailable indicates the hash store could not be reached.
	// The resolver degrades to treating affected paths as fully dirty.
	ErrStoreUnavailable = errors.New("hash store unavailable")

	// ErrParse indicates a document could not be parsed into blocks.
	// Treated as "zero blocks, log error", never a pipeline abort.
	ErrParse = errors.New("parse failed")

	// ErrEmbeddingUnavailable indicates the embedding service is not
	// configured. Semantic indexing and query are disabled without it.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrDimensionMismatch indicates a vector's dimensionality does not
	// match the index. A data error, not a panic.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidVector indicates a vector contains NaN or Inf components.
	ErrInvalidVector = errors.New("vector contains non-finite components")

	// ErrBreakerOpen indicates a consumer's circuit breaker is open and
	// the write was skipped rather than queued or retried.
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrShutdown indicates the pipeline is shutting down and no new
	// events are accepted.
	ErrShutdown = errors.New("pipeline shut down")
)
