package driven

import (
	"context"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
)

// Consumer is a fan-out sink for dirty blocks. Each consumer subscribes
// independently to the pipeline's fan-out and is wrapped by its own
// circuit breaker, so one failing sink never blocks the others.
type Consumer interface {
	// Name identifies the consumer in logs and breaker state.
	Name() string

	// Accept processes one dirty block. An error counts against the
	// consumer's circuit breaker but does not propagate to the worker
	// pool.
	Accept(ctx context.Context, block domain.DirtyBlock) error

	// Flush completes any buffered work. Called on shutdown with a
	// bounded grace period.
	Flush(ctx context.Context) error
}
