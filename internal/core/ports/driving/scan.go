package driving

import (
	"context"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
)

// ScanStats summarises one scan run.
type ScanStats struct {
	// FilesScanned is the number of change events processed.
	FilesScanned int

	// BlocksDirty is the number of blocks forwarded to consumers.
	BlocksDirty int

	// BlocksClean is the number of blocks skipped as unchanged.
	BlocksClean int

	// ParseErrors counts documents that produced zero blocks.
	ParseErrors int

	// CacheHitRate is the session cache hit rate for hash lookups,
	// in [0, 1]. Target is above 0.8 for incremental scans.
	CacheHitRate float64
}

// PipelineRunner drives the incremental indexing pipeline.
type PipelineRunner interface {
	// Submit enqueues one change event. Blocks while the ingress queue
	// is full (the producer-side rate limiter); returns
	// domain.ErrShutdown after Shutdown.
	Submit(ctx context.Context, event domain.FileEvent) error

	// Completions returns the write-completion event stream.
	Completions() <-chan domain.CompletionEvent

	// Shutdown drains the ingress queue without accepting new events,
	// lets in-flight workers finish their current block, and gives each
	// consumer a bounded grace period to flush.
	Shutdown(ctx context.Context) error
}

// Scanner runs one-shot scans over the vault.
type Scanner interface {
	// ScanAll walks the vault and processes every document once.
	ScanAll(ctx context.Context) (*ScanStats, error)

	// ScanPaths processes the given documents.
	ScanPaths(ctx context.Context, paths []string) (*ScanStats, error)
}
