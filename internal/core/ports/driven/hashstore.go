package driven

import (
	"context"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
)

// DefaultLookupBatchSize bounds the number of paths in one batched lookup
// so a single query plan stays cheap.
const DefaultLookupBatchSize = 100

// BatchResult is the outcome of a batched hash record lookup.
type BatchResult struct {
	// Found maps each path with prior records to its records, ordered by
	// block index.
	Found map[string][]domain.HashRecord

	// Missing lists paths with no prior records.
	Missing []string
}

// HashStore persists "last indexed" digest records keyed by
// (document path, block index). Backed by SQLite.
//
// Records are written only after downstream processing of the
// corresponding blocks has succeeded (write-after-success), so a crash
// between hashing and writing re-detects the same blocks as dirty on the
// next scan.
type HashStore interface {
	// LookupOne returns the records for a single path, ordered by block
	// index, or domain.ErrNotFound if the path has never been indexed.
	LookupOne(ctx context.Context, path string) ([]domain.HashRecord, error)

	// LookupBatch resolves up to DefaultLookupBatchSize paths in a single
	// round trip. Larger inputs are split by the implementation.
	LookupBatch(ctx context.Context, paths []string) (*BatchResult, error)

	// WriteBatch upserts records keyed by (path, block index). Only
	// dirty blocks are rewritten; records for unchanged blocks are left
	// untouched.
	WriteBatch(ctx context.Context, records []domain.HashRecord) error

	// TrimPath removes records with block index >= blockCount, for
	// documents that shrank.
	TrimPath(ctx context.Context, path string, blockCount uint32) error

	// DeletePath removes all records for a document. Used for tombstones.
	DeletePath(ctx context.Context, path string) error

	// AllPaths lists every document path with records, ordered
	// ascending. Full scans diff it against the vault walk to tombstone
	// documents deleted while no watcher was running.
	AllPaths(ctx context.Context) ([]string, error)
}

// EmbeddingStore persists embedding records keyed by content digest.
type EmbeddingStore interface {
	// SaveEmbeddings upserts embedding records.
	SaveEmbeddings(ctx context.Context, records []domain.EmbeddingRecord) error

	// LoadEmbeddings streams all records in insertion order, for warming
	// the in-memory vector index at startup.
	LoadEmbeddings(ctx context.Context) ([]domain.EmbeddingRecord, error)

	// DeleteEmbedding removes the record for a digest.
	DeleteEmbedding(ctx context.Context, digest domain.Digest) error
}
