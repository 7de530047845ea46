package driven

import (
	"context"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
)

// VectorIndex stores (digest, vector) pairs and answers nearest-neighbour
// queries by cosine similarity.
//
// Implementations must support concurrent read queries while writes are
// in progress: a reader never observes a half-written vector. Inserting
// the same digest twice is idempotent; an identical vector is skipped,
// otherwise last write wins.
type VectorIndex interface {
	// Insert adds a vector for the given content digest. Rejects
	// dimension mismatches (domain.ErrDimensionMismatch) and NaN/Inf
	// components (domain.ErrInvalidVector) as data errors.
	Insert(ctx context.Context, digest domain.Digest, vector []float32) error

	// Delete removes a vector from the index.
	Delete(ctx context.Context, digest domain.Digest) error

	// Search returns the k nearest neighbours ranked by descending
	// cosine similarity, ties broken by insertion order (oldest first).
	Search(ctx context.Context, query []float32, k int) ([]domain.VectorHit, error)

	// Has reports whether a vector is published for the digest. The
	// embedding gate consults it so content whose digest is unchanged
	// (a block moved between documents) is not re-embedded.
	Has(digest domain.Digest) bool

	// Len returns the number of stored vectors.
	Len() int

	// Close releases resources.
	Close() error
}
