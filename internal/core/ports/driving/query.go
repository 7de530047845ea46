package driving

import (
	"context"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
)

// QueryService is the read API exposed to presentation layers.
type QueryService interface {
	// SimilaritySearch embeds the query text and returns the k nearest
	// indexed blocks by cosine similarity.
	SimilaritySearch(ctx context.Context, text string, k int) ([]domain.VectorHit, error)

	// HashRecords returns the persisted records for a document path,
	// ordered by block index.
	HashRecords(ctx context.Context, path string) ([]domain.HashRecord, error)
}
