package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driving"
)

// Ensure Query implements the interface.
var _ driving.QueryService = (*Query)(nil)

// Query is the read API over the index: semantic search against the
// vector index and raw hash record lookups.
type Query struct {
	embedder  driven.EmbeddingService
	index     driven.VectorIndex
	hashStore driven.HashStore
}

// NewQuery creates a query service. embedder and index may be nil when
// semantic search is not configured; SimilaritySearch then returns
// domain.ErrEmbeddingUnavailable.
func NewQuery(embedder driven.EmbeddingService, index driven.VectorIndex, hashStore driven.HashStore) *Query {
	return &Query{embedder: embedder, index: index, hashStore: hashStore}
}

// SimilaritySearch embeds the query text and returns the k nearest
// indexed blocks by cosine similarity.
func (q *Query) SimilaritySearch(ctx context.Context, text string, k int) ([]domain.VectorHit, error) {
	if q.embedder == nil || q.index == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", domain.ErrInvalidInput)
	}

	vector, err := q.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := q.index.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return hits, nil
}

// HashRecords returns the persisted records for a document path, ordered
// by block index.
func (q *Query) HashRecords(ctx context.Context, path string) ([]domain.HashRecord, error) {
	records, err := q.hashStore.LookupOne(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", path, err)
	}
	return records, nil
}
