package memory

import (
	"context"
	"sync"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
)

// Ensure EmbeddingStore implements the interface.
var _ driven.EmbeddingStore = (*EmbeddingStore)(nil)

// EmbeddingStore is an in-memory implementation of driven.EmbeddingStore.
// Insertion order is preserved for deterministic warm loads.
type EmbeddingStore struct {
	mu      sync.RWMutex
	byKey   map[domain.Digest]int
	records []domain.EmbeddingRecord

	// FailWrites forces errors, for breaker tests.
	FailWrites bool
}

// NewEmbeddingStore creates a new in-memory embedding store.
func NewEmbeddingStore() *EmbeddingStore {
	return &EmbeddingStore{
		byKey: make(map[domain.Digest]int),
	}
}

// SaveEmbeddings upserts embedding records.
func (s *EmbeddingStore) SaveEmbeddings(_ context.Context, records []domain.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return domain.ErrStoreUnavailable
	}

	for _, rec := range records {
		if pos, ok := s.byKey[rec.Digest]; ok {
			s.records[pos] = rec
			continue
		}
		s.byKey[rec.Digest] = len(s.records)
		s.records = append(s.records, rec)
	}
	return nil
}

// LoadEmbeddings returns all records in insertion order.
func (s *EmbeddingStore) LoadEmbeddings(_ context.Context) ([]domain.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.EmbeddingRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

// DeleteEmbedding removes the record for a digest.
func (s *EmbeddingStore) DeleteEmbedding(_ context.Context, digest domain.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.byKey[digest]
	if !ok {
		return nil
	}
	delete(s.byKey, digest)
	s.records = append(s.records[:pos], s.records[pos+1:]...)
	for d, p := range s.byKey {
		if p > pos {
			s.byKey[d] = p - 1
		}
	}
	return nil
}
