// Package memory provides in-memory store implementations for tests and
// for running without persistence.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
)

// Ensure HashStore implements the interface.
var _ driven.HashStore = (*HashStore)(nil)

// HashStore is an in-memory implementation of driven.HashStore.
type HashStore struct {
	mu      sync.RWMutex
	records map[string]map[uint32]domain.HashRecord

	// FailLookups and FailWrites force errors, for exercising the
	// resolver's degraded mode and the breaker in tests.
	FailLookups bool
	FailWrites  bool

	// Lookups and Writes count store round trips, for cache and
	// batching assertions.
	Lookups int
	Writes  int
}

// NewHashStore creates a new in-memory hash store.
func NewHashStore() *HashStore {
	return &HashStore{
		records: make(map[string]map[uint32]domain.HashRecord),
	}
}

// LookupOne retrieves the records for a single path.
func (s *HashStore) LookupOne(_ context.Context, path string) ([]domain.HashRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Lookups++
	if s.FailLookups {
		return nil, domain.ErrStoreUnavailable
	}

	byIndex, ok := s.records[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return sortedRecords(byIndex), nil
}

// LookupBatch resolves multiple paths in one call.
func (s *HashStore) LookupBatch(_ context.Context, paths []string) (*driven.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Lookups++
	if s.FailLookups {
		return nil, domain.ErrStoreUnavailable
	}

	result := &driven.BatchResult{Found: make(map[string][]domain.HashRecord)}
	for _, path := range paths {
		byIndex, ok := s.records[path]
		if !ok {
			result.Missing = append(result.Missing, path)
			continue
		}
		result.Found[path] = sortedRecords(byIndex)
	}
	return result, nil
}

// WriteBatch upserts records. Records for unchanged blocks are not
// touched.
func (s *HashStore) WriteBatch(_ context.Context, records []domain.HashRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Writes++
	if s.FailWrites {
		return domain.ErrStoreUnavailable
	}

	for _, rec := range records {
		byIndex, ok := s.records[rec.Path]
		if !ok {
			byIndex = make(map[uint32]domain.HashRecord)
			s.records[rec.Path] = byIndex
		}
		byIndex[rec.BlockIndex] = rec
	}
	return nil
}

// TrimPath drops records past the document's current block count.
func (s *HashStore) TrimPath(_ context.Context, path string, blockCount uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return domain.ErrStoreUnavailable
	}
	for idx := range s.records[path] {
		if idx >= blockCount {
			delete(s.records[path], idx)
		}
	}
	return nil
}

// DeletePath removes all records for a document.
func (s *HashStore) DeletePath(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWrites {
		return domain.ErrStoreUnavailable
	}
	delete(s.records, path)
	return nil
}

// AllPaths lists every path with records, ordered ascending.
func (s *HashStore) AllPaths(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.FailLookups {
		return nil, domain.ErrStoreUnavailable
	}
	paths := make([]string, 0, len(s.records))
	for path := range s.records {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// RecordCount reports how many records a path currently holds.
func (s *HashStore) RecordCount(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[path])
}

func sortedRecords(byIndex map[uint32]domain.HashRecord) []domain.HashRecord {
	out := make([]domain.HashRecord, 0, len(byIndex))
	for _, rec := range byIndex {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockIndex < out[j].BlockIndex })
	return out
}
