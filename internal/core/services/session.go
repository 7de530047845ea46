package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
	"github.com/kilnworks/kiln-cli/internal/logger"
)

// maxLookupBatch caps how many paths a single batch lookup carries.
const maxLookupBatch = 100

// Session is a scan-scoped cache over the hash store. Repeated lookups
// for the same path within one session are served from memory; the cache
// is never shared across sessions and dies with the session.
//
// Negative results are cached too, so a never-indexed path costs one
// round trip, not one per block.
//
// Safe for concurrent use by the worker pool.
type Session struct {
	id    string
	store driven.HashStore

	mu     sync.Mutex
	cache  map[string][]domain.HashRecord
	hits   int64
	misses int64
}

// NewSession starts a cache session over the given store.
func NewSession(store driven.HashStore) *Session {
	return &Session{
		id:    uuid.NewString(),
		store: store,
		cache: make(map[string][]domain.HashRecord),
	}
}

// ID returns the session identifier, for log correlation.
func (s *Session) ID() string {
	return s.id
}

// Records returns the prior hash records for a path, ordered by block
// index. A never-indexed path yields an empty slice with no error.
// Store failures wrap domain.ErrStoreUnavailable so callers can degrade
// instead of aborting.
func (s *Session) Records(ctx context.Context, path string) ([]domain.HashRecord, error) {
	s.mu.Lock()
	if records, ok := s.cache[path]; ok {
		s.hits++
		s.mu.Unlock()
		return records, nil
	}
	s.misses++
	s.mu.Unlock()

	records, err := s.store.LookupOne(ctx, path)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		records = nil
	case err != nil:
		return nil, fmt.Errorf("%w: lookup %s: %w", domain.ErrStoreUnavailable, path, err)
	}

	s.mu.Lock()
	s.cache[path] = records
	s.mu.Unlock()
	return records, nil
}

// Prefetch warms the cache for a set of paths with batched lookups of at
// most maxLookupBatch paths each. A prefetch failure is logged and
// ignored; subsequent Records calls fall back to single lookups.
func (s *Session) Prefetch(ctx context.Context, paths []string) {
	uncached := make([]string, 0, len(paths))
	s.mu.Lock()
	for _, p := range paths {
		if _, ok := s.cache[p]; !ok {
			uncached = append(uncached, p)
		}
	}
	s.mu.Unlock()

	for len(uncached) > 0 {
		batch := uncached
		if len(batch) > maxLookupBatch {
			batch = batch[:maxLookupBatch]
		}
		uncached = uncached[len(batch):]

		result, err := s.store.LookupBatch(ctx, batch)
		if err != nil {
			logger.Warn("Session %s: prefetch of %d paths failed: %v", s.id, len(batch), err)
			continue
		}

		s.mu.Lock()
		for path, records := range result.Found {
			s.cache[path] = records
		}
		for _, path := range result.Missing {
			s.cache[path] = nil
		}
		s.mu.Unlock()
	}
}

// KnownPaths lists every document path the store has records for.
func (s *Session) KnownPaths(ctx context.Context) ([]string, error) {
	return s.store.AllPaths(ctx)
}

// Invalidate drops the cached records for a path. Called after the hash
// writer rewrites a document so a later lookup in the same session sees
// fresh records.
func (s *Session) Invalidate(path string) {
	s.mu.Lock()
	delete(s.cache, path)
	s.mu.Unlock()
}

// HitRate returns the fraction of lookups served from cache, in [0, 1].
// Zero lookups yields zero.
func (s *Session) HitRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.hits + s.misses
	if total == 0 {
		return 0
	}
	return float64(s.hits) / float64(total)
}
