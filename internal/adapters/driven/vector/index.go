// Package vector provides the in-memory vector index query engine.
//
// Vectors are fully constructed and validated before being published
// under the write lock (insert-then-publish), so concurrent readers never
// observe a half-written vector. Ranking is cosine similarity with ties
// broken by insertion order, oldest first, for deterministic results.
package vector

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

// entry is one published vector. norm is precomputed at insert.
type entry struct {
	digest domain.Digest
	vector []float32
	norm   float64
	seq    uint64
}

// Index is an in-memory vector index over (digest, vector) pairs.
type Index struct {
	mu         sync.RWMutex
	dimensions int
	entries    []entry
	byDigest   map[domain.Digest]int
	nextSeq    uint64
}

// NewIndex creates an index for vectors of the given dimensionality.
// If dimensions is zero, the first inserted vector fixes it.
func NewIndex(dimensions int) *Index {
	return &Index{
		dimensions: dimensions,
		byDigest:   make(map[domain.Digest]int),
	}
}

// Dimensions returns the index dimensionality (0 until the first insert
// when constructed without one).
func (ix *Index) Dimensions() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dimensions
}

// Insert adds a vector for the given content digest.
//
// Inserting an existing digest with a structurally equal vector is a
// no-op; otherwise last write wins. Dimension mismatches and non-finite
// components are data errors, never panics.
func (ix *Index) Insert(_ context.Context, digest domain.Digest, vec []float32) error {
	if len(vec) == 0 {
		return domain.ErrInvalidInput
	}
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return domain.ErrInvalidVector
		}
	}

	// Construct the published form before taking the write lock.
	owned := make([]float32, len(vec))
	copy(owned, vec)
	norm := vectorNorm(owned)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dimensions == 0 {
		ix.dimensions = len(owned)
	} else if len(owned) != ix.dimensions {
		return domain.ErrDimensionMismatch
	}

	if pos, ok := ix.byDigest[digest]; ok {
		if equalVectors(ix.entries[pos].vector, owned) {
			return nil // redundant write, skip
		}
		ix.entries[pos].vector = owned
		ix.entries[pos].norm = norm
		return nil
	}

	ix.byDigest[digest] = len(ix.entries)
	ix.entries = append(ix.entries, entry{
		digest: digest,
		vector: owned,
		norm:   norm,
		seq:    ix.nextSeq,
	})
	ix.nextSeq++
	return nil
}

// Delete removes a vector from the index.
func (ix *Index) Delete(_ context.Context, digest domain.Digest) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	pos, ok := ix.byDigest[digest]
	if !ok {
		return nil
	}
	delete(ix.byDigest, digest)
	ix.entries = append(ix.entries[:pos], ix.entries[pos+1:]...)
	for i := pos; i < len(ix.entries); i++ {
		ix.byDigest[ix.entries[i].digest] = i
	}
	return nil
}

// Search returns the k nearest neighbours by cosine similarity.
func (ix *Index) Search(_ context.Context, query []float32, k int) ([]domain.VectorHit, error) {
	if k <= 0 {
		return nil, nil
	}
	for _, v := range query {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, domain.ErrInvalidVector
		}
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.dimensions != 0 && len(query) != ix.dimensions {
		return nil, domain.ErrDimensionMismatch
	}

	queryNorm := vectorNorm(query)

	type scored struct {
		hit domain.VectorHit
		seq uint64
	}
	results := make([]scored, 0, len(ix.entries))
	for _, e := range ix.entries {
		results = append(results, scored{
			hit: domain.VectorHit{
				Digest: e.digest,
				Score:  cosine(query, queryNorm, e.vector, e.norm),
			},
			seq: e.seq,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].hit.Score != results[j].hit.Score {
			return results[i].hit.Score > results[j].hit.Score
		}
		return results[i].seq < results[j].seq
	})

	if k > len(results) {
		k = len(results)
	}
	hits := make([]domain.VectorHit, k)
	for i := 0; i < k; i++ {
		hits[i] = results[i].hit
	}
	return hits, nil
}

// Has reports whether a vector is published for the digest.
func (ix *Index) Has(digest domain.Digest) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.byDigest[digest]
	return ok
}

// Len returns the number of stored vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Close releases resources. The in-memory index has none.
func (ix *Index) Close() error {
	return nil
}

// Warm loads persisted embedding records in order.
func (ix *Index) Warm(ctx context.Context, records []domain.EmbeddingRecord) error {
	for _, rec := range records {
		if err := ix.Insert(ctx, rec.Digest, rec.Vector); err != nil {
			return err
		}
	}
	return nil
}

func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func equalVectors(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
