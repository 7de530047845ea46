package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
)

// lineParser splits content into one block per non-empty line.
type lineParser struct {
	failFor map[string]bool
}

var _ driven.Parser = (*lineParser)(nil)

func (p *lineParser) Parse(_ context.Context, content []byte) ([]domain.RawBlock, error) {
	if p.failFor != nil && p.failFor[string(content)] {
		return nil, domain.ErrParse
	}
	var blocks []domain.RawBlock
	offset := 0
	for _, line := range strings.Split(string(content), "\n") {
		if line != "" {
			blocks = append(blocks, domain.RawBlock{
				ByteStart: offset,
				ByteEnd:   offset + len(line),
				Text:      line,
			})
		}
		offset += len(line) + 1
	}
	return blocks, nil
}

// mockConsumer records accepted blocks and can be set to always fail.
type mockConsumer struct {
	name string

	mu       sync.Mutex
	accepted []domain.DirtyBlock
	flushes  int
	fail     bool
}

var _ driven.Consumer = (*mockConsumer)(nil)

func (c *mockConsumer) Name() string { return c.name }

func (c *mockConsumer) Accept(_ context.Context, block domain.DirtyBlock) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fail {
		return errors.New("sink down")
	}
	c.accepted = append(c.accepted, block)
	return nil
}

func (c *mockConsumer) Flush(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	return nil
}

func (c *mockConsumer) acceptedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.accepted)
}

// mockEmbedder counts calls and returns a fixed-dimension vector derived
// from the text length.
type mockEmbedder struct {
	mu         sync.Mutex
	calls      int
	textsSeen  []string
	failsLeft  int
	dimensions int
}

var _ driven.EmbeddingService = (*mockEmbedder)(nil)

func newMockEmbedder(dims int) *mockEmbedder {
	return &mockEmbedder{dimensions: dims}
}

func (e *mockEmbedder) vectorFor(text string) []float32 {
	v := make([]float32, e.dimensions)
	for i := range v {
		v[i] = float32(len(text)+i) / float32(e.dimensions)
	}
	return v
}

func (e *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	if e.failsLeft > 0 {
		e.failsLeft--
		return nil, errors.New("embedding backend down")
	}
	e.textsSeen = append(e.textsSeen, text)
	return e.vectorFor(text), nil
}

func (e *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	if e.failsLeft > 0 {
		e.failsLeft--
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		e.textsSeen = append(e.textsSeen, text)
		out[i] = e.vectorFor(text)
	}
	return out, nil
}

func (e *mockEmbedder) Dimensions() int            { return e.dimensions }
func (e *mockEmbedder) ModelName() string          { return "mock-embed" }
func (e *mockEmbedder) Ping(_ context.Context) error { return nil }
func (e *mockEmbedder) Close() error               { return nil }

func (e *mockEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *mockEmbedder) embeddedTexts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.textsSeen...)
}

// mockVectorIndex records inserts in order.
type mockVectorIndex struct {
	mu         sync.Mutex
	dimensions int
	inserted   []domain.Digest
	vectors    map[domain.Digest][]float32
	hits       []domain.VectorHit
}

var _ driven.VectorIndex = (*mockVectorIndex)(nil)

func newMockVectorIndex(dims int) *mockVectorIndex {
	return &mockVectorIndex{dimensions: dims, vectors: make(map[domain.Digest][]float32)}
}

func (m *mockVectorIndex) Insert(_ context.Context, digest domain.Digest, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(vector) != m.dimensions {
		return domain.ErrDimensionMismatch
	}
	if _, ok := m.vectors[digest]; !ok {
		m.inserted = append(m.inserted, digest)
	}
	m.vectors[digest] = vector
	return nil
}

func (m *mockVectorIndex) Delete(_ context.Context, digest domain.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vectors, digest)
	return nil
}

func (m *mockVectorIndex) Search(_ context.Context, _ []float32, k int) ([]domain.VectorHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k > len(m.hits) {
		k = len(m.hits)
	}
	return m.hits[:k], nil
}

func (m *mockVectorIndex) Has(digest domain.Digest) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.vectors[digest]
	return ok
}

func (m *mockVectorIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vectors)
}

func (m *mockVectorIndex) Close() error { return nil }
