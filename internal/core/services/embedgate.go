package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
	"github.com/kilnworks/kiln-cli/internal/logger"
)

// Ensure EmbedGate implements the interface.
var _ driven.Consumer = (*EmbedGate)(nil)

// Embedding gate defaults.
const (
	DefaultEmbedBatchSize = 32
	DefaultEmbedWindow    = 200 * time.Millisecond
	embedRetries          = 3
	embedBackoffBase      = 250 * time.Millisecond
)

// EmbedGateConfig tunes the embedding gate.
type EmbedGateConfig struct {
	// BatchSize flushes a batch once this many unique digests buffer.
	// Default 32.
	BatchSize int

	// Window flushes a partial batch once its oldest entry is this old.
	// Default 200ms.
	Window time.Duration

	// RequestsPerSecond rate-limits embedding calls. Zero disables.
	RequestsPerSecond float64
}

// EmbedGate is the consumer that turns dirty blocks into vectors. It
// dedups by content digest so identical blocks in one batch cost a
// single embedding call, batches up to a size/time window, and retries
// transient embedding failures with backoff before surfacing the error
// to its circuit breaker.
//
// A timer armed when the first entry buffers flushes partial batches
// once the window elapses, so a lone edited document is embedded
// promptly even when no further blocks arrive.
type EmbedGate struct {
	service driven.EmbeddingService
	index   driven.VectorIndex
	store   driven.EmbeddingStore
	limiter *rate.Limiter

	batchSize int
	window    time.Duration
	backoff   time.Duration

	mu       sync.Mutex
	pending  []pendingEmbed
	inFlight map[domain.Digest]struct{}
	timer    *time.Timer
}

type pendingEmbed struct {
	digest domain.Digest
	text   string
}

// NewEmbedGate creates an embedding gate. store may be nil when
// embeddings are not persisted.
func NewEmbedGate(service driven.EmbeddingService, index driven.VectorIndex, store driven.EmbeddingStore, cfg EmbedGateConfig) *EmbedGate {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEmbedBatchSize
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultEmbedWindow
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &EmbedGate{
		service:   service,
		index:     index,
		store:     store,
		limiter:   limiter,
		batchSize: cfg.BatchSize,
		window:    cfg.Window,
		backoff:   embedBackoffBase,
		inFlight:  make(map[domain.Digest]struct{}),
	}
}

// Name identifies the consumer in logs and breaker state.
func (g *EmbedGate) Name() string { return "embed-gate" }

// Accept buffers a dirty block for embedding, deduplicating by content
// digest. A digest already published in the vector index is skipped
// outright: content that merely moved to another document keeps its
// existing vector. Tombstones are ignored: embeddings are keyed by
// digest and may be shared by other documents.
func (g *EmbedGate) Accept(ctx context.Context, block domain.DirtyBlock) error {
	if block.Kind == domain.DirtyTombstone {
		return nil
	}

	g.mu.Lock()
	digest := block.Block.ContentDigest
	if _, queued := g.inFlight[digest]; !queued && !g.index.Has(digest) {
		g.inFlight[digest] = struct{}{}
		if len(g.pending) == 0 {
			g.armTimer()
		}
		g.pending = append(g.pending, pendingEmbed{digest: digest, text: block.Block.Text})
	}
	full := len(g.pending) >= g.batchSize
	g.mu.Unlock()

	if full {
		return g.Flush(ctx)
	}
	return nil
}

// armTimer schedules a window flush for the entry about to buffer.
// Called with g.mu held when pending transitions from empty.
func (g *EmbedGate) armTimer() {
	if g.timer != nil {
		g.timer.Reset(g.window)
		return
	}
	g.timer = time.AfterFunc(g.window, func() {
		if err := g.Flush(context.Background()); err != nil {
			logger.Error("Window flush of embedding batch failed: %v", err)
		}
	})
}

// Flush embeds the buffered batch and publishes the vectors.
func (g *EmbedGate) Flush(ctx context.Context) error {
	g.mu.Lock()
	batch := g.pending
	g.pending = nil
	g.inFlight = make(map[domain.Digest]struct{})
	if g.timer != nil {
		g.timer.Stop()
	}
	g.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.text
	}

	vectors, err := g.embedWithRetry(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch of %d: %w", len(batch), err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embedding service returned %d vectors for %d texts", len(vectors), len(batch))
	}

	now := time.Now()
	records := make([]domain.EmbeddingRecord, 0, len(batch))
	for i, p := range batch {
		if err := g.index.Insert(ctx, p.digest, vectors[i]); err != nil {
			// Dimension mismatches and non-finite components are data
			// errors: skip the vector, keep the batch going.
			logger.Error("Rejected vector for digest %s: %v", p.digest.Short(), err)
			continue
		}
		records = append(records, domain.EmbeddingRecord{
			Digest:      p.digest,
			Vector:      vectors[i],
			GeneratedAt: now,
		})
	}

	if g.store != nil && len(records) > 0 {
		if err := g.store.SaveEmbeddings(ctx, records); err != nil {
			return fmt.Errorf("persist %d embeddings: %w", len(records), err)
		}
	}
	logger.Debug("Embedded batch of %d (%d unique vectors published)", len(batch), len(records))
	return nil
}

// embedWithRetry calls the embedding service up to embedRetries times
// with exponential backoff.
func (g *EmbedGate) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	delay := g.backoff
	for attempt := 1; attempt <= embedRetries; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		vectors, err := g.service.EmbedBatch(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		logger.Warn("Embedding attempt %d/%d failed: %v", attempt, embedRetries, err)
		if attempt == embedRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}
