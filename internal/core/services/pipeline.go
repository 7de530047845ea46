package services

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driving"
	"github.com/kilnworks/kiln-cli/internal/logger"
)

// Ensure Pipeline implements the interface.
var _ driving.PipelineRunner = (*Pipeline)(nil)

// Pipeline defaults.
const (
	DefaultIngressCapacity  = 256
	DefaultFanoutCapacity   = 1024
	DefaultConsumerCapacity = 1024
	DefaultFlushGrace       = 5 * time.Second
	completionsCapacity     = 256
)

// PipelineConfig tunes the pipeline orchestrator.
type PipelineConfig struct {
	// Workers is the parse+hash worker pool size. Zero means
	// runtime.NumCPU().
	Workers int

	// IngressCapacity bounds the event queue. A full queue blocks
	// Submit; events are never dropped, since dropping a change event
	// would silently leave the index stale.
	IngressCapacity int

	// FanoutCapacity bounds the dirty block channel between workers and
	// the consumer dispatcher.
	FanoutCapacity int

	// ConsumerCapacity bounds each consumer's inbox. A full inbox drops
	// that consumer's oldest entries only.
	ConsumerCapacity int

	// FlushGrace bounds how long each consumer gets to flush during
	// shutdown.
	FlushGrace time.Duration

	// Breaker configures the per-consumer circuit breakers.
	Breaker BreakerSettings
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.IngressCapacity <= 0 {
		c.IngressCapacity = DefaultIngressCapacity
	}
	if c.FanoutCapacity <= 0 {
		c.FanoutCapacity = DefaultFanoutCapacity
	}
	if c.ConsumerCapacity <= 0 {
		c.ConsumerCapacity = DefaultConsumerCapacity
	}
	if c.FlushGrace <= 0 {
		c.FlushGrace = DefaultFlushGrace
	}
	return c
}

// consumerSlot pairs a consumer with its breaker and bounded inbox.
type consumerSlot struct {
	consumer driven.Consumer
	breaker  *CircuitBreaker
	inbox    chan domain.DirtyBlock
	dropped  atomic.Int64
}

// Pipeline runs the incremental indexing pipeline: a bounded ingress
// queue feeds a fixed worker pool that resolves dirty sets and fans them
// out to independently-breakered consumers. All cross-stage coupling is
// channels; a slow consumer lags and drops its own oldest entries, never
// another consumer's.
type Pipeline struct {
	cfg      PipelineConfig
	resolver *Resolver
	slots    []*consumerSlot

	ingress     chan domain.FileEvent
	fanout      chan domain.DirtyBlock
	completions chan domain.CompletionEvent

	// submitMu guards the ingress channel against close-during-send.
	submitMu sync.RWMutex
	shutdown chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool

	workers    *errgroup.Group
	dispatchWG sync.WaitGroup
	slotWG     sync.WaitGroup
}

// NewPipeline creates a pipeline over the given resolver and consumers.
func NewPipeline(cfg PipelineConfig, resolver *Resolver, consumers []driven.Consumer) *Pipeline {
	cfg = cfg.withDefaults()
	slots := make([]*consumerSlot, len(consumers))
	for i, c := range consumers {
		slots[i] = &consumerSlot{
			consumer: c,
			breaker:  NewCircuitBreaker(cfg.Breaker),
			inbox:    make(chan domain.DirtyBlock, cfg.ConsumerCapacity),
		}
	}
	return &Pipeline{
		cfg:         cfg,
		resolver:    resolver,
		slots:       slots,
		ingress:     make(chan domain.FileEvent, cfg.IngressCapacity),
		fanout:      make(chan domain.DirtyBlock, cfg.FanoutCapacity),
		completions: make(chan domain.CompletionEvent, completionsCapacity),
		shutdown:    make(chan struct{}),
	}
}

// Start launches the worker pool, dispatcher, and consumer loops.
// Idempotent: subsequent calls are no-ops.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.workers, _ = errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.workers.Go(func() error {
			p.runWorker(ctx)
			return nil
		})
	}

	p.dispatchWG.Add(1)
	go func() {
		defer p.dispatchWG.Done()
		p.runDispatcher()
	}()

	for _, slot := range p.slots {
		p.slotWG.Add(1)
		go func(s *consumerSlot) {
			defer p.slotWG.Done()
			p.runSlot(ctx, s)
		}(slot)
	}

	logger.Info("Pipeline started: %d workers, %d consumers", p.cfg.Workers, len(p.slots))
}

// Submit enqueues one change event. Blocks while the ingress queue is
// full; returns domain.ErrShutdown after Shutdown has begun.
func (p *Pipeline) Submit(ctx context.Context, event domain.FileEvent) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	select {
	case <-p.shutdown:
		return domain.ErrShutdown
	default:
	}

	select {
	case p.ingress <- event:
		return nil
	case <-p.shutdown:
		return domain.ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Completions returns the write-completion event stream. Events are
// advisory: when nothing drains the channel, the oldest are dropped.
// The channel closes once shutdown completes.
func (p *Pipeline) Completions() <-chan domain.CompletionEvent {
	return p.completions
}

// Shutdown drains the ingress queue without accepting new events, lets
// workers finish in-flight blocks, and gives every consumer a bounded
// grace period to flush. Safe to call once; the pipeline cannot be
// restarted.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped || !p.started {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.shutdown)

	// No Submit can be mid-send once the write lock is held.
	p.submitMu.Lock()
	close(p.ingress)
	p.submitMu.Unlock()

	_ = p.workers.Wait()
	close(p.fanout)
	p.dispatchWG.Wait()

	for _, slot := range p.slots {
		close(slot.inbox)
	}
	p.slotWG.Wait()

	var firstErr error
	for _, slot := range p.slots {
		if !slot.breaker.Allow() {
			logger.Warn("Skipping flush for %s: circuit breaker open", slot.consumer.Name())
			continue
		}
		flushCtx, cancel := context.WithTimeout(ctx, p.cfg.FlushGrace)
		err := slot.consumer.Flush(flushCtx)
		cancel()
		if err != nil {
			slot.breaker.RecordFailure()
			logger.Error("Flush failed for %s: %v", slot.consumer.Name(), err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		slot.breaker.RecordSuccess()
	}

	close(p.completions)
	logger.Info("Pipeline shut down")
	return firstErr
}

// BreakerStates returns each consumer's breaker state, keyed by name.
func (p *Pipeline) BreakerStates() map[string]BreakerState {
	states := make(map[string]BreakerState, len(p.slots))
	for _, slot := range p.slots {
		states[slot.consumer.Name()] = slot.breaker.State()
	}
	return states
}

// DroppedCounts returns per-consumer counts of inbox entries dropped to
// lagging.
func (p *Pipeline) DroppedCounts() map[string]int64 {
	counts := make(map[string]int64, len(p.slots))
	for _, slot := range p.slots {
		counts[slot.consumer.Name()] = slot.dropped.Load()
	}
	return counts
}

// runWorker pulls events off the ingress queue until it closes. A
// resolve failure or panic is confined to the current event.
func (p *Pipeline) runWorker(ctx context.Context) {
	for event := range p.ingress {
		p.processEvent(ctx, event)
	}
}

func (p *Pipeline) processEvent(ctx context.Context, event domain.FileEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Worker panic on %s, event skipped: %v", event.Path, r)
		}
	}()

	start := time.Now()
	dirty, err := p.resolver.Resolve(ctx, event)
	if err != nil {
		logger.Error("Resolve failed for %s: %v", event.Path, err)
		return
	}
	if len(dirty) == 0 {
		return
	}

	reindexed := 0
	deleted := false
	for _, block := range dirty {
		if block.Kind == domain.DirtyTombstone {
			deleted = true
		} else {
			reindexed++
		}
		select {
		case p.fanout <- block:
		case <-ctx.Done():
			return
		}
	}

	p.publishCompletion(domain.CompletionEvent{
		Path:            event.Path,
		BlocksReindexed: reindexed,
		Deleted:         deleted,
		Duration:        time.Since(start),
	})
}

func (p *Pipeline) publishCompletion(event domain.CompletionEvent) {
	for {
		select {
		case p.completions <- event:
			return
		default:
		}
		// Nobody is draining; shed the oldest event.
		select {
		case <-p.completions:
		default:
		}
	}
}

// runDispatcher copies fan-out entries into every consumer inbox.
func (p *Pipeline) runDispatcher() {
	for block := range p.fanout {
		for _, slot := range p.slots {
			p.offer(slot, block)
		}
	}
}

// offer delivers a block to one slot, dropping that slot's oldest
// entries while its inbox is full (lagging-receiver semantics).
func (p *Pipeline) offer(slot *consumerSlot, block domain.DirtyBlock) {
	for {
		select {
		case slot.inbox <- block:
			return
		default:
		}
		select {
		case old := <-slot.inbox:
			n := slot.dropped.Add(1)
			logger.Warn("Consumer %s lagging, dropped %s[%d] (%d dropped total)",
				slot.consumer.Name(), old.Block.Path, old.Block.Index, n)
		default:
		}
	}
}

// runSlot feeds one consumer from its inbox, guarded by its breaker.
func (p *Pipeline) runSlot(ctx context.Context, slot *consumerSlot) {
	name := slot.consumer.Name()
	for block := range slot.inbox {
		if !slot.breaker.Allow() {
			logger.Warn("Circuit breaker open for %s, skipped %s[%d]",
				name, block.Block.Path, block.Block.Index)
			continue
		}
		if err := slot.consumer.Accept(ctx, block); err != nil {
			slot.breaker.RecordFailure()
			logger.Error("Consumer %s rejected %s[%d]: %v", name, block.Block.Path, block.Block.Index, err)
			continue
		}
		slot.breaker.RecordSuccess()
	}
}
