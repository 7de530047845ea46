package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/kiln-cli/internal/adapters/driven/storage/memory"
	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
)

// newTestPipeline builds a pipeline over a temp vault with the given
// consumers. Returns the pipeline and the vault dir for seeding files.
func newTestPipeline(t *testing.T, cfg PipelineConfig, consumers ...driven.Consumer) (*Pipeline, string) {
	t.Helper()
	vault := t.TempDir()
	resolver := NewResolver(vault, &lineParser{}, NewSession(memory.NewHashStore()))
	return NewPipeline(cfg, resolver, consumers), vault
}

func submitAll(t *testing.T, p *Pipeline, paths ...string) {
	t.Helper()
	for _, path := range paths {
		require.NoError(t, p.Submit(context.Background(), modifiedEvent(path)))
	}
}

func TestPipeline_DeliversDirtyBlocksToAllConsumers(t *testing.T) {
	first := &mockConsumer{name: "first"}
	second := &mockConsumer{name: "second"}
	pipeline, vault := newTestPipeline(t, PipelineConfig{Workers: 2}, first, second)

	writeVaultFile(t, vault, "a.md", "one\ntwo\n")
	writeVaultFile(t, vault, "b.md", "three\n")

	pipeline.Start(context.Background())
	submitAll(t, pipeline, "a.md", "b.md")
	require.NoError(t, pipeline.Shutdown(context.Background()))

	assert.Equal(t, 3, first.acceptedCount())
	assert.Equal(t, 3, second.acceptedCount())
	assert.Equal(t, 1, first.flushes)
}

func TestPipeline_SubmitAfterShutdownReturnsErrShutdown(t *testing.T) {
	pipeline, _ := newTestPipeline(t, PipelineConfig{}, &mockConsumer{name: "sink"})

	pipeline.Start(context.Background())
	require.NoError(t, pipeline.Shutdown(context.Background()))

	err := pipeline.Submit(context.Background(), modifiedEvent("a.md"))

	assert.ErrorIs(t, err, domain.ErrShutdown)
}

// Fault isolation: one consumer always fails; the other keeps receiving
// everything and its breaker stays closed.
func TestPipeline_FaultIsolation(t *testing.T) {
	healthy := &mockConsumer{name: "healthy"}
	failing := &mockConsumer{name: "failing", fail: true}
	pipeline, vault := newTestPipeline(t, PipelineConfig{
		Workers: 1,
		Breaker: BreakerSettings{FailureThreshold: 5, Cooldown: time.Hour},
	}, healthy, failing)

	for i := 0; i < 10; i++ {
		writeVaultFile(t, vault, fmt.Sprintf("doc-%02d.md", i), fmt.Sprintf("content %d\n", i))
	}

	pipeline.Start(context.Background())
	for i := 0; i < 10; i++ {
		submitAll(t, pipeline, fmt.Sprintf("doc-%02d.md", i))
	}
	require.NoError(t, pipeline.Shutdown(context.Background()))

	assert.Equal(t, 10, healthy.acceptedCount())

	states := pipeline.BreakerStates()
	assert.Equal(t, BreakerClosed, states["healthy"])
	assert.Equal(t, BreakerOpen, states["failing"])
}

func TestPipeline_BreakerHalfOpensAfterCooldown(t *testing.T) {
	flaky := &mockConsumer{name: "flaky", fail: true}
	pipeline, vault := newTestPipeline(t, PipelineConfig{
		Workers: 1,
		Breaker: BreakerSettings{FailureThreshold: 2, Cooldown: 20 * time.Millisecond, SuccessThreshold: 1},
	}, flaky)

	writeVaultFile(t, vault, "a.md", "one\n")
	writeVaultFile(t, vault, "b.md", "two\n")
	writeVaultFile(t, vault, "c.md", "three\n")

	pipeline.Start(context.Background())
	submitAll(t, pipeline, "a.md", "b.md")

	// Let the two failures land and trip the breaker, then recover.
	require.Eventually(t, func() bool {
		return pipeline.BreakerStates()["flaky"] == BreakerOpen
	}, time.Second, time.Millisecond)

	flaky.mu.Lock()
	flaky.fail = false
	flaky.mu.Unlock()
	time.Sleep(25 * time.Millisecond)

	submitAll(t, pipeline, "c.md")
	require.NoError(t, pipeline.Shutdown(context.Background()))

	assert.Equal(t, BreakerClosed, pipeline.BreakerStates()["flaky"])
	assert.Equal(t, 1, flaky.acceptedCount())
}

// Lagging-receiver semantics: a tiny inbox drops the slow consumer's own
// oldest entries while the fast consumer sees everything.
func TestPipeline_LaggingConsumerDropsOwnOldest(t *testing.T) {
	slow := &blockingConsumer{name: "slow", release: make(chan struct{})}
	fast := &mockConsumer{name: "fast"}
	pipeline, vault := newTestPipeline(t, PipelineConfig{
		Workers:          1,
		ConsumerCapacity: 1,
	}, slow, fast)

	for i := 0; i < 6; i++ {
		writeVaultFile(t, vault, fmt.Sprintf("doc-%d.md", i), fmt.Sprintf("content %d\n", i))
	}

	pipeline.Start(context.Background())
	for i := 0; i < 6; i++ {
		submitAll(t, pipeline, fmt.Sprintf("doc-%d.md", i))
	}

	// Fast consumer drains everything even while slow is stuck.
	require.Eventually(t, func() bool { return fast.acceptedCount() == 6 }, time.Second, time.Millisecond)

	close(slow.release)
	require.NoError(t, pipeline.Shutdown(context.Background()))

	assert.Greater(t, pipeline.DroppedCounts()["slow"], int64(0))
	assert.Equal(t, int64(0), pipeline.DroppedCounts()["fast"])
	assert.Less(t, slow.acceptedCount(), 6)
}

func TestPipeline_PublishesCompletionEvents(t *testing.T) {
	pipeline, vault := newTestPipeline(t, PipelineConfig{Workers: 1}, &mockConsumer{name: "sink"})
	writeVaultFile(t, vault, "a.md", "one\ntwo\nthree\n")

	pipeline.Start(context.Background())
	submitAll(t, pipeline, "a.md")
	require.NoError(t, pipeline.Shutdown(context.Background()))

	var events []domain.CompletionEvent
	for ev := range pipeline.Completions() {
		events = append(events, ev)
	}

	require.Len(t, events, 1)
	assert.Equal(t, "a.md", events[0].Path)
	assert.Equal(t, 3, events[0].BlocksReindexed)
	assert.False(t, events[0].Deleted)
}

func TestPipeline_ShutdownIsIdempotent(t *testing.T) {
	pipeline, _ := newTestPipeline(t, PipelineConfig{}, &mockConsumer{name: "sink"})

	pipeline.Start(context.Background())
	require.NoError(t, pipeline.Shutdown(context.Background()))
	require.NoError(t, pipeline.Shutdown(context.Background()))
}

// blockingConsumer stalls on the first Accept until released.
type blockingConsumer struct {
	name    string
	release chan struct{}

	mu       sync.Mutex
	accepted int
}

var _ driven.Consumer = (*blockingConsumer)(nil)

func (c *blockingConsumer) Name() string { return c.name }

func (c *blockingConsumer) Accept(_ context.Context, _ domain.DirtyBlock) error {
	<-c.release
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted++
	return nil
}

func (c *blockingConsumer) Flush(_ context.Context) error { return nil }

func (c *blockingConsumer) acceptedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}
