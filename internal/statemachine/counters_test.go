package statemachine

import (
	"context"
	"testing"
	"time"

	"github.com/averros/signflow/internal/blob"
	"github.com/averros/signflow/internal/lock"
	"github.com/averros/signflow/internal/trackingstore"
	"github.com/averros/signflow/pkg/api"
)

func TestCounterPoolAggregatesAcrossDocuments(t *testing.T) {
	ctx := context.Background()
	store := trackingstore.New(blob.NewMemoryStore(), nil)
	locks := lock.NewMemoryManager(nil)
	now := time.Now().UTC()

	h, err := locks.Acquire(ctx, "seed", 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	_ = store.UpdateSummary(ctx, h, "acme", "d1", "t1", api.StatusInProgress, now)
	_ = store.UpdateSummary(ctx, h, "acme", "d1", "t2", api.StatusCompleted, now)
	_ = store.UpdateSummary(ctx, h, "acme", "d2", "t3", api.StatusCancelled, now)
	_ = locks.Release(ctx, h)

	metrics := &api.BasicMetrics{}
	pool := NewCounterPool(store, locks, nil, metrics, 2)

	pool.Recompute("acme")
	pool.Wait()

	counters, err := store.GetCounters(ctx, "acme")
	if err != nil {
		t.Fatalf("GetCounters failed: %v", err)
	}
	if counters.TotalDocuments != 2 || counters.TotalTrackings != 3 {
		t.Fatalf("unexpected totals: %+v", counters)
	}
	if counters.StatusCounts[api.StatusCompleted] != 1 || counters.StatusCounts[api.StatusInProgress] != 1 {
		t.Fatalf("unexpected status counts: %+v", counters.StatusCounts)
	}
	if metrics.Snapshot().RecomputeFailures != 0 {
		t.Fatalf("recompute should have succeeded")
	}
}

// stallingBlobStore blocks List until released, pinning a recompute
// worker mid-rollup.
type stallingBlobStore struct {
	api.BlobStore
	release chan struct{}
}

func (s *stallingBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	<-s.release
	return s.BlobStore.List(ctx, prefix)
}

func TestCounterPoolSaturatedDropsInsteadOfBlocking(t *testing.T) {
	blobs := &stallingBlobStore{BlobStore: blob.NewMemoryStore(), release: make(chan struct{})}
	store := trackingstore.New(blobs, nil)
	locks := lock.NewMemoryManager(nil)
	metrics := &api.BasicMetrics{}

	pool := NewCounterPool(store, locks, nil, metrics, 1)

	// Pin the only worker inside a rollup.
	pool.Recompute("acme")

	done := make(chan struct{})
	go func() {
		pool.Recompute("bolt")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Recompute blocked while the pool was saturated")
	}

	close(blobs.release)
	pool.Wait()

	if got := metrics.Snapshot().RecomputeFailures; got != 1 {
		t.Fatalf("dropped recomputes reported = %d, want 1", got)
	}
	if _, err := store.GetCounters(context.Background(), "acme"); err != nil {
		t.Fatalf("pinned recompute should still finish: %v", err)
	}
}

func TestCounterPoolSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	store := trackingstore.New(blob.NewMemoryStore(), nil)
	locks := lock.NewMemoryManager(nil)

	// Hold the counters lock so the recompute is skipped.
	h, err := locks.Acquire(ctx, "counters:acme", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer func() { _ = locks.Release(ctx, h) }()

	pool := NewCounterPool(store, locks, nil, nil, 1)
	if err := pool.RecomputeNow(ctx, "acme"); err != nil {
		t.Fatalf("a held lock should skip, not fail: %v", err)
	}
}
