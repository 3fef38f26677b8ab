package statemachine

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/averros/signflow/internal/trackingstore"
	"github.com/averros/signflow/pkg/api"
)

// CounterPool recomputes tenant-wide status counters on a bounded
// worker pool. Recompute is fire-and-forget from the caller's point of
// view; outcomes are reported to the observer so failures stay visible
// in telemetry without ever failing the triggering action.
type CounterPool struct {
	store   *trackingstore.Store
	locks   api.LockManager
	clock   api.Clock
	obs     api.TrackingObserver
	timeout time.Duration
	group   errgroup.Group
}

// NewCounterPool creates a pool running at most limit recomputations
// concurrently.
func NewCounterPool(store *trackingstore.Store, locks api.LockManager, clock api.Clock, obs api.TrackingObserver, limit int) *CounterPool {
	if clock == nil {
		clock = api.SystemClock{}
	}
	if obs == nil {
		obs = api.NoopObserver{}
	}
	if limit <= 0 {
		limit = 4
	}
	p := &CounterPool{
		store:   store,
		locks:   locks,
		clock:   clock,
		obs:     obs,
		timeout: 30 * time.Second,
	}
	p.group.SetLimit(limit)
	return p
}

// errPoolSaturated reports a recomputation dropped because every
// worker was busy.
var errPoolSaturated = errors.New("counter recompute dropped: pool saturated")

// Recompute schedules a tenant-wide recomputation and returns
// immediately, even when every worker is busy: a saturated pool drops
// the request and reports it to the observer instead of stalling the
// triggering action. Detached from the caller's context: the
// triggering request must not be able to cancel the rollup midway.
func (p *CounterPool) Recompute(tenant string) {
	started := p.group.TryGo(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		err := p.RecomputeNow(ctx, tenant)
		p.obs.OnCounterRecompute(ctx, tenant, err)
		return nil
	})
	if !started {
		p.obs.OnCounterRecompute(context.Background(), tenant, errPoolSaturated)
	}
}

// RecomputeNow aggregates every document summary of the tenant into
// the tenant counters blob. If another recomputation holds the
// counters lock, this one is skipped; the in-flight run covers it.
func (p *CounterPool) RecomputeNow(ctx context.Context, tenant string) error {
	lock, err := p.locks.Acquire(ctx, "counters:"+tenant, 10*time.Second)
	if err != nil {
		if err == api.ErrLockUnavailable {
			return nil
		}
		return err
	}
	defer func() { _ = p.locks.Release(ctx, lock) }()

	summaries, err := p.store.ListDocumentSummaries(ctx, tenant)
	if err != nil {
		return err
	}

	counters := &trackingstore.TenantCounters{
		TotalDocuments: len(summaries),
		StatusCounts:   make(map[api.TrackingStatus]int),
		UpdatedAt:      p.clock.Now(),
	}
	for _, d := range summaries {
		counters.TotalTrackings += d.Summary.TotalTrackings
		for status, n := range d.Summary.StatusCounts {
			counters.StatusCounts[status] += n
		}
	}

	return p.store.PutCounters(ctx, lock, tenant, counters)
}

// Wait blocks until all scheduled recomputations have finished.
// Intended for shutdown and tests.
func (p *CounterPool) Wait() {
	_ = p.group.Wait()
}
