package scheduler

import (
	"context"
	"time"

	"github.com/averros/signflow/pkg/api"
)

const (
	defaultPollInterval = 5 * time.Second
	claimBatchSize      = 25
)

// Executor performs the work a due job describes.
type Executor interface {
	Execute(ctx context.Context, job api.ScheduledJob) error
}

// Runner polls the store for due jobs and dispatches them to the
// executor. A job whose execution fails goes back through the store's
// retry policy rather than being retried inline.
type Runner struct {
	store        *Store
	exec         Executor
	clock        api.Clock
	obs          api.TrackingObserver
	pollInterval time.Duration
}

// NewRunner creates a Runner. A zero pollInterval gets a sane default;
// obs and clock default to no-op and system clock.
func NewRunner(store *Store, exec Executor, clock api.Clock, pollInterval time.Duration, obs api.TrackingObserver) *Runner {
	if clock == nil {
		clock = api.SystemClock{}
	}
	if obs == nil {
		obs = api.NoopObserver{}
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Runner{
		store:        store,
		exec:         exec,
		clock:        clock,
		obs:          obs,
		pollInterval: pollInterval,
	}
}

// ProcessDue executes every currently due job once and returns how
// many were processed. Execution failures are absorbed into the job's
// retry state; only store errors propagate.
func (r *Runner) ProcessDue(ctx context.Context) (int, error) {
	now := r.clock.Now()
	jobs, err := r.store.Due(ctx, now, claimBatchSize)
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if execErr := r.exec.Execute(ctx, job); execErr != nil {
			r.obs.OnJobFailed(ctx, job, execErr)
			if _, err := r.store.RetryOrFail(ctx, job, r.clock.Now()); err != nil {
				return 0, err
			}
			continue
		}
		if err := r.store.MarkCompleted(ctx, job.JobID); err != nil {
			return 0, err
		}
	}
	return len(jobs), nil
}

// Run polls until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.ProcessDue(ctx); err != nil && ctx.Err() == nil {
			r.obs.OnJobFailed(ctx, api.ScheduledJob{}, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
