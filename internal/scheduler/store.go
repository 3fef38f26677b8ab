// Package scheduler owns deferred work: scheduled sends and reminder
// deliveries. Jobs live in a local SQLite queue; the runner polls for
// due jobs, executes them, and retries failures with a fixed delay
// until the retry budget is spent.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/averros/signflow/pkg/api"
)

// Store is a persistent job queue backed by SQLite. It is safe for
// concurrent use for our purposes; due jobs are ordered by schedule
// time, then insertion.
type Store struct {
	db *sql.DB
}

// NewStore initializes the scheduled_jobs table in the given DB and
// returns a Store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS scheduled_jobs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL UNIQUE,
			tenant TEXT NOT NULL DEFAULT '',
			document_id TEXT NOT NULL,
			tracking_id TEXT NOT NULL,
			action TEXT NOT NULL,
			schedule_time INTEGER NOT NULL,
			status TEXT NOT NULL,
			retries INTEGER NOT NULL,
			max_retries INTEGER NOT NULL,
			retry_delay INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_due
			ON scheduled_jobs (status, schedule_time);
	`)
	return err
}

// Ensure Store satisfies the collaborator contract.
var _ api.Scheduler = (*Store)(nil)

// Schedule persists a pending job. A missing JobID gets a generated
// one; a missing Status starts pending.
func (s *Store) Schedule(ctx context.Context, job api.ScheduledJob) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = api.JobPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (job_id, tenant, document_id, tracking_id, action, schedule_time, status, retries, max_retries, retry_delay)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID,
		job.Tenant,
		job.DocumentID,
		job.TrackingID,
		string(job.Action),
		job.ScheduleTime.UnixNano(),
		string(job.Status),
		job.Retries,
		job.MaxRetries,
		int64(job.RetryDelay),
	)
	return err
}

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, jobID string) (api.ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, tenant, document_id, tracking_id, action, schedule_time, status, retries, max_retries, retry_delay
		FROM scheduled_jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return api.ScheduledJob{}, api.ErrJobNotFound
	}
	return job, err
}

// Due returns pending jobs whose schedule time has passed, oldest
// first.
func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]api.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, tenant, document_id, tracking_id, action, schedule_time, status, retries, max_retries, retry_delay
		FROM scheduled_jobs
		WHERE status = ? AND schedule_time <= ?
		ORDER BY schedule_time, seq
		LIMIT ?`,
		string(api.JobPending), now.UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []api.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkCompleted transitions a job to completed.
func (s *Store) MarkCompleted(ctx context.Context, jobID string) error {
	return s.setStatus(ctx, jobID, api.JobCompleted)
}

// RetryOrFail reschedules a failed execution after the job's retry
// delay, or marks the job permanently failed once the retry budget is
// spent. It returns the status the job ended up in.
func (s *Store) RetryOrFail(ctx context.Context, job api.ScheduledJob, now time.Time) (api.JobStatus, error) {
	if job.Retries >= job.MaxRetries {
		return api.JobFailed, s.setStatus(ctx, job.JobID, api.JobFailed)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET retries = retries + 1, schedule_time = ?, status = ?
		WHERE job_id = ?`,
		now.Add(job.RetryDelay).UnixNano(), string(api.JobPending), job.JobID)
	if err != nil {
		return "", err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return "", api.ErrJobNotFound
	}
	return api.JobPending, nil
}

// HasCompletedReminder reports whether a completed reminder already
// exists for the tracking.
func (s *Store) HasCompletedReminder(ctx context.Context, documentID, trackingID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scheduled_jobs
		WHERE document_id = ? AND tracking_id = ? AND action = ? AND status = ?`,
		documentID, trackingID, string(api.JobReminder), string(api.JobCompleted)).Scan(&n)
	return n > 0, err
}

// ListFailed returns permanently failed jobs for operator inspection.
func (s *Store) ListFailed(ctx context.Context) ([]api.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, tenant, document_id, tracking_id, action, schedule_time, status, retries, max_retries, retry_delay
		FROM scheduled_jobs WHERE status = ? ORDER BY schedule_time, seq`,
		string(api.JobFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []api.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) setStatus(ctx context.Context, jobID string, status api.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = ? WHERE job_id = ?`,
		string(status), jobID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return api.ErrJobNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (api.ScheduledJob, error) {
	var (
		job          api.ScheduledJob
		action       string
		scheduleTime int64
		status       string
		retryDelay   int64
	)
	err := row.Scan(&job.JobID, &job.Tenant, &job.DocumentID, &job.TrackingID, &action,
		&scheduleTime, &status, &job.Retries, &job.MaxRetries, &retryDelay)
	if err != nil {
		return api.ScheduledJob{}, err
	}
	job.Action = api.JobAction(action)
	job.ScheduleTime = time.Unix(0, scheduleTime)
	job.Status = api.JobStatus(status)
	job.RetryDelay = time.Duration(retryDelay)
	return job, nil
}
