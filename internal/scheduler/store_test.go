package scheduler

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/averros/signflow/pkg/api"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestScheduleAssignsIDAndPendingStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	if err := s.Schedule(ctx, api.ScheduledJob{
		DocumentID:   "d1",
		TrackingID:   "t1",
		Action:       api.JobSendEmail,
		ScheduleTime: now,
	}); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	jobs, err := s.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("Due failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d due jobs, want 1", len(jobs))
	}
	if jobs[0].JobID == "" {
		t.Error("job id was not generated")
	}
	if jobs[0].Status != api.JobPending {
		t.Errorf("status = %q, want pending", jobs[0].Status)
	}
	if !jobs[0].ScheduleTime.Equal(now) {
		t.Errorf("schedule time = %v, want %v", jobs[0].ScheduleTime, now)
	}
}

func TestDueExcludesFutureAndNonPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	mustSchedule(t, s, api.ScheduledJob{JobID: "past", DocumentID: "d1", TrackingID: "t1",
		Action: api.JobReminder, ScheduleTime: now.Add(-time.Hour)})
	mustSchedule(t, s, api.ScheduledJob{JobID: "future", DocumentID: "d1", TrackingID: "t1",
		Action: api.JobReminder, ScheduleTime: now.Add(time.Hour)})
	mustSchedule(t, s, api.ScheduledJob{JobID: "done", DocumentID: "d1", TrackingID: "t1",
		Action: api.JobReminder, ScheduleTime: now.Add(-time.Hour)})
	if err := s.MarkCompleted(ctx, "done"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	jobs, err := s.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("Due failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].JobID != "past" {
		t.Fatalf("got %v, want only the past pending job", jobs)
	}
}

func TestDueOrdersByScheduleTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	mustSchedule(t, s, api.ScheduledJob{JobID: "later", DocumentID: "d1", TrackingID: "t1",
		Action: api.JobReminder, ScheduleTime: now.Add(-time.Minute)})
	mustSchedule(t, s, api.ScheduledJob{JobID: "earlier", DocumentID: "d1", TrackingID: "t1",
		Action: api.JobReminder, ScheduleTime: now.Add(-time.Hour)})

	jobs, err := s.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("Due failed: %v", err)
	}
	if len(jobs) != 2 || jobs[0].JobID != "earlier" || jobs[1].JobID != "later" {
		t.Fatalf("wrong order: %v", jobIDs(jobs))
	}
}

func TestRetryOrFailReschedulesThenFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	mustSchedule(t, s, api.ScheduledJob{JobID: "j1", DocumentID: "d1", TrackingID: "t1",
		Action: api.JobSendEmail, ScheduleTime: now, MaxRetries: 2, RetryDelay: 10 * time.Minute})

	job, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	status, err := s.RetryOrFail(ctx, job, now)
	if err != nil {
		t.Fatalf("RetryOrFail failed: %v", err)
	}
	if status != api.JobPending {
		t.Fatalf("status = %q, want pending", status)
	}

	job, err = s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.Retries != 1 {
		t.Errorf("retries = %d, want 1", job.Retries)
	}
	if !job.ScheduleTime.Equal(now.Add(10 * time.Minute)) {
		t.Errorf("schedule time = %v, want retry delay applied", job.ScheduleTime)
	}

	// Not due again until the delay passes.
	jobs, err := s.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("Due failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("job due before retry delay elapsed")
	}

	// Burn the remaining retry, then the budget is spent.
	job.Retries = 2
	status, err = s.RetryOrFail(ctx, job, now)
	if err != nil {
		t.Fatalf("RetryOrFail failed: %v", err)
	}
	if status != api.JobFailed {
		t.Fatalf("status = %q, want failed", status)
	}

	failed, err := s.ListFailed(ctx)
	if err != nil {
		t.Fatalf("ListFailed failed: %v", err)
	}
	if len(failed) != 1 || failed[0].JobID != "j1" {
		t.Fatalf("ListFailed = %v, want j1", jobIDs(failed))
	}
}

func TestHasCompletedReminder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	ok, err := s.HasCompletedReminder(ctx, "d1", "t1")
	if err != nil {
		t.Fatalf("HasCompletedReminder failed: %v", err)
	}
	if ok {
		t.Fatal("reported completed reminder on empty store")
	}

	mustSchedule(t, s, api.ScheduledJob{JobID: "r1", DocumentID: "d1", TrackingID: "t1",
		Action: api.JobReminder, ScheduleTime: now})

	// Pending reminders do not count.
	ok, err = s.HasCompletedReminder(ctx, "d1", "t1")
	if err != nil {
		t.Fatalf("HasCompletedReminder failed: %v", err)
	}
	if ok {
		t.Fatal("pending reminder counted as completed")
	}

	if err := s.MarkCompleted(ctx, "r1"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	ok, err = s.HasCompletedReminder(ctx, "d1", "t1")
	if err != nil {
		t.Fatalf("HasCompletedReminder failed: %v", err)
	}
	if !ok {
		t.Fatal("completed reminder not reported")
	}

	// Other trackings are unaffected.
	ok, err = s.HasCompletedReminder(ctx, "d1", "t2")
	if err != nil {
		t.Fatalf("HasCompletedReminder failed: %v", err)
	}
	if ok {
		t.Fatal("reminder leaked across trackings")
	}
}

func TestGetUnknownJob(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get(context.Background(), "missing"); err != api.ErrJobNotFound {
		t.Fatalf("got %v, want ErrJobNotFound", err)
	}
}

func mustSchedule(t *testing.T, s *Store, job api.ScheduledJob) {
	t.Helper()
	if err := s.Schedule(context.Background(), job); err != nil {
		t.Fatalf("Schedule %s failed: %v", job.JobID, err)
	}
}

func jobIDs(jobs []api.ScheduledJob) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.JobID
	}
	return ids
}
