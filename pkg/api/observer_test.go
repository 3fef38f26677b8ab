package api

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBasicMetricsCountsEvents(t *testing.T) {
	ctx := context.Background()
	m := &BasicMetrics{}
	tr := &Tracking{TrackingID: "t1", DocumentID: "d1"}

	m.OnActionApplied(ctx, "acme", tr, ActionInitiated, "p1")
	m.OnActionApplied(ctx, "acme", tr, ActionOTPVerified, "p1")
	m.OnPartyActivated(ctx, "acme", tr, Party{ID: "p2"})
	m.OnTrackingCompleted(ctx, "acme", tr)
	m.OnNotifyFailed(ctx, "acme", "t1", ActionCancelled, errors.New("smtp down"))
	m.OnJobFailed(ctx, ScheduledJob{JobID: "j1", Tenant: "acme"}, errors.New("boom"))
	m.OnCounterRecompute(ctx, "acme", nil)
	m.OnCounterRecompute(ctx, "acme", errors.New("list failed"))
	m.OnRenderSkip(ctx, "t1", "f1", "unknown field type")
	m.OnTimestampDegraded(ctx, "http://tsa.example", errors.New("timeout"))

	snap := m.Snapshot()
	require.Equal(t, int64(2), snap.ActionsApplied)
	require.Equal(t, int64(1), snap.PartiesActivated)
	require.Equal(t, int64(1), snap.TrackingsCompleted)
	require.Equal(t, int64(1), snap.NotifyFailures)
	require.Equal(t, int64(1), snap.JobFailures)
	require.Equal(t, int64(1), snap.RecomputeFailures)
	require.Equal(t, int64(1), snap.RenderSkips)
	require.Equal(t, int64(1), snap.TimestampDegrades)
}

func TestCompositeObserverFansOut(t *testing.T) {
	ctx := context.Background()
	a := &BasicMetrics{}
	b := &BasicMetrics{}

	comp := NewCompositeObserver(a, nil, b)
	comp.OnActionApplied(ctx, "acme", &Tracking{}, ActionInitiated, "p1")

	require.Equal(t, int64(1), a.Snapshot().ActionsApplied)
	require.Equal(t, int64(1), b.Snapshot().ActionsApplied)
}

func TestCompositeObserverEmptyIsNoop(t *testing.T) {
	comp := NewCompositeObserver()
	_, ok := comp.(NoopObserver)
	require.True(t, ok)
}

func TestCompositeObserverSingleUnwraps(t *testing.T) {
	m := &BasicMetrics{}
	comp := NewCompositeObserver(nil, m)
	require.Equal(t, TrackingObserver(m), comp)
}

func TestLoggingObserverWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewLoggingObserver(logger)
	ctx := context.Background()
	tr := &Tracking{TrackingID: "t1", DocumentID: "d1", TrackingStatus: TrackingState{Status: StatusInProgress}}

	obs.OnActionApplied(ctx, "acme", tr, ActionInitiated, "p1")
	obs.OnRenderSkip(ctx, "t1", "f9", "unknown field type")
	obs.OnTimestampDegraded(ctx, "", ErrTimestampUnavailable)
	obs.OnJobFailed(ctx, ScheduledJob{JobID: "j1", Action: JobReminder}, errors.New("smtp down"))

	out := buf.String()
	require.Contains(t, out, "action_applied")
	require.Contains(t, out, "tracking_id=t1")
	require.Contains(t, out, "render_skip")
	require.Contains(t, out, "timestamp_degraded")
	require.Contains(t, out, "job_failed")
	require.Contains(t, out, "job_id=j1")
}

func TestNewLoggingObserverNilLoggerUsesDefault(t *testing.T) {
	obs := NewLoggingObserver(nil)
	lo, ok := obs.(*LoggingObserver)
	require.True(t, ok)
	require.NotNil(t, lo.Logger)
}
