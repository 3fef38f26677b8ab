package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// TrackingObserver receives callbacks from the signing engine for
// logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay signature processing. The
// engine routes every "log and swallow" degradation through here so
// that nothing degrades invisibly.
type TrackingObserver interface {
	// OnActionApplied is called after the state machine has applied an
	// action and persisted the tracking. partyID may be empty for
	// tracking-wide actions like CANCELLED.
	OnActionApplied(ctx context.Context, tenant string, t *Tracking, action Action, partyID string)

	// OnPartyActivated is called when the sequential protocol hands the
	// tracking to the next party in order.
	OnPartyActivated(ctx context.Context, tenant string, t *Tracking, party Party)

	// OnTrackingCompleted is called once when a tracking reaches
	// completed status.
	OnTrackingCompleted(ctx context.Context, tenant string, t *Tracking)

	// OnNotifyFailed is called when an outbound notification failed and
	// was swallowed.
	OnNotifyFailed(ctx context.Context, tenant, trackingID string, action Action, err error)

	// OnCounterRecompute is called when an asynchronous tenant-wide
	// counter recomputation finishes. err is nil on success.
	OnCounterRecompute(ctx context.Context, tenant string, err error)

	// OnJobFailed is called when a scheduled job's execution failed and
	// was handed to the retry policy, or when the job poll loop itself
	// errored (job is then the zero value).
	OnJobFailed(ctx context.Context, job ScheduledJob, err error)

	// OnRenderSkip is called when a field was skipped during rendering
	// (unknown type, undecodable payload, missing font).
	OnRenderSkip(ctx context.Context, trackingID, fieldID, reason string)

	// OnTimestampDegraded is called when a timestamp authority endpoint
	// was unusable. endpoint is empty when signing proceeded entirely
	// without a trusted timestamp.
	OnTimestampDegraded(ctx context.Context, endpoint string, err error)
}

// NoopObserver is a TrackingObserver that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnActionApplied(ctx context.Context, tenant string, t *Tracking, action Action, partyID string) {
}
func (NoopObserver) OnPartyActivated(ctx context.Context, tenant string, t *Tracking, party Party) {}
func (NoopObserver) OnTrackingCompleted(ctx context.Context, tenant string, t *Tracking)           {}
func (NoopObserver) OnNotifyFailed(ctx context.Context, tenant, trackingID string, action Action, err error) {
}
func (NoopObserver) OnCounterRecompute(ctx context.Context, tenant string, err error)     {}
func (NoopObserver) OnJobFailed(ctx context.Context, job ScheduledJob, err error)         {}
func (NoopObserver) OnRenderSkip(ctx context.Context, trackingID, fieldID, reason string) {}
func (NoopObserver) OnTimestampDegraded(ctx context.Context, endpoint string, err error)  {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []TrackingObserver
}

// NewCompositeObserver creates a TrackingObserver that forwards events
// to each non-nil observer in obs.
func NewCompositeObserver(obs ...TrackingObserver) TrackingObserver {
	filtered := make([]TrackingObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnActionApplied(ctx context.Context, tenant string, t *Tracking, action Action, partyID string) {
	for _, o := range c.observers {
		o.OnActionApplied(ctx, tenant, t, action, partyID)
	}
}

func (c *CompositeObserver) OnPartyActivated(ctx context.Context, tenant string, t *Tracking, party Party) {
	for _, o := range c.observers {
		o.OnPartyActivated(ctx, tenant, t, party)
	}
}

func (c *CompositeObserver) OnTrackingCompleted(ctx context.Context, tenant string, t *Tracking) {
	for _, o := range c.observers {
		o.OnTrackingCompleted(ctx, tenant, t)
	}
}

func (c *CompositeObserver) OnNotifyFailed(ctx context.Context, tenant, trackingID string, action Action, err error) {
	for _, o := range c.observers {
		o.OnNotifyFailed(ctx, tenant, trackingID, action, err)
	}
}

func (c *CompositeObserver) OnCounterRecompute(ctx context.Context, tenant string, err error) {
	for _, o := range c.observers {
		o.OnCounterRecompute(ctx, tenant, err)
	}
}

func (c *CompositeObserver) OnJobFailed(ctx context.Context, job ScheduledJob, err error) {
	for _, o := range c.observers {
		o.OnJobFailed(ctx, job, err)
	}
}

func (c *CompositeObserver) OnRenderSkip(ctx context.Context, trackingID, fieldID, reason string) {
	for _, o := range c.observers {
		o.OnRenderSkip(ctx, trackingID, fieldID, reason)
	}
}

func (c *CompositeObserver) OnTimestampDegraded(ctx context.Context, endpoint string, err error) {
	for _, o := range c.observers {
		o.OnTimestampDegraded(ctx, endpoint, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates a TrackingObserver that logs tracking
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) TrackingObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnActionApplied(ctx context.Context, tenant string, t *Tracking, action Action, partyID string) {
	o.Logger.InfoContext(ctx, "action_applied",
		slog.String("tenant", tenant),
		slog.String("document_id", t.DocumentID),
		slog.String("tracking_id", t.TrackingID),
		slog.String("action", string(action)),
		slog.String("party_id", partyID),
		slog.String("status", string(t.TrackingStatus.Status)),
	)
}

func (o *LoggingObserver) OnPartyActivated(ctx context.Context, tenant string, t *Tracking, party Party) {
	o.Logger.InfoContext(ctx, "party_activated",
		slog.String("tenant", tenant),
		slog.String("tracking_id", t.TrackingID),
		slog.String("party_id", party.ID),
	)
}

func (o *LoggingObserver) OnTrackingCompleted(ctx context.Context, tenant string, t *Tracking) {
	o.Logger.InfoContext(ctx, "tracking_completed",
		slog.String("tenant", tenant),
		slog.String("document_id", t.DocumentID),
		slog.String("tracking_id", t.TrackingID),
	)
}

func (o *LoggingObserver) OnNotifyFailed(ctx context.Context, tenant, trackingID string, action Action, err error) {
	o.Logger.ErrorContext(ctx, "notify_failed",
		slog.String("tenant", tenant),
		slog.String("tracking_id", trackingID),
		slog.String("action", string(action)),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnCounterRecompute(ctx context.Context, tenant string, err error) {
	if err == nil {
		o.Logger.DebugContext(ctx, "counters_recomputed", slog.String("tenant", tenant))
		return
	}
	o.Logger.ErrorContext(ctx, "counters_recompute_failed",
		slog.String("tenant", tenant),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnJobFailed(ctx context.Context, job ScheduledJob, err error) {
	o.Logger.ErrorContext(ctx, "job_failed",
		slog.String("job_id", job.JobID),
		slog.String("tenant", job.Tenant),
		slog.String("tracking_id", job.TrackingID),
		slog.String("action", string(job.Action)),
		slog.Int("retries", job.Retries),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnRenderSkip(ctx context.Context, trackingID, fieldID, reason string) {
	o.Logger.WarnContext(ctx, "render_skip",
		slog.String("tracking_id", trackingID),
		slog.String("field_id", fieldID),
		slog.String("reason", reason),
	)
}

func (o *LoggingObserver) OnTimestampDegraded(ctx context.Context, endpoint string, err error) {
	o.Logger.WarnContext(ctx, "timestamp_degraded",
		slog.String("endpoint", endpoint),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters. It implements
// TrackingObserver, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	actionsApplied     atomic.Int64
	partiesActivated   atomic.Int64
	trackingsCompleted atomic.Int64
	notifyFailures     atomic.Int64
	jobFailures        atomic.Int64
	recomputeFailures  atomic.Int64
	renderSkips        atomic.Int64
	timestampDegrades  atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	ActionsApplied     int64
	PartiesActivated   int64
	TrackingsCompleted int64
	NotifyFailures     int64
	JobFailures        int64
	RecomputeFailures  int64
	RenderSkips        int64
	TimestampDegrades  int64
}

func (m *BasicMetrics) OnActionApplied(ctx context.Context, tenant string, t *Tracking, action Action, partyID string) {
	m.actionsApplied.Add(1)
}

func (m *BasicMetrics) OnPartyActivated(ctx context.Context, tenant string, t *Tracking, party Party) {
	m.partiesActivated.Add(1)
}

func (m *BasicMetrics) OnTrackingCompleted(ctx context.Context, tenant string, t *Tracking) {
	m.trackingsCompleted.Add(1)
}

func (m *BasicMetrics) OnNotifyFailed(ctx context.Context, tenant, trackingID string, action Action, err error) {
	m.notifyFailures.Add(1)
}

func (m *BasicMetrics) OnJobFailed(ctx context.Context, job ScheduledJob, err error) {
	m.jobFailures.Add(1)
}

func (m *BasicMetrics) OnCounterRecompute(ctx context.Context, tenant string, err error) {
	if err != nil {
		m.recomputeFailures.Add(1)
	}
}

func (m *BasicMetrics) OnRenderSkip(ctx context.Context, trackingID, fieldID, reason string) {
	m.renderSkips.Add(1)
}

func (m *BasicMetrics) OnTimestampDegraded(ctx context.Context, endpoint string, err error) {
	m.timestampDegrades.Add(1)
}

// Snapshot returns the current counter values.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	return BasicMetricsSnapshot{
		ActionsApplied:     m.actionsApplied.Load(),
		PartiesActivated:   m.partiesActivated.Load(),
		TrackingsCompleted: m.trackingsCompleted.Load(),
		NotifyFailures:     m.notifyFailures.Load(),
		JobFailures:        m.jobFailures.Load(),
		RecomputeFailures:  m.recomputeFailures.Load(),
		RenderSkips:        m.renderSkips.Load(),
		TimestampDegrades:  m.timestampDegrades.Load(),
	}
}
