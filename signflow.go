package signflow

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/averros/signflow/internal/blob"
	"github.com/averros/signflow/internal/lock"
	"github.com/averros/signflow/internal/orchestrator"
	"github.com/averros/signflow/internal/render"
	"github.com/averros/signflow/internal/scheduler"
	"github.com/averros/signflow/internal/signer"
	"github.com/averros/signflow/internal/statemachine"
	"github.com/averros/signflow/internal/trackingstore"
	"github.com/averros/signflow/pkg/api"
	"github.com/redis/go-redis/v9"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Tracking             = api.Tracking
	Party                = api.Party
	Field                = api.Field
	StatusRecord         = api.StatusRecord
	StatusLog            = api.StatusLog
	TrackingStatus       = api.TrackingStatus
	TrackingState        = api.TrackingState
	Action               = api.Action
	Dimension            = api.Dimension
	DocumentSummary      = api.DocumentSummary
	ScheduledJob         = api.ScheduledJob
	SignatureRecord      = api.SignatureRecord
	CertificateData      = api.CertificateData
	Identity             = api.Identity
	Token                = api.Token
	TokenRequest         = api.TokenRequest
	BlobStore            = api.BlobStore
	Cipher               = api.Cipher
	LockManager          = api.LockManager
	LockHandle           = api.LockHandle
	TokenIssuer          = api.TokenIssuer
	Notifier             = api.Notifier
	Scheduler            = api.Scheduler
	CertificateRenderer  = api.CertificateRenderer
	Clock                = api.Clock
	TrackingObserver     = api.TrackingObserver
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	NoopObserver         = api.NoopObserver

	InitiateRequest = orchestrator.InitiateRequest
	InitiateResult  = orchestrator.InitiateResult
	Submission      = orchestrator.Submission
	FieldValue      = orchestrator.FieldValue
	SignResult      = orchestrator.SignResult
	DocumentSigner  = orchestrator.DocumentSigner
	TenantCounters  = trackingstore.TenantCounters
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	ParseIdentity        = api.ParseIdentity
)

// Re-export status values for convenience.

const (
	StatusInProgress = api.StatusInProgress
	StatusCompleted  = api.StatusCompleted
	StatusCancelled  = api.StatusCancelled
	StatusDeclined   = api.StatusDeclined
	StatusExpired    = api.StatusExpired
)

// Re-export the sentinel errors callers branch on.

var (
	ErrTrackingNotFound = api.ErrTrackingNotFound
	ErrDocumentNotFound = api.ErrDocumentNotFound
	ErrPartyNotFound    = api.ErrPartyNotFound
	ErrNoMatchingFields = api.ErrNoMatchingFields
	ErrLockNotHeld      = api.ErrLockNotHeld
	ErrLockUnavailable  = api.ErrLockUnavailable
	ErrJobNotFound      = api.ErrJobNotFound
)

// NewMemoryBlobStore returns an in-process BlobStore for development
// and tests.
func NewMemoryBlobStore() api.BlobStore { return blob.NewMemoryStore() }

// NewMemoryLockManager returns an in-process LockManager for
// development and tests. clock may be nil.
func NewMemoryLockManager(clock api.Clock) api.LockManager { return lock.NewMemoryManager(clock) }

// NewRedisLockManager returns a LockManager backed by Redis SET NX
// leases with fencing tokens.
func NewRedisLockManager(client *redis.Client, prefix string) api.LockManager {
	return lock.NewRedisManager(client, prefix)
}

// Dependencies are the external collaborators an Engine is composed
// from. Blobs, Locks, Tokens, Notifier and Certificates are required;
// the rest have defaults.
type Dependencies struct {
	Blobs        api.BlobStore
	Locks        api.LockManager
	Tokens       api.TokenIssuer
	Notifier     api.Notifier
	Certificates api.CertificateRenderer

	// Cipher encrypts metadata blobs at rest. Nil means plaintext.
	Cipher api.Cipher

	// Signer finalizes documents; when nil one is built from
	// SigningCertPEM/SigningKeyPEM and the configured TSA endpoints.
	Signer         DocumentSigner
	SigningCertPEM []byte
	SigningKeyPEM  []byte

	// DB hosts the scheduled-job queue. Alternatively supply Jobs to
	// use an external scheduler; exactly one must be set.
	DB   *sql.DB
	Jobs api.Scheduler

	// FontPaths maps font family names to TTF files for field
	// rendering. Unknown families fall back to a built-in sans-serif.
	FontPaths map[string]string

	Observer api.TrackingObserver
	Clock    api.Clock
}

// Engine is the composition root: it owns the distributed-lock
// discipline and fronts every workflow operation.
type Engine struct {
	cfg      Config
	locks    api.LockManager
	store    *trackingstore.Store
	machine  *statemachine.Manager
	orch     *orchestrator.Orchestrator
	counters *statemachine.CounterPool
	jobStore *scheduler.Store
	runner   *scheduler.Runner
}

// NewEngine builds an Engine from the given collaborators. The context
// bounds startup work (timestamp authority probing).
func NewEngine(ctx context.Context, cfg Config, deps Dependencies) (*Engine, error) {
	cfg = cfg.withDefaults()

	if deps.Blobs == nil {
		return nil, fmt.Errorf("signflow: blob store is required")
	}
	if deps.Locks == nil {
		return nil, fmt.Errorf("signflow: lock manager is required")
	}
	if deps.Tokens == nil || deps.Notifier == nil || deps.Certificates == nil {
		return nil, fmt.Errorf("signflow: token issuer, notifier and certificate renderer are required")
	}

	obs := deps.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = api.SystemClock{}
	}

	store := trackingstore.New(deps.Blobs, deps.Cipher)

	jobs := deps.Jobs
	var jobStore *scheduler.Store
	switch {
	case jobs != nil && deps.DB != nil:
		return nil, fmt.Errorf("signflow: set either DB or Jobs, not both")
	case jobs != nil:
	case deps.DB != nil:
		var err error
		jobStore, err = scheduler.NewStore(deps.DB)
		if err != nil {
			return nil, fmt.Errorf("signflow: init job store: %w", err)
		}
		jobs = jobStore
	default:
		return nil, fmt.Errorf("signflow: a job scheduler (DB or Jobs) is required")
	}

	docSigner := deps.Signer
	if docSigner == nil {
		s, err := signer.New(ctx, signer.Config{
			CertificatePEM: deps.SigningCertPEM,
			KeyPEM:         deps.SigningKeyPEM,
			TSAEndpoints:   cfg.TSAEndpoints,
			Platform:       cfg.Platform,
		}, obs, clock)
		if err != nil {
			return nil, err
		}
		docSigner = s
	}

	fonts := render.NewRegistry()
	for name, path := range deps.FontPaths {
		fonts.Register(name, path)
	}

	counters := statemachine.NewCounterPool(store, deps.Locks, clock, obs, cfg.CounterWorkers)
	machine := statemachine.NewManager(store, deps.Notifier, clock, obs, counters)
	renderer := render.New(fonts, store, obs, clock)
	tokens := orchestrator.NewTokenService(deps.Tokens, jobs, clock, cfg.ReminderFallbackHours, cfg.RetryDelay, cfg.MaxRetries)
	orch := orchestrator.New(store, machine, renderer, docSigner, tokens, deps.Notifier, jobs,
		deps.Certificates, clock, orchestrator.Options{RetryDelay: cfg.RetryDelay, MaxRetries: cfg.MaxRetries})

	e := &Engine{
		cfg:      cfg,
		locks:    deps.Locks,
		store:    store,
		machine:  machine,
		orch:     orch,
		counters: counters,
		jobStore: jobStore,
	}
	if jobStore != nil {
		e.runner = scheduler.NewRunner(jobStore, e, clock, cfg.SchedulerPoll, obs)
	}
	return e, nil
}

// Lock key templates. One lease covers one read-modify-write cycle.

func signKey(documentID, trackingID string) string {
	return "sign:" + documentID + ":" + trackingID
}

func sendKey(documentID string) string {
	return "send:" + documentID
}

func (e *Engine) withLock(ctx context.Context, key string, fn func(h api.LockHandle) error) error {
	h, err := e.locks.Acquire(ctx, key, e.cfg.LockTTL)
	if err != nil {
		return err
	}
	defer e.locks.Release(ctx, h)
	return fn(h)
}

// Initiate creates a tracking and dispatches the first signing link,
// immediately or via a scheduled send.
func (e *Engine) Initiate(ctx context.Context, identity string, req InitiateRequest) (InitiateResult, error) {
	id := api.ParseIdentity(identity)
	var res InitiateResult
	err := e.withLock(ctx, sendKey(req.DocumentID), func(h api.LockHandle) error {
		var err error
		res, err = e.orch.Initiate(ctx, h, id, req)
		return err
	})
	return res, err
}

// SignFields applies one party's submission: merge, render, sign,
// persist, then advance the state machine.
func (e *Engine) SignFields(ctx context.Context, identity string, sub Submission) (SignResult, error) {
	id := api.ParseIdentity(identity)
	var res SignResult
	err := e.withLock(ctx, signKey(sub.DocumentID, sub.TrackingID), func(h api.LockHandle) error {
		var err error
		res, err = e.orch.SignFields(ctx, h, id, sub)
		return err
	})
	return res, err
}

// Resend re-sends the signing link to the first party that has not
// signed yet.
func (e *Engine) Resend(ctx context.Context, identity, documentID, trackingID string) error {
	id := api.ParseIdentity(identity)
	return e.withLock(ctx, signKey(documentID, trackingID), func(h api.LockHandle) error {
		return e.orch.InitiateResend(ctx, h, id, documentID, trackingID)
	})
}

// Remind nudges the first party that has not signed yet.
func (e *Engine) Remind(ctx context.Context, identity, documentID, trackingID string) error {
	id := api.ParseIdentity(identity)
	return e.withLock(ctx, signKey(documentID, trackingID), func(h api.LockHandle) error {
		return e.orch.InitiateRemainder(ctx, h, id, documentID, trackingID)
	})
}

// MarkOpened records that a party verified their OTP and opened the
// document.
func (e *Engine) MarkOpened(ctx context.Context, identity, documentID, trackingID, partyID string) error {
	id := api.ParseIdentity(identity)
	return e.withLock(ctx, signKey(documentID, trackingID), func(h api.LockHandle) error {
		return e.machine.Apply(ctx, h, id, documentID, trackingID, api.ActionOTPVerified, statemachine.ApplyInput{
			PartyID: partyID,
			Actor:   id.Email,
		})
	})
}

// Cancel terminates a tracking and notifies every party.
func (e *Engine) Cancel(ctx context.Context, identity, documentID, trackingID, reason string) error {
	id := api.ParseIdentity(identity)
	return e.withLock(ctx, signKey(documentID, trackingID), func(h api.LockHandle) error {
		return e.machine.Apply(ctx, h, id, documentID, trackingID, api.ActionCancelled, statemachine.ApplyInput{
			Reason: reason,
			Actor:  id.Email,
		})
	})
}

// Decline records a party's refusal and terminates the tracking.
func (e *Engine) Decline(ctx context.Context, identity, documentID, trackingID, partyID, reason string) error {
	id := api.ParseIdentity(identity)
	return e.withLock(ctx, signKey(documentID, trackingID), func(h api.LockHandle) error {
		return e.machine.Apply(ctx, h, id, documentID, trackingID, api.ActionDeclined, statemachine.ApplyInput{
			PartyID: partyID,
			Reason:  reason,
			Actor:   id.Email,
		})
	})
}

// Expire terminates a tracking whose validity has lapsed.
func (e *Engine) Expire(ctx context.Context, identity, documentID, trackingID string) error {
	id := api.ParseIdentity(identity)
	return e.withLock(ctx, signKey(documentID, trackingID), func(h api.LockHandle) error {
		return e.machine.Apply(ctx, h, id, documentID, trackingID, api.ActionExpired, statemachine.ApplyInput{
			Actor: id.Email,
		})
	})
}

// Tracking returns one tracking record.
func (e *Engine) Tracking(ctx context.Context, identity, documentID, trackingID string) (*Tracking, error) {
	id := api.ParseIdentity(identity)
	return e.store.GetTracking(ctx, id.Tenant, documentID, trackingID)
}

// Summary returns the per-document rollup of all trackings.
func (e *Engine) Summary(ctx context.Context, identity, documentID string) (*DocumentSummary, error) {
	id := api.ParseIdentity(identity)
	return e.store.GetDocumentSummary(ctx, id.Tenant, documentID)
}

// SignedDocument returns the latest signed artifact for a tracking.
func (e *Engine) SignedDocument(ctx context.Context, identity, documentID, trackingID string) ([]byte, error) {
	id := api.ParseIdentity(identity)
	return e.store.GetSignedArtifact(ctx, id.Tenant, documentID, trackingID)
}

// Certificate returns the completion certificate for a tracking.
func (e *Engine) Certificate(ctx context.Context, identity, documentID, trackingID string) ([]byte, error) {
	id := api.ParseIdentity(identity)
	return e.store.GetCertificate(ctx, id.Tenant, documentID, trackingID)
}

// Counters returns the tenant-wide status counters.
func (e *Engine) Counters(ctx context.Context, identity string) (*TenantCounters, error) {
	id := api.ParseIdentity(identity)
	return e.store.GetCounters(ctx, id.Tenant)
}

// Execute dispatches one due scheduled job. It implements the job
// runner's executor contract.
func (e *Engine) Execute(ctx context.Context, job ScheduledJob) error {
	t, err := e.store.GetTracking(ctx, job.Tenant, job.DocumentID, job.TrackingID)
	if err != nil {
		return err
	}
	id := api.Identity{Tenant: job.Tenant, Email: t.Holder}

	switch job.Action {
	case api.JobSendEmail:
		return e.withLock(ctx, sendKey(job.DocumentID), func(h api.LockHandle) error {
			return e.orch.SendScheduled(ctx, h, id, job.DocumentID, job.TrackingID)
		})
	case api.JobReminder:
		return e.withLock(ctx, signKey(job.DocumentID, job.TrackingID), func(h api.LockHandle) error {
			return e.orch.InitiateRemainder(ctx, h, id, job.DocumentID, job.TrackingID)
		})
	default:
		return fmt.Errorf("unknown job action %q", job.Action)
	}
}

// RunScheduler polls the embedded job queue until ctx is cancelled.
// It errors immediately when the Engine was built with an external
// scheduler.
func (e *Engine) RunScheduler(ctx context.Context) error {
	if e.runner == nil {
		return fmt.Errorf("signflow: no embedded job queue; jobs are handled externally")
	}
	return e.runner.Run(ctx)
}

// ProcessDueJobs executes every currently due job once and reports how
// many ran. Useful for tests and single-shot cron-style deployments.
func (e *Engine) ProcessDueJobs(ctx context.Context) (int, error) {
	if e.runner == nil {
		return 0, fmt.Errorf("signflow: no embedded job queue; jobs are handled externally")
	}
	return e.runner.ProcessDue(ctx)
}

// FailedJobs lists jobs that exhausted their retries, for operator
// inspection.
func (e *Engine) FailedJobs(ctx context.Context) ([]ScheduledJob, error) {
	if e.jobStore == nil {
		return nil, fmt.Errorf("signflow: no embedded job queue; jobs are handled externally")
	}
	return e.jobStore.ListFailed(ctx)
}

// Wait blocks until detached background work (counter recomputation)
// has drained. Call during shutdown.
func (e *Engine) Wait() {
	e.counters.Wait()
}
