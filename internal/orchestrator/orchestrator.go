// Package orchestrator drives the end-to-end signing flow: initiation,
// per-party token issuance, field submission, next-party activation,
// and finalization with certificate generation and delivery.
//
// Every entry point expects the caller to hold the distributed lock
// covering the tracking it mutates; the handle is threaded through to
// the store so unguarded writes cannot happen.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/averros/signflow/internal/statemachine"
	"github.com/averros/signflow/internal/trackingstore"
	"github.com/averros/signflow/pkg/api"
)

// Renderer composes signed field values onto the source document.
type Renderer interface {
	Compose(ctx context.Context, lock api.LockHandle, tenant string, src []byte, t *api.Tracking, uiW, uiH float64) ([]byte, error)
}

// DocumentSigner applies the platform signature to composed bytes.
type DocumentSigner interface {
	Finalize(ctx context.Context, id api.Identity, rendered []byte, trackingID string) ([]byte, error)
}

// Options carries the scheduling knobs for deferred sends.
type Options struct {
	RetryDelay time.Duration
	MaxRetries int
}

// Orchestrator coordinates the tracking store, state machine, renderer
// and signer behind the engine's public operations.
type Orchestrator struct {
	store     *trackingstore.Store
	machine   *statemachine.Manager
	renderer  Renderer
	signer    DocumentSigner
	tokens    *TokenService
	notifier  api.Notifier
	scheduler api.Scheduler
	certs     api.CertificateRenderer
	clock     api.Clock
	opts      Options
}

// New creates an Orchestrator. clock defaults to the system clock;
// everything else is required.
func New(store *trackingstore.Store, machine *statemachine.Manager, renderer Renderer, signer DocumentSigner,
	tokens *TokenService, notifier api.Notifier, scheduler api.Scheduler, certs api.CertificateRenderer,
	clock api.Clock, opts Options) *Orchestrator {
	if clock == nil {
		clock = api.SystemClock{}
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 15 * time.Minute
	}
	return &Orchestrator{
		store:     store,
		machine:   machine,
		renderer:  renderer,
		signer:    signer,
		tokens:    tokens,
		notifier:  notifier,
		scheduler: scheduler,
		certs:     certs,
		clock:     clock,
		opts:      opts,
	}
}

// InitiateRequest describes a new tracking.
type InitiateRequest struct {
	DocumentID    string
	TrackingID    string // generated when empty
	Source        []byte // source document; stored when non-empty
	Parties       []api.Party
	Fields        []api.Field
	ValidityDate  time.Time
	Remainder     int // reminder cadence, days
	EmailResponse string
	CCEmails      []string

	// ScheduledAt defers the first signing link to a send_email job
	// when set in the future.
	ScheduledAt time.Time
}

// InitiateResult reports how the initiation was dispatched.
type InitiateResult struct {
	TrackingID string
	Status     string // "sent" or "scheduled"
}

// Initiate creates the tracking record and either sends the first
// party their signing link immediately or enqueues a deferred send.
// In both cases the first party's INITIATED entry is logged now.
func (o *Orchestrator) Initiate(ctx context.Context, lock api.LockHandle, id api.Identity, req InitiateRequest) (InitiateResult, error) {
	if req.DocumentID == "" {
		return InitiateResult{}, &api.ValidationError{Field: "document_id", Err: fmt.Errorf("required")}
	}
	if len(req.Parties) == 0 {
		return InitiateResult{}, &api.ValidationError{Field: "parties", Err: fmt.Errorf("at least one party required")}
	}

	trackingID := req.TrackingID
	if trackingID == "" {
		trackingID = uuid.NewString()
	}
	now := o.clock.Now()

	t := &api.Tracking{
		TrackingID: trackingID,
		DocumentID: req.DocumentID,
		Parties:    req.Parties,
		Fields:     req.Fields,
		TrackingStatus: api.TrackingState{
			Status:   api.StatusInProgress,
			DateTime: now,
		},
		ValidityDate:  req.ValidityDate,
		Remainder:     req.Remainder,
		Holder:        id.Email,
		EmailResponse: req.EmailResponse,
		CCEmails:      req.CCEmails,
		CreatedAt:     now,
	}

	if len(req.Source) > 0 {
		if err := o.store.PutSourceDocument(ctx, lock, id.Tenant, req.DocumentID, req.Source); err != nil {
			return InitiateResult{}, err
		}
	}
	if err := o.store.PutTracking(ctx, lock, id.Tenant, t); err != nil {
		return InitiateResult{}, err
	}
	if err := o.store.UpdateSummary(ctx, lock, id.Tenant, req.DocumentID, trackingID, api.StatusInProgress, now); err != nil {
		return InitiateResult{}, err
	}

	first := t.Parties[0]

	if req.ScheduledAt.After(now) {
		err := o.scheduler.Schedule(ctx, api.ScheduledJob{
			Tenant:       id.Tenant,
			DocumentID:   req.DocumentID,
			TrackingID:   trackingID,
			Action:       api.JobSendEmail,
			ScheduleTime: req.ScheduledAt,
			Status:       api.JobPending,
			MaxRetries:   o.opts.MaxRetries,
			RetryDelay:   o.opts.RetryDelay,
		})
		if err != nil {
			return InitiateResult{}, err
		}
		// Pre-log INITIATED so the audit trail starts at initiation
		// time, not send time.
		if err := o.applyInitiated(ctx, lock, id, t, first.ID, api.ActionInitiated); err != nil {
			return InitiateResult{}, err
		}
		return InitiateResult{TrackingID: trackingID, Status: "scheduled"}, nil
	}

	if err := o.sendLink(ctx, id, t, first); err != nil {
		return InitiateResult{}, err
	}
	if err := o.applyInitiated(ctx, lock, id, t, first.ID, api.ActionInitiated); err != nil {
		return InitiateResult{}, err
	}
	return InitiateResult{TrackingID: trackingID, Status: "sent"}, nil
}

// SendScheduled delivers the first signing link for a tracking whose
// initiation was deferred. Terminal trackings are left alone.
func (o *Orchestrator) SendScheduled(ctx context.Context, lock api.LockHandle, id api.Identity, documentID, trackingID string) error {
	t, err := o.store.GetTracking(ctx, id.Tenant, documentID, trackingID)
	if err != nil {
		return err
	}
	if t.TrackingStatus.Status.Terminal() {
		return nil
	}
	party, _ := t.FirstUnsignedParty()
	if party == nil {
		return nil
	}
	return o.sendLink(ctx, id, t, *party)
}

// FieldValue is one submitted field.
type FieldValue struct {
	FieldID string
	Value   string
	Style   api.SignatureStyle // signature fields only
}

// Submission is one party's field submission.
type Submission struct {
	DocumentID string
	TrackingID string
	PartyID    string
	Values     []FieldValue

	// UIWidth and UIHeight are the dimensions the field geometry was
	// captured against.
	UIWidth  float64
	UIHeight float64
}

// SignResult reports the tracking state after a submission.
type SignResult struct {
	Status     api.TrackingStatus
	DocumentID string
	TrackingID string
	Signed     bool
}

// SignFields merges a party's submitted values, re-renders and signs
// the document with every signed field so far, persists the artifact,
// and then advances the state machine. The artifact write precedes the
// status recompute so a failure can never leave fields marked signed
// without signed bytes behind them.
func (o *Orchestrator) SignFields(ctx context.Context, lock api.LockHandle, id api.Identity, sub Submission) (SignResult, error) {
	t, err := o.store.GetTracking(ctx, id.Tenant, sub.DocumentID, sub.TrackingID)
	if err != nil {
		return SignResult{}, err
	}
	party := t.Party(sub.PartyID)
	if party == nil {
		return SignResult{}, api.ErrPartyNotFound
	}

	if merged := o.mergeFields(t, sub); merged == 0 {
		return SignResult{}, api.ErrNoMatchingFields
	}

	src, err := o.store.GetSourceDocument(ctx, id.Tenant, sub.DocumentID)
	if err != nil {
		return SignResult{}, err
	}
	rendered, err := o.renderer.Compose(ctx, lock, id.Tenant, src, t, sub.UIWidth, sub.UIHeight)
	if err != nil {
		return SignResult{}, err
	}
	signed, err := o.signer.Finalize(ctx, id, rendered, sub.TrackingID)
	if err != nil {
		return SignResult{}, err
	}
	if err := o.store.PutSignedArtifact(ctx, lock, id.Tenant, sub.DocumentID, sub.TrackingID, signed); err != nil {
		return SignResult{}, err
	}
	if err := o.store.PutTracking(ctx, lock, id.Tenant, t); err != nil {
		return SignResult{}, err
	}

	if !partyDone(t, sub.PartyID) {
		return SignResult{Status: t.TrackingStatus.Status, DocumentID: sub.DocumentID, TrackingID: sub.TrackingID, Signed: true}, nil
	}

	err = o.machine.Apply(ctx, lock, id, sub.DocumentID, sub.TrackingID, api.ActionAllFieldsSigned, statemachine.ApplyInput{
		PartyID: sub.PartyID,
		Actor:   party.Email,
	})
	if err != nil {
		return SignResult{}, err
	}

	t, err = o.store.GetTracking(ctx, id.Tenant, sub.DocumentID, sub.TrackingID)
	if err != nil {
		return SignResult{}, err
	}

	if t.TrackingStatus.Status == api.StatusCompleted {
		if err := o.finalize(ctx, lock, id, t, signed); err != nil {
			return SignResult{}, err
		}
	} else if !t.TrackingStatus.Status.Terminal() {
		if next, _ := t.FirstUnsignedParty(); next != nil {
			if err := o.sendLink(ctx, id, t, *next); err != nil {
				return SignResult{}, err
			}
		}
	}

	return SignResult{Status: t.TrackingStatus.Status, DocumentID: sub.DocumentID, TrackingID: sub.TrackingID, Signed: true}, nil
}

// InitiateResend re-issues the signing link to the first party that
// has not signed yet. Terminal trackings are skipped entirely.
func (o *Orchestrator) InitiateResend(ctx context.Context, lock api.LockHandle, id api.Identity, documentID, trackingID string) error {
	t, party, err := o.firstUnsigned(ctx, id, documentID, trackingID)
	if err != nil || party == nil {
		return err
	}
	if err := o.sendLink(ctx, id, t, *party); err != nil {
		return err
	}
	return o.machine.Apply(ctx, lock, id, documentID, trackingID, api.ActionReinitiated, statemachine.ApplyInput{
		PartyID: party.ID,
		Actor:   id.Email,
	})
}

// InitiateRemainder nudges the first party that has not signed yet.
// Terminal trackings are skipped entirely.
func (o *Orchestrator) InitiateRemainder(ctx context.Context, lock api.LockHandle, id api.Identity, documentID, trackingID string) error {
	t, party, err := o.firstUnsigned(ctx, id, documentID, trackingID)
	if err != nil || party == nil {
		return err
	}
	token, err := o.tokens.IssueForParty(ctx, id.Tenant, t, *party)
	if err != nil {
		return err
	}
	if err := o.notifier.SendReminder(ctx, id.Tenant, t, *party, token); err != nil {
		return err
	}
	return o.machine.Apply(ctx, lock, id, documentID, trackingID, api.ActionReminder, statemachine.ApplyInput{
		PartyID: party.ID,
		Actor:   id.Email,
	})
}

func (o *Orchestrator) firstUnsigned(ctx context.Context, id api.Identity, documentID, trackingID string) (*api.Tracking, *api.Party, error) {
	t, err := o.store.GetTracking(ctx, id.Tenant, documentID, trackingID)
	if err != nil {
		return nil, nil, err
	}
	if t.TrackingStatus.Status.Terminal() {
		return nil, nil, nil
	}
	party, _ := t.FirstUnsignedParty()
	return t, party, nil
}

// sendLink issues a token for the party and delivers the signing link.
func (o *Orchestrator) sendLink(ctx context.Context, id api.Identity, t *api.Tracking, party api.Party) error {
	token, err := o.tokens.IssueForParty(ctx, id.Tenant, t, party)
	if err != nil {
		return err
	}
	return o.notifier.SendSigningLink(ctx, id.Tenant, t, party, token)
}

func (o *Orchestrator) applyInitiated(ctx context.Context, lock api.LockHandle, id api.Identity, t *api.Tracking, partyID string, action api.Action) error {
	return o.machine.Apply(ctx, lock, id, t.DocumentID, t.TrackingID, action, statemachine.ApplyInput{
		PartyID: partyID,
		Actor:   id.Email,
	})
}

// mergeFields copies submitted values into the tracking's fields and
// returns how many submitted ids matched fields owned by the party.
// Empty values are ignored: a field only counts as signed once it
// carries something the renderer can draw.
func (o *Orchestrator) mergeFields(t *api.Tracking, sub Submission) int {
	now := o.clock.Now()
	merged := 0
	for _, fv := range sub.Values {
		if fv.Value == "" {
			continue
		}
		for i := range t.Fields {
			f := &t.Fields[i]
			if f.ID != fv.FieldID || f.PartyID != sub.PartyID {
				continue
			}
			f.Value = fv.Value
			if fv.Style != "" {
				f.Style = fv.Style
			}
			f.Signed = true
			at := now
			f.SignedAt = &at
			merged++
		}
	}
	return merged
}

func partyDone(t *api.Tracking, partyID string) bool {
	for _, i := range t.FieldsOwnedBy(partyID) {
		if !t.Fields[i].Signed {
			return false
		}
	}
	return true
}

// finalize synthesizes the completion certificate and delivers the
// signed document to every party.
func (o *Orchestrator) finalize(ctx context.Context, lock api.LockHandle, id api.Identity, t *api.Tracking, signed []byte) error {
	records, err := o.store.ListSignatureRecords(ctx, id.Tenant, t.TrackingID)
	if err != nil {
		return err
	}

	data := buildCertificateData(t, signed, records, o.clock.Now())
	certificate, err := o.certs.Render(ctx, data)
	if err != nil {
		return err
	}
	if err := o.store.PutCertificate(ctx, lock, id.Tenant, t.DocumentID, t.TrackingID, certificate); err != nil {
		return err
	}
	return o.notifier.SendCompleted(ctx, id.Tenant, t, signed, certificate)
}
