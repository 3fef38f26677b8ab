// Package statemachine interprets named actions against tracking
// records: it appends the audit entries, recomputes party and tracking
// status, persists the result, and triggers downstream notification.
package statemachine

import (
	"context"
	"errors"
	"fmt"

	"github.com/averros/signflow/internal/trackingstore"
	"github.com/averros/signflow/pkg/api"
)

// Manager is the tracking state machine.
//
// Tracking-level transitions are in_progress to one of the terminal
// states (completed, cancelled, declined, expired); no transition
// leaves a terminal state. Party-level dimensions are independent
// append-only logs, so a party can be both sent and later cancelled.
type Manager struct {
	store    *trackingstore.Store
	notifier api.Notifier
	clock    api.Clock
	obs      api.TrackingObserver
	counters *CounterPool
}

// ApplyInput carries the optional parameters of an action.
type ApplyInput struct {
	PartyID string
	Context string
	Reason  string
	Actor   string
}

// NewManager creates a Manager. notifier and counters may be nil;
// obs and clock default to no-op and system clock.
func NewManager(store *trackingstore.Store, notifier api.Notifier, clock api.Clock, obs api.TrackingObserver, counters *CounterPool) *Manager {
	if clock == nil {
		clock = api.SystemClock{}
	}
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &Manager{
		store:    store,
		notifier: notifier,
		clock:    clock,
		obs:      obs,
		counters: counters,
	}
}

// Apply interprets action against the tracking identified by
// (documentID, trackingID), persists the mutated tracking and its
// document summary entry, and kicks off the asynchronous tenant-wide
// counter recomputation.
//
// Missing tracking or document metadata is fatal to the call.
// Notification failures and counter recomputation failures are
// observed and swallowed.
func (m *Manager) Apply(ctx context.Context, lock api.LockHandle, id api.Identity, documentID, trackingID string, action api.Action, in ApplyInput) error {
	t, err := m.store.GetTracking(ctx, id.Tenant, documentID, trackingID)
	if err != nil {
		return err
	}
	if _, err := m.store.GetDocumentSummary(ctx, id.Tenant, documentID); err != nil {
		return err
	}

	now := m.clock.Now()
	wasTerminal := t.TrackingStatus.Status.Terminal()
	completedNow := false
	notify := false

	party := func() (*api.Party, error) {
		if in.PartyID == "" {
			return nil, api.ErrPartyRequired
		}
		p := t.Party(in.PartyID)
		if p == nil {
			return nil, fmt.Errorf("%w: %s", api.ErrPartyNotFound, in.PartyID)
		}
		return p, nil
	}

	switch action {
	case api.ActionInitiated, api.ActionReinitiated:
		p, err := party()
		if err != nil {
			return err
		}
		p.Append(api.DimensionSent, api.StatusRecord{DateTime: now, Context: in.Context})

	case api.ActionOTPVerified:
		p, err := party()
		if err != nil {
			return err
		}
		p.Append(api.DimensionOpened, api.StatusRecord{DateTime: now, Context: in.Context})

	case api.ActionAllFieldsSigned:
		p, err := party()
		if err != nil {
			return err
		}
		p.Append(api.DimensionSigned, api.StatusRecord{DateTime: now, Context: in.Context, IsSigned: true})

		if !wasTerminal {
			idx := t.PartyIndex(in.PartyID)
			if idx+1 < len(t.Parties) {
				next := &t.Parties[idx+1]
				next.Append(api.DimensionSent, api.StatusRecord{DateTime: now, Context: "activated after " + in.PartyID})
				m.obs.OnPartyActivated(ctx, id.Tenant, t, *next)
			} else if t.AllPartiesSigned() {
				t.TrackingStatus = api.TrackingState{Status: api.StatusCompleted, DateTime: now, Context: in.Context}
				completedNow = true
			}
		}

	case api.ActionCancelled:
		if wasTerminal {
			return nil
		}
		t.TrackingStatus = api.TrackingState{Status: api.StatusCancelled, DateTime: now, Context: in.Context}
		for i := range t.Parties {
			t.Parties[i].Append(api.DimensionCancelled, api.StatusRecord{DateTime: now, Actor: actorOf(in, id), Reason: in.Reason})
		}
		t.CancelledBy = append(t.CancelledBy, api.CancellationRecord{By: actorOf(in, id), Reason: in.Reason, DateTime: now})
		notify = true

	case api.ActionDeclined:
		p, err := party()
		if err != nil {
			return err
		}
		if wasTerminal {
			return nil
		}
		t.TrackingStatus = api.TrackingState{Status: api.StatusDeclined, DateTime: now, Context: in.Context}
		p.Append(api.DimensionDeclined, api.StatusRecord{DateTime: now, Actor: actorOf(in, id), Reason: in.Reason})
		notify = true

	case api.ActionExpired:
		if wasTerminal {
			return nil
		}
		t.TrackingStatus = api.TrackingState{Status: api.StatusExpired, DateTime: now, Context: in.Context}
		for i := range t.Parties {
			t.Parties[i].Append(api.DimensionExpired, api.StatusRecord{DateTime: now, Reason: in.Reason})
		}

	case api.ActionReminder:
		p, err := party()
		if err != nil {
			return err
		}
		p.Append(api.DimensionReminder, api.StatusRecord{DateTime: now, Context: in.Context})

	default:
		return &api.ValidationError{Field: "action", Err: errors.New("unknown action " + string(action))}
	}

	if err := m.store.PutTracking(ctx, lock, id.Tenant, t); err != nil {
		return err
	}
	if err := m.store.UpdateSummary(ctx, lock, id.Tenant, documentID, trackingID, t.TrackingStatus.Status, now); err != nil {
		return err
	}

	m.obs.OnActionApplied(ctx, id.Tenant, t, action, in.PartyID)
	if completedNow {
		m.obs.OnTrackingCompleted(ctx, id.Tenant, t)
	}

	if notify && m.notifier != nil {
		if err := m.notifier.SendStatusNotice(ctx, id.Tenant, t, action, in.Reason); err != nil {
			m.obs.OnNotifyFailed(ctx, id.Tenant, trackingID, action, err)
		}
	}

	if m.counters != nil {
		m.counters.Recompute(id.Tenant)
	}
	return nil
}

func actorOf(in ApplyInput, id api.Identity) string {
	if in.Actor != "" {
		return in.Actor
	}
	return id.Email
}
