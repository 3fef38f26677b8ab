package orchestrator

import (
	"context"
	"time"

	"github.com/averros/signflow/pkg/api"
)

// TokenService mints signing tokens and schedules the reminder that
// accompanies each one.
type TokenService struct {
	issuer    api.TokenIssuer
	scheduler api.Scheduler
	clock     api.Clock

	// fallbackHours is the reminder ladder applied when the cadence
	// point has already passed: the reminder lands at validity minus the
	// first offset still in the future.
	fallbackHours []int
	retryDelay    time.Duration
	maxRetries    int
}

// NewTokenService wires the token issuer to the reminder scheduler.
// A nil fallback ladder defaults to 12h, 6h, 3h before expiry.
func NewTokenService(issuer api.TokenIssuer, scheduler api.Scheduler, clock api.Clock, fallbackHours []int, retryDelay time.Duration, maxRetries int) *TokenService {
	if clock == nil {
		clock = api.SystemClock{}
	}
	if len(fallbackHours) == 0 {
		fallbackHours = []int{12, 6, 3}
	}
	if retryDelay <= 0 {
		retryDelay = 15 * time.Minute
	}
	return &TokenService{
		issuer:        issuer,
		scheduler:     scheduler,
		clock:         clock,
		fallbackHours: fallbackHours,
		retryDelay:    retryDelay,
		maxRetries:    maxRetries,
	}
}

// IssueForParty mints a token for one party of a tracking and, unless
// a completed reminder already exists for the tracking, schedules a
// reminder ahead of the token's expiry.
func (s *TokenService) IssueForParty(ctx context.Context, tenant string, t *api.Tracking, party api.Party) (api.Token, error) {
	validity := s.normalizeValidity(t.ValidityDate)

	token, err := s.issuer.Issue(ctx, api.TokenRequest{
		PartyID:      party.ID,
		DocumentID:   t.DocumentID,
		TrackingID:   t.TrackingID,
		Validity:     validity,
		ReminderDays: t.Remainder,
	})
	if err != nil {
		return api.Token{}, err
	}

	if err := s.scheduleReminder(ctx, tenant, t, validity); err != nil {
		return api.Token{}, err
	}
	return token, nil
}

// normalizeValidity pushes a past or unset validity date to the end of
// the current day.
func (s *TokenService) normalizeValidity(validity time.Time) time.Time {
	now := s.clock.Now()
	if validity.After(now) {
		return validity
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, now.Location())
}

func (s *TokenService) scheduleReminder(ctx context.Context, tenant string, t *api.Tracking, validity time.Time) error {
	done, err := s.scheduler.HasCompletedReminder(ctx, t.DocumentID, t.TrackingID)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	at, ok := s.reminderTime(validity, t.Remainder)
	if !ok {
		return nil
	}
	return s.scheduler.Schedule(ctx, api.ScheduledJob{
		Tenant:       tenant,
		DocumentID:   t.DocumentID,
		TrackingID:   t.TrackingID,
		Action:       api.JobReminder,
		ScheduleTime: at,
		Status:       api.JobPending,
		MaxRetries:   s.maxRetries,
		RetryDelay:   s.retryDelay,
	})
}

// reminderTime places the reminder at validity minus the configured
// cadence; when that point has passed it walks the fallback ladder and
// takes the first offset still in the future. ok is false when even
// the shortest offset is behind us.
func (s *TokenService) reminderTime(validity time.Time, cadenceDays int) (time.Time, bool) {
	now := s.clock.Now()

	if cadenceDays > 0 {
		at := validity.AddDate(0, 0, -cadenceDays)
		if at.After(now) {
			return at, true
		}
	}
	for _, h := range s.fallbackHours {
		at := validity.Add(-time.Duration(h) * time.Hour)
		if at.After(now) {
			return at, true
		}
	}
	return time.Time{}, false
}
