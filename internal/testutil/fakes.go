// Package testutil provides in-memory fakes for the engine's external
// collaborators.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/averros/signflow/pkg/api"
)

// ManualClock is a settable api.Clock.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock starts at the given time.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// NotifierCall records one outbound notification.
type NotifierCall struct {
	Kind       string // "link", "reminder", "completed", "status"
	Tenant     string
	TrackingID string
	PartyID    string
	Action     api.Action
}

// CaptureNotifier records all notifications and can be told to fail.
type CaptureNotifier struct {
	mu    sync.Mutex
	calls []NotifierCall

	// FailStatusNotice makes SendStatusNotice return an error.
	FailStatusNotice bool
}

var _ api.Notifier = (*CaptureNotifier)(nil)

func (n *CaptureNotifier) record(c NotifierCall) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, c)
}

// Calls returns a copy of all recorded notifications.
func (n *CaptureNotifier) Calls() []NotifierCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotifierCall, len(n.calls))
	copy(out, n.calls)
	return out
}

// CallsOf returns the recorded notifications of one kind.
func (n *CaptureNotifier) CallsOf(kind string) []NotifierCall {
	var out []NotifierCall
	for _, c := range n.Calls() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (n *CaptureNotifier) SendSigningLink(ctx context.Context, tenant string, t *api.Tracking, party api.Party, token api.Token) error {
	n.record(NotifierCall{Kind: "link", Tenant: tenant, TrackingID: t.TrackingID, PartyID: party.ID})
	return nil
}

func (n *CaptureNotifier) SendReminder(ctx context.Context, tenant string, t *api.Tracking, party api.Party, token api.Token) error {
	n.record(NotifierCall{Kind: "reminder", Tenant: tenant, TrackingID: t.TrackingID, PartyID: party.ID})
	return nil
}

func (n *CaptureNotifier) SendCompleted(ctx context.Context, tenant string, t *api.Tracking, signed, certificate []byte) error {
	n.record(NotifierCall{Kind: "completed", Tenant: tenant, TrackingID: t.TrackingID})
	return nil
}

func (n *CaptureNotifier) SendStatusNotice(ctx context.Context, tenant string, t *api.Tracking, action api.Action, reason string) error {
	n.record(NotifierCall{Kind: "status", Tenant: tenant, TrackingID: t.TrackingID, Action: action})
	if n.FailStatusNotice {
		return fmt.Errorf("smtp unavailable")
	}
	return nil
}

// StaticTokenIssuer mints predictable tokens and records requests.
type StaticTokenIssuer struct {
	mu       sync.Mutex
	requests []api.TokenRequest
	seq      int
}

var _ api.TokenIssuer = (*StaticTokenIssuer)(nil)

func (i *StaticTokenIssuer) Issue(ctx context.Context, req api.TokenRequest) (api.Token, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seq++
	i.requests = append(i.requests, req)
	return api.Token{
		Value:      fmt.Sprintf("token-%d-%s", i.seq, req.PartyID),
		ValidUntil: req.Validity,
	}, nil
}

// Requests returns a copy of all issued token requests.
func (i *StaticTokenIssuer) Requests() []api.TokenRequest {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]api.TokenRequest, len(i.requests))
	copy(out, i.requests)
	return out
}

// StubSigner is an orchestrator DocumentSigner that appends a marker
// instead of producing a real CMS signature.
type StubSigner struct{}

func (StubSigner) Finalize(ctx context.Context, id api.Identity, rendered []byte, trackingID string) ([]byte, error) {
	return append(rendered, []byte("\n%signed:"+trackingID)...), nil
}

// StaticCertificateRenderer renders certificates as JSON-ish stubs.
type StaticCertificateRenderer struct{}

var _ api.CertificateRenderer = (*StaticCertificateRenderer)(nil)

func (StaticCertificateRenderer) Render(ctx context.Context, data api.CertificateData) ([]byte, error) {
	return []byte(fmt.Sprintf("certificate doc=%s tracking=%s pages=%d hash=%s signers=%d",
		data.DocumentID, data.TrackingID, data.PageCount, data.FinalHash, len(data.Signers))), nil
}

// MemoryScheduler records scheduled jobs without executing them.
type MemoryScheduler struct {
	mu   sync.Mutex
	jobs []api.ScheduledJob

	// CompletedReminders marks (documentID, trackingID) pairs that
	// already have a completed reminder job.
	CompletedReminders map[string]bool
}

var _ api.Scheduler = (*MemoryScheduler)(nil)

func (s *MemoryScheduler) Schedule(ctx context.Context, job api.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *MemoryScheduler) HasCompletedReminder(ctx context.Context, documentID, trackingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CompletedReminders[documentID+"/"+trackingID], nil
}

// Jobs returns a copy of all scheduled jobs.
func (s *MemoryScheduler) Jobs() []api.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.ScheduledJob, len(s.jobs))
	copy(out, s.jobs)
	return out
}
