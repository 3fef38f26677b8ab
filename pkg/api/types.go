package api

import (
	"encoding/json"
	"strings"
	"time"
)

// TrackingStatus is the lifecycle state of a Tracking.
// in_progress is the only non-terminal state.
type TrackingStatus string

const (
	StatusInProgress TrackingStatus = "in_progress"
	StatusCompleted  TrackingStatus = "completed"
	StatusCancelled  TrackingStatus = "cancelled"
	StatusDeclined   TrackingStatus = "declined"
	StatusExpired    TrackingStatus = "expired"
)

// Terminal reports whether no further status transition is allowed.
func (s TrackingStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusDeclined, StatusExpired:
		return true
	}
	return false
}

// Action is a named event interpreted by the tracking state machine.
// The spellings (including REMAINDER) are the historical wire values
// and are preserved for blob compatibility.
type Action string

const (
	ActionInitiated       Action = "INITIATED"
	ActionReinitiated     Action = "RE-INITIATED"
	ActionOTPVerified     Action = "OTP_VERIFIED"
	ActionAllFieldsSigned Action = "ALL_FIELDS_SIGNED"
	ActionCancelled       Action = "CANCELLED"
	ActionDeclined        Action = "DECLINED"
	ActionReminder        Action = "REMAINDER"
	ActionExpired         Action = "EXPIRED"
)

// Dimension is one independent append-only status log on a Party.
// A party can have entries in several dimensions at once (for example
// sent and later cancelled).
type Dimension string

const (
	DimensionSent      Dimension = "sent"
	DimensionOpened    Dimension = "opened"
	DimensionSigned    Dimension = "signed"
	DimensionDeclined  Dimension = "declined"
	DimensionCancelled Dimension = "cancelled"
	DimensionExpired   Dimension = "expired"
	DimensionReminder  Dimension = "remainder"
)

// StatusRecord is one timestamped entry in a party status log.
type StatusRecord struct {
	DateTime time.Time `json:"dateTime"`
	Context  string    `json:"context,omitempty"`
	IsSigned bool      `json:"isSigned,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// StatusLog is an ordered, append-only list of StatusRecords.
//
// Older blobs stored some dimensions as a single object rather than a
// list; UnmarshalJSON normalizes both shapes to a list so the rest of
// the engine only ever sees the list representation. The current value
// of a dimension is always the last element.
type StatusLog []StatusRecord

func (l *StatusLog) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var one StatusRecord
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*l = StatusLog{one}
		return nil
	}
	var many []StatusRecord
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// Last returns the most recent record in the log, if any.
func (l StatusLog) Last() (StatusRecord, bool) {
	if len(l) == 0 {
		return StatusRecord{}, false
	}
	return l[len(l)-1], true
}

// Party is one person in the signing sequence of a Tracking.
// List order in Tracking.Parties defines the signing sequence.
type Party struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Email    string                  `json:"email"`
	Color    string                  `json:"color,omitempty"`
	Priority int                     `json:"priority"`
	Status   map[Dimension]StatusLog `json:"status"`
}

// Append adds a record to the given status dimension.
// Records are never overwritten in place, only appended.
func (p *Party) Append(dim Dimension, rec StatusRecord) {
	if p.Status == nil {
		p.Status = make(map[Dimension]StatusLog)
	}
	p.Status[dim] = append(p.Status[dim], rec)
}

// Last returns the most recent record in the given dimension.
func (p *Party) Last(dim Dimension) (StatusRecord, bool) {
	return p.Status[dim].Last()
}

// HasSigned reports whether the party's signed log ends in a record
// with IsSigned set.
func (p *Party) HasSigned() bool {
	rec, ok := p.Last(DimensionSigned)
	return ok && rec.IsSigned
}

// FieldType identifies what a Field renders as.
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldTextarea  FieldType = "textarea"
	FieldNumber    FieldType = "number"
	FieldEmail     FieldType = "email"
	FieldDate      FieldType = "date"
	FieldSelect    FieldType = "select"
	FieldRadio     FieldType = "radio"
	FieldCheckbox  FieldType = "checkbox"
	FieldSignature FieldType = "signature"
	FieldInitial   FieldType = "initial"
	FieldDropdown  FieldType = "dropdown"
	FieldAttach    FieldType = "attach"
)

// SignatureStyle distinguishes image-captured from font-rendered
// signatures.
type SignatureStyle string

const (
	StyleDrawn SignatureStyle = "drawn"
	StyleTyped SignatureStyle = "typed"
)

// Field is a placeable region on a document page, owned by exactly one
// party. Geometry is UI-relative; the renderer scales it to the actual
// page size.
type Field struct {
	ID       string         `json:"id"`
	Type     FieldType      `json:"type"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Width    float64        `json:"width"`
	Height   float64        `json:"height"`
	Page     int            `json:"page"`
	PartyID  string         `json:"partyId"`
	Style    SignatureStyle `json:"style,omitempty"`
	Font     string         `json:"font,omitempty"`
	FontSize float64        `json:"fontSize,omitempty"`
	Value    string         `json:"value,omitempty"`
	Signed   bool           `json:"signed"`
	SignedAt *time.Time     `json:"signed_at,omitempty"`
}

// TrackingState is the tracking-level lifecycle record.
type TrackingState struct {
	Status   TrackingStatus `json:"status"`
	DateTime time.Time      `json:"dateTime"`
	Context  string         `json:"context,omitempty"`
}

// CancellationRecord records who cancelled a tracking and why.
type CancellationRecord struct {
	By       string    `json:"by"`
	Reason   string    `json:"reason,omitempty"`
	DateTime time.Time `json:"dateTime"`
}

// Tracking is one instance of a document sent out for signature.
// It is created once at initiation and never deleted; terminal
// statuses end its life.
type Tracking struct {
	TrackingID     string               `json:"tracking_id"`
	DocumentID     string               `json:"document_id"`
	Parties        []Party              `json:"parties"`
	Fields         []Field              `json:"fields"`
	TrackingStatus TrackingState        `json:"tracking_status"`
	ValidityDate   time.Time            `json:"validityDate"`
	Remainder      int                  `json:"remainder"` // reminder cadence, days
	Holder         string               `json:"holder"`
	EmailResponse  string               `json:"email_response,omitempty"`
	CCEmails       []string             `json:"cc_emails,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	CancelledBy    []CancellationRecord `json:"cancelled_by,omitempty"`
}

// PartyIndex returns the position of the party with the given id, or -1.
func (t *Tracking) PartyIndex(partyID string) int {
	for i := range t.Parties {
		if t.Parties[i].ID == partyID {
			return i
		}
	}
	return -1
}

// Party returns a pointer to the party with the given id, or nil.
func (t *Tracking) Party(partyID string) *Party {
	if i := t.PartyIndex(partyID); i >= 0 {
		return &t.Parties[i]
	}
	return nil
}

// FirstUnsignedParty returns the first party in sequence order whose
// signed log has no completing entry, or (nil, -1) when everyone has
// signed.
func (t *Tracking) FirstUnsignedParty() (*Party, int) {
	for i := range t.Parties {
		if !t.Parties[i].HasSigned() {
			return &t.Parties[i], i
		}
	}
	return nil, -1
}

// AllPartiesSigned reports whether every party's signed log ends in a
// completing entry. Completion of the tracking requires this.
func (t *Tracking) AllPartiesSigned() bool {
	if len(t.Parties) == 0 {
		return false
	}
	for i := range t.Parties {
		if !t.Parties[i].HasSigned() {
			return false
		}
	}
	return true
}

// FieldsOwnedBy returns the indexes of all fields owned by the party.
func (t *Tracking) FieldsOwnedBy(partyID string) []int {
	var idx []int
	for i := range t.Fields {
		if t.Fields[i].PartyID == partyID {
			idx = append(idx, i)
		}
	}
	return idx
}

// TrackingDigest is the per-tracking entry in a DocumentSummary.
type TrackingDigest struct {
	Status    TrackingStatus `json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SummaryCounts aggregates tracking statuses for one document.
type SummaryCounts struct {
	TotalTrackings int                    `json:"total_trackings"`
	StatusCounts   map[TrackingStatus]int `json:"status_counts"`
}

// DocumentSummary is the derived per-document rollup of all trackings.
// It is rebuilt on every tracking status change and is never the
// source of truth for a single tracking's detail.
type DocumentSummary struct {
	DocumentID string                    `json:"document_id"`
	Trackings  map[string]TrackingDigest `json:"trackings"`
	Summary    SummaryCounts             `json:"summary"`
}

// SetTracking records the latest status for one tracking and rebuilds
// the counts.
func (d *DocumentSummary) SetTracking(trackingID string, status TrackingStatus, at time.Time) {
	if d.Trackings == nil {
		d.Trackings = make(map[string]TrackingDigest)
	}
	d.Trackings[trackingID] = TrackingDigest{Status: status, UpdatedAt: at}

	counts := make(map[TrackingStatus]int, len(d.Trackings))
	for _, dig := range d.Trackings {
		counts[dig.Status]++
	}
	d.Summary = SummaryCounts{
		TotalTrackings: len(d.Trackings),
		StatusCounts:   counts,
	}
}

// JobAction is the kind of work a ScheduledJob carries.
type JobAction string

const (
	JobReminder  JobAction = "reminder"
	JobSendEmail JobAction = "send_email"
)

// JobStatus is the lifecycle state of a ScheduledJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ScheduledJob is deferred work owned by the scheduler collaborator:
// created pending, executed at or after ScheduleTime, then completed
// or rescheduled with an incremented retry count until MaxRetries,
// after which it is permanently failed and surfaced to an operator.
type ScheduledJob struct {
	JobID        string        `json:"job_id"`
	Tenant       string        `json:"tenant,omitempty"`
	DocumentID   string        `json:"document_id"`
	TrackingID   string        `json:"tracking_id"`
	Action       JobAction     `json:"action"`
	ScheduleTime time.Time     `json:"schedule_time"`
	Status       JobStatus     `json:"status"`
	Retries      int           `json:"retries"`
	MaxRetries   int           `json:"max_retries"`
	RetryDelay   time.Duration `json:"retry_delay"`
}

// SignatureRecord is the durable per-party record of how a signature
// was produced. It is written when a signature field is rendered,
// independently of the PDF bytes, and is the canonical input for
// certificate generation.
type SignatureRecord struct {
	PartyID   string         `json:"party_id"`
	Style     SignatureStyle `json:"style"`
	Artifact  []byte         `json:"artifact"` // PNG bytes
	CreatedAt time.Time      `json:"created_at"`
}

// CertificateSigner is one party's entry on a completion certificate.
type CertificateSigner struct {
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Style    SignatureStyle `json:"style"`
	SignedAt time.Time      `json:"signed_at"`
	Artifact []byte         `json:"artifact,omitempty"`
}

// CertificateData is the structured input to the certificate renderer.
type CertificateData struct {
	DocumentID  string              `json:"document_id"`
	TrackingID  string              `json:"tracking_id"`
	PageCount   int                 `json:"page_count"`
	FinalHash   string              `json:"final_hash"` // sha256 of the signed bytes, hex
	CompletedAt time.Time           `json:"completed_at"`
	Signers     []CertificateSigner `json:"signers"`
}

// Identity is a caller identity with its tenant routing resolved.
//
// Identities arrive as either "tenant#user@example.com", where the
// segment before '#' routes to a tenant, or as a bare address, in
// which case the mail domain is the tenant.
type Identity struct {
	Tenant string
	Email  string
}

// ParseIdentity resolves the tenant routing segment of an identity
// string. The returned Email never carries the routing prefix.
func ParseIdentity(s string) Identity {
	if i := strings.Index(s, "#"); i > 0 {
		return Identity{Tenant: s[:i], Email: s[i+1:]}
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		return Identity{Tenant: s[i+1:], Email: s}
	}
	return Identity{Tenant: s, Email: s}
}
