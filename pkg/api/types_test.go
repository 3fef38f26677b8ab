package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusLogNormalizesSingleRecord(t *testing.T) {
	// Older blobs stored some dimensions as a single object.
	blob := []byte(`{
		"id": "p1",
		"name": "Alice",
		"email": "alice@example.com",
		"priority": 1,
		"status": {
			"sent": [{"dateTime": "2026-01-02T10:00:00Z"}],
			"declined": {"dateTime": "2026-01-03T09:00:00Z", "reason": "typo in terms"}
		}
	}`)

	var p Party
	require.NoError(t, json.Unmarshal(blob, &p))

	require.Len(t, p.Status[DimensionSent], 1)
	require.Len(t, p.Status[DimensionDeclined], 1)
	require.Equal(t, "typo in terms", p.Status[DimensionDeclined][0].Reason)

	// Round-trips as a list.
	out, err := json.Marshal(p)
	require.NoError(t, err)
	var again Party
	require.NoError(t, json.Unmarshal(out, &again))
	require.Len(t, again.Status[DimensionDeclined], 1)
}

func TestPartyAppendAndLast(t *testing.T) {
	var p Party

	_, ok := p.Last(DimensionOpened)
	require.False(t, ok)

	first := StatusRecord{DateTime: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	second := StatusRecord{DateTime: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC), Context: "otp"}
	p.Append(DimensionOpened, first)
	p.Append(DimensionOpened, second)

	require.Len(t, p.Status[DimensionOpened], 2)
	last, ok := p.Last(DimensionOpened)
	require.True(t, ok)
	require.Equal(t, "otp", last.Context)
}

func TestPartyHasSigned(t *testing.T) {
	var p Party
	require.False(t, p.HasSigned())

	p.Append(DimensionSigned, StatusRecord{DateTime: time.Now(), IsSigned: false})
	require.False(t, p.HasSigned())

	p.Append(DimensionSigned, StatusRecord{DateTime: time.Now(), IsSigned: true})
	require.True(t, p.HasSigned())
}

func TestTrackingPartyHelpers(t *testing.T) {
	tr := Tracking{
		Parties: []Party{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}},
	}

	require.Equal(t, 1, tr.PartyIndex("p2"))
	require.Equal(t, -1, tr.PartyIndex("nope"))
	require.Nil(t, tr.Party("nope"))

	tr.Parties[0].Append(DimensionSigned, StatusRecord{IsSigned: true})
	party, idx := tr.FirstUnsignedParty()
	require.Equal(t, 1, idx)
	require.Equal(t, "p2", party.ID)
	require.False(t, tr.AllPartiesSigned())

	tr.Parties[1].Append(DimensionSigned, StatusRecord{IsSigned: true})
	tr.Parties[2].Append(DimensionSigned, StatusRecord{IsSigned: true})
	require.True(t, tr.AllPartiesSigned())
	_, idx = tr.FirstUnsignedParty()
	require.Equal(t, -1, idx)
}

func TestAllPartiesSignedEmptyTracking(t *testing.T) {
	var tr Tracking
	require.False(t, tr.AllPartiesSigned())
}

func TestFieldsOwnedBy(t *testing.T) {
	tr := Tracking{
		Fields: []Field{
			{ID: "f1", PartyID: "p1"},
			{ID: "f2", PartyID: "p2"},
			{ID: "f3", PartyID: "p1"},
		},
	}
	require.Equal(t, []int{0, 2}, tr.FieldsOwnedBy("p1"))
	require.Nil(t, tr.FieldsOwnedBy("p9"))
}

func TestDocumentSummarySetTracking(t *testing.T) {
	var d DocumentSummary
	now := time.Now().UTC()

	d.SetTracking("t1", StatusInProgress, now)
	d.SetTracking("t2", StatusCompleted, now)
	require.Equal(t, 2, d.Summary.TotalTrackings)
	require.Equal(t, 1, d.Summary.StatusCounts[StatusInProgress])

	// Re-setting the same tracking replaces rather than double-counts.
	d.SetTracking("t1", StatusCancelled, now)
	require.Equal(t, 2, d.Summary.TotalTrackings)
	require.Equal(t, 0, d.Summary.StatusCounts[StatusInProgress])
	require.Equal(t, 1, d.Summary.StatusCounts[StatusCancelled])
}

func TestTrackingStatusTerminal(t *testing.T) {
	require.False(t, StatusInProgress.Terminal())
	for _, s := range []TrackingStatus{StatusCompleted, StatusCancelled, StatusDeclined, StatusExpired} {
		require.True(t, s.Terminal(), string(s))
	}
}

func TestParseIdentity(t *testing.T) {
	cases := []struct {
		in     string
		tenant string
		email  string
	}{
		{"acme#alice@example.com", "acme", "alice@example.com"},
		{"alice@example.com", "example.com", "alice@example.com"},
		{"acme", "acme", "acme"},
	}
	for _, c := range cases {
		id := ParseIdentity(c.in)
		require.Equal(t, c.tenant, id.Tenant, c.in)
		require.Equal(t, c.email, id.Email, c.in)
	}
}
