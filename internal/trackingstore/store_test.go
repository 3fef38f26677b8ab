package trackingstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/averros/signflow/internal/blob"
	"github.com/averros/signflow/internal/lock"
	"github.com/averros/signflow/pkg/api"
)

func newTestStore(t *testing.T) (*Store, api.LockHandle) {
	t.Helper()

	s := New(blob.NewMemoryStore(), nil)
	mgr := lock.NewMemoryManager(nil)
	h, err := mgr.Acquire(context.Background(), "sign:d1:t1", 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	return s, h
}

func sampleTracking() *api.Tracking {
	return &api.Tracking{
		TrackingID: "t1",
		DocumentID: "d1",
		Parties: []api.Party{
			{ID: "p1", Name: "Alice", Email: "alice@example.com", Priority: 1},
			{ID: "p2", Name: "Bob", Email: "bob@example.com", Priority: 2},
		},
		Fields: []api.Field{
			{ID: "f1", Type: api.FieldSignature, PartyID: "p1", Page: 1, X: 10, Y: 20, Width: 120, Height: 40},
		},
		TrackingStatus: api.TrackingState{Status: api.StatusInProgress, DateTime: time.Now().UTC()},
		CreatedAt:      time.Now().UTC(),
	}
}

func TestTrackingRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, h := newTestStore(t)

	in := sampleTracking()
	in.Parties[0].Append(api.DimensionSent, api.StatusRecord{DateTime: time.Now().UTC()})

	if err := s.PutTracking(ctx, h, "acme", in); err != nil {
		t.Fatalf("PutTracking failed: %v", err)
	}

	out, err := s.GetTracking(ctx, "acme", "d1", "t1")
	if err != nil {
		t.Fatalf("GetTracking failed: %v", err)
	}
	if out.TrackingID != "t1" || len(out.Parties) != 2 {
		t.Fatalf("unexpected tracking: %+v", out)
	}
	if len(out.Parties[0].Status[api.DimensionSent]) != 1 {
		t.Fatalf("sent log lost in round trip")
	}
}

func TestGetTrackingNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetTracking(context.Background(), "acme", "d1", "missing")
	if !errors.Is(err, api.ErrTrackingNotFound) {
		t.Fatalf("expected ErrTrackingNotFound, got %v", err)
	}
}

func TestWritesRequireLock(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.PutTracking(ctx, nil, "acme", sampleTracking()); !errors.Is(err, api.ErrLockNotHeld) {
		t.Fatalf("PutTracking without lock: expected ErrLockNotHeld, got %v", err)
	}
	if err := s.UpdateSummary(ctx, nil, "acme", "d1", "t1", api.StatusInProgress, time.Now()); !errors.Is(err, api.ErrLockNotHeld) {
		t.Fatalf("UpdateSummary without lock: expected ErrLockNotHeld, got %v", err)
	}
	if err := s.PutSignedArtifact(ctx, nil, "acme", "d1", "t1", []byte("pdf")); !errors.Is(err, api.ErrLockNotHeld) {
		t.Fatalf("PutSignedArtifact without lock: expected ErrLockNotHeld, got %v", err)
	}
	if err := s.PutSignatureRecord(ctx, nil, "acme", "t1", api.SignatureRecord{PartyID: "p1"}); !errors.Is(err, api.ErrLockNotHeld) {
		t.Fatalf("PutSignatureRecord without lock: expected ErrLockNotHeld, got %v", err)
	}
	if err := s.PutCertificate(ctx, nil, "acme", "d1", "t1", []byte("pdf")); !errors.Is(err, api.ErrLockNotHeld) {
		t.Fatalf("PutCertificate without lock: expected ErrLockNotHeld, got %v", err)
	}
}

func TestUpdateSummaryCreatesAndRebuilds(t *testing.T) {
	ctx := context.Background()
	s, h := newTestStore(t)
	now := time.Now().UTC()

	// First update creates the summary blob.
	if err := s.UpdateSummary(ctx, h, "acme", "d1", "t1", api.StatusInProgress, now); err != nil {
		t.Fatalf("UpdateSummary failed: %v", err)
	}
	d, err := s.GetDocumentSummary(ctx, "acme", "d1")
	if err != nil {
		t.Fatalf("GetDocumentSummary failed: %v", err)
	}
	if d.Summary.TotalTrackings != 1 || d.Summary.StatusCounts[api.StatusInProgress] != 1 {
		t.Fatalf("unexpected summary: %+v", d.Summary)
	}

	// Status change for the same tracking rebuilds, not double-counts.
	if err := s.UpdateSummary(ctx, h, "acme", "d1", "t1", api.StatusCompleted, now); err != nil {
		t.Fatalf("UpdateSummary failed: %v", err)
	}
	if err := s.UpdateSummary(ctx, h, "acme", "d1", "t2", api.StatusInProgress, now); err != nil {
		t.Fatalf("UpdateSummary failed: %v", err)
	}
	d, err = s.GetDocumentSummary(ctx, "acme", "d1")
	if err != nil {
		t.Fatalf("GetDocumentSummary failed: %v", err)
	}
	if d.Summary.TotalTrackings != 2 {
		t.Fatalf("expected 2 trackings, got %d", d.Summary.TotalTrackings)
	}
	if d.Summary.StatusCounts[api.StatusCompleted] != 1 || d.Summary.StatusCounts[api.StatusInProgress] != 1 {
		t.Fatalf("unexpected counts: %+v", d.Summary.StatusCounts)
	}
}

func TestGetDocumentSummaryNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetDocumentSummary(context.Background(), "acme", "missing")
	if !errors.Is(err, api.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestSignatureRecords(t *testing.T) {
	ctx := context.Background()
	s, h := newTestStore(t)

	rec1 := api.SignatureRecord{PartyID: "p1", Style: api.StyleDrawn, Artifact: []byte{0x89, 'P', 'N', 'G'}, CreatedAt: time.Now().UTC()}
	rec2 := api.SignatureRecord{PartyID: "p2", Style: api.StyleTyped, Artifact: []byte{0x89, 'P', 'N', 'G'}, CreatedAt: time.Now().UTC()}

	if err := s.PutSignatureRecord(ctx, h, "acme", "t1", rec1); err != nil {
		t.Fatalf("PutSignatureRecord failed: %v", err)
	}
	if err := s.PutSignatureRecord(ctx, h, "acme", "t1", rec2); err != nil {
		t.Fatalf("PutSignatureRecord failed: %v", err)
	}

	got, err := s.GetSignatureRecord(ctx, "acme", "t1", "p1")
	if err != nil {
		t.Fatalf("GetSignatureRecord failed: %v", err)
	}
	if got.Style != api.StyleDrawn {
		t.Fatalf("expected drawn, got %s", got.Style)
	}

	all, err := s.ListSignatureRecords(ctx, "acme", "t1")
	if err != nil {
		t.Fatalf("ListSignatureRecords failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
}

func TestCipherAppliedToMetadata(t *testing.T) {
	ctx := context.Background()
	mem := blob.NewMemoryStore()
	s := New(mem, xorCipher{key: 0x5a})
	mgr := lock.NewMemoryManager(nil)
	h, _ := mgr.Acquire(ctx, "sign:d1:t1", 10*time.Second)

	if err := s.PutTracking(ctx, h, "acme", sampleTracking()); err != nil {
		t.Fatalf("PutTracking failed: %v", err)
	}

	// Raw blob must not be readable JSON.
	raw, err := mem.Get(ctx, Keys{Tenant: "acme"}.Tracking("d1", "t1"))
	if err != nil {
		t.Fatalf("raw Get failed: %v", err)
	}
	if raw[0] == '{' {
		t.Fatalf("metadata stored unencrypted")
	}

	// But the store decrypts transparently.
	out, err := s.GetTracking(ctx, "acme", "d1", "t1")
	if err != nil {
		t.Fatalf("GetTracking failed: %v", err)
	}
	if out.DocumentID != "d1" {
		t.Fatalf("unexpected tracking: %+v", out)
	}
}

type xorCipher struct{ key byte }

func (c xorCipher) Encrypt(plain []byte) ([]byte, error) {
	out := make([]byte, len(plain))
	for i, b := range plain {
		out[i] = b ^ c.key
	}
	return out, nil
}

func (c xorCipher) Decrypt(enc []byte) ([]byte, error) { return c.Encrypt(enc) }

func TestArtifactsAndCertificates(t *testing.T) {
	ctx := context.Background()
	s, h := newTestStore(t)

	if err := s.PutSignedArtifact(ctx, h, "acme", "d1", "t1", []byte("%PDF-signed")); err != nil {
		t.Fatalf("PutSignedArtifact failed: %v", err)
	}
	got, err := s.GetSignedArtifact(ctx, "acme", "d1", "t1")
	if err != nil || string(got) != "%PDF-signed" {
		t.Fatalf("artifact round trip failed: %s, %v", got, err)
	}

	if err := s.PutCertificate(ctx, h, "acme", "d1", "t1", []byte("%PDF-cert")); err != nil {
		t.Fatalf("PutCertificate failed: %v", err)
	}
	cert, err := s.GetCertificate(ctx, "acme", "d1", "t1")
	if err != nil || string(cert) != "%PDF-cert" {
		t.Fatalf("certificate round trip failed: %s, %v", cert, err)
	}
}
