// Package trackingstore persists tracking records, document summaries,
// signature records and signed artifacts as JSON blobs in the blob
// store.
//
// The blob store offers no transactions or locking, so every mutating
// method here requires an api.LockHandle: the caller must hold the
// operation's distributed lock for the whole read-modify-write cycle.
// Calling a write method without one is a programming error and fails
// with api.ErrLockNotHeld.
package trackingstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/averros/signflow/pkg/api"
)

// Store reads and writes engine state for all tenants.
// Metadata blobs pass through the per-tenant cipher at this boundary;
// binary artifacts (signed PDFs, certificates) are stored as-is.
type Store struct {
	blobs  api.BlobStore
	cipher api.Cipher
}

// TenantCounters is the tenant-wide rollup blob rebuilt asynchronously
// after every tracking mutation.
type TenantCounters struct {
	TotalDocuments int                        `json:"total_documents"`
	TotalTrackings int                        `json:"total_trackings"`
	StatusCounts   map[api.TrackingStatus]int `json:"status_counts"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// New creates a Store. A nil cipher disables metadata encryption.
func New(blobs api.BlobStore, cipher api.Cipher) *Store {
	if cipher == nil {
		cipher = api.NoopCipher{}
	}
	return &Store{blobs: blobs, cipher: cipher}
}

func guard(lock api.LockHandle) error {
	if lock == nil || lock.Key() == "" {
		return api.ErrLockNotHeld
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	enc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return err
	}
	plain, err := s.cipher.Decrypt(enc)
	if err != nil {
		return fmt.Errorf("decrypt %s: %w", key, err)
	}
	return json.Unmarshal(plain, v)
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	plain, err := json.Marshal(v)
	if err != nil {
		return err
	}
	enc, err := s.cipher.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", key, err)
	}
	return s.blobs.Put(ctx, key, enc, map[string]string{"content-type": "application/json"})
}

// GetTracking loads the tracking record for (documentID, trackingID).
func (s *Store) GetTracking(ctx context.Context, tenant, documentID, trackingID string) (*api.Tracking, error) {
	keys := Keys{Tenant: tenant}
	var t api.Tracking
	if err := s.getJSON(ctx, keys.Tracking(documentID, trackingID), &t); err != nil {
		if errors.Is(err, api.ErrBlobNotFound) {
			return nil, api.ErrTrackingNotFound
		}
		return nil, err
	}
	return &t, nil
}

// PutTracking persists a tracking record. The caller must hold the lock.
func (s *Store) PutTracking(ctx context.Context, lock api.LockHandle, tenant string, t *api.Tracking) error {
	if err := guard(lock); err != nil {
		return err
	}
	keys := Keys{Tenant: tenant}
	return s.putJSON(ctx, keys.Tracking(t.DocumentID, t.TrackingID), t)
}

// GetDocumentSummary loads the per-document rollup.
func (s *Store) GetDocumentSummary(ctx context.Context, tenant, documentID string) (*api.DocumentSummary, error) {
	keys := Keys{Tenant: tenant}
	var d api.DocumentSummary
	if err := s.getJSON(ctx, keys.Document(documentID), &d); err != nil {
		if errors.Is(err, api.ErrBlobNotFound) {
			return nil, api.ErrDocumentNotFound
		}
		return nil, err
	}
	return &d, nil
}

// PutDocumentSummary persists the per-document rollup.
func (s *Store) PutDocumentSummary(ctx context.Context, lock api.LockHandle, tenant string, d *api.DocumentSummary) error {
	if err := guard(lock); err != nil {
		return err
	}
	keys := Keys{Tenant: tenant}
	return s.putJSON(ctx, keys.Document(d.DocumentID), d)
}

// UpdateSummary rebuilds the document summary entry for one tracking,
// creating the summary blob on first use.
func (s *Store) UpdateSummary(ctx context.Context, lock api.LockHandle, tenant, documentID, trackingID string, status api.TrackingStatus, at time.Time) error {
	if err := guard(lock); err != nil {
		return err
	}

	d, err := s.GetDocumentSummary(ctx, tenant, documentID)
	if errors.Is(err, api.ErrDocumentNotFound) {
		d = &api.DocumentSummary{DocumentID: documentID}
	} else if err != nil {
		return err
	}

	d.SetTracking(trackingID, status, at)
	return s.PutDocumentSummary(ctx, lock, tenant, d)
}

// ListDocumentSummaries loads every document summary of the tenant.
// Used by the asynchronous counter recomputation.
func (s *Store) ListDocumentSummaries(ctx context.Context, tenant string) ([]*api.DocumentSummary, error) {
	keys := Keys{Tenant: tenant}
	blobKeys, err := s.blobs.List(ctx, keys.DocumentPrefix())
	if err != nil {
		return nil, err
	}

	summaries := make([]*api.DocumentSummary, 0, len(blobKeys))
	for _, k := range blobKeys {
		var d api.DocumentSummary
		if err := s.getJSON(ctx, k, &d); err != nil {
			return nil, err
		}
		summaries = append(summaries, &d)
	}
	return summaries, nil
}

// PutCounters persists the tenant-wide counter rollup.
func (s *Store) PutCounters(ctx context.Context, lock api.LockHandle, tenant string, c *TenantCounters) error {
	if err := guard(lock); err != nil {
		return err
	}
	keys := Keys{Tenant: tenant}
	return s.putJSON(ctx, keys.Counters(), c)
}

// GetCounters loads the tenant-wide counter rollup.
func (s *Store) GetCounters(ctx context.Context, tenant string) (*TenantCounters, error) {
	keys := Keys{Tenant: tenant}
	var c TenantCounters
	if err := s.getJSON(ctx, keys.Counters(), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// PutSourceDocument stores the original un-rendered PDF bytes.
func (s *Store) PutSourceDocument(ctx context.Context, lock api.LockHandle, tenant, documentID string, data []byte) error {
	if err := guard(lock); err != nil {
		return err
	}
	keys := Keys{Tenant: tenant}
	return s.blobs.Put(ctx, keys.SourceDocument(documentID), data, map[string]string{"content-type": "application/pdf"})
}

// GetSourceDocument loads the original PDF bytes.
func (s *Store) GetSourceDocument(ctx context.Context, tenant, documentID string) ([]byte, error) {
	keys := Keys{Tenant: tenant}
	return s.blobs.Get(ctx, keys.SourceDocument(documentID))
}

// PutSignedArtifact stores the rendered and cryptographically signed
// PDF for one tracking.
func (s *Store) PutSignedArtifact(ctx context.Context, lock api.LockHandle, tenant, documentID, trackingID string, data []byte) error {
	if err := guard(lock); err != nil {
		return err
	}
	keys := Keys{Tenant: tenant}
	return s.blobs.Put(ctx, keys.SignedArtifact(documentID, trackingID), data, map[string]string{"content-type": "application/pdf"})
}

// GetSignedArtifact loads the signed PDF for one tracking.
func (s *Store) GetSignedArtifact(ctx context.Context, tenant, documentID, trackingID string) ([]byte, error) {
	keys := Keys{Tenant: tenant}
	return s.blobs.Get(ctx, keys.SignedArtifact(documentID, trackingID))
}

// PutSignatureRecord durably records how one party's signature was
// produced. Written by the renderer independently of the PDF bytes;
// the canonical source for certificate generation.
func (s *Store) PutSignatureRecord(ctx context.Context, lock api.LockHandle, tenant, trackingID string, rec api.SignatureRecord) error {
	if err := guard(lock); err != nil {
		return err
	}
	keys := Keys{Tenant: tenant}
	return s.putJSON(ctx, keys.SignatureRecord(trackingID, rec.PartyID), rec)
}

// GetSignatureRecord loads one party's signature record.
func (s *Store) GetSignatureRecord(ctx context.Context, tenant, trackingID, partyID string) (*api.SignatureRecord, error) {
	keys := Keys{Tenant: tenant}
	var rec api.SignatureRecord
	if err := s.getJSON(ctx, keys.SignatureRecord(trackingID, partyID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListSignatureRecords loads every signature record of a tracking.
func (s *Store) ListSignatureRecords(ctx context.Context, tenant, trackingID string) ([]api.SignatureRecord, error) {
	keys := Keys{Tenant: tenant}
	blobKeys, err := s.blobs.List(ctx, keys.SignatureRecordPrefix(trackingID))
	if err != nil {
		return nil, err
	}

	records := make([]api.SignatureRecord, 0, len(blobKeys))
	for _, k := range blobKeys {
		var rec api.SignatureRecord
		if err := s.getJSON(ctx, k, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// PutCertificate stores the rendered completion certificate.
func (s *Store) PutCertificate(ctx context.Context, lock api.LockHandle, tenant, documentID, trackingID string, data []byte) error {
	if err := guard(lock); err != nil {
		return err
	}
	keys := Keys{Tenant: tenant}
	return s.blobs.Put(ctx, keys.Certificate(documentID, trackingID), data, map[string]string{"content-type": "application/pdf"})
}

// GetCertificate loads the completion certificate for one tracking.
func (s *Store) GetCertificate(ctx context.Context, tenant, documentID, trackingID string) ([]byte, error) {
	keys := Keys{Tenant: tenant}
	return s.blobs.Get(ctx, keys.Certificate(documentID, trackingID))
}
