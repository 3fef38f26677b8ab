package api

import (
	"context"
	"time"
)

// BlobStore is the remote object store holding all engine state as
// JSON blobs addressed by deterministic keys. It offers no locking or
// optimistic-concurrency primitives; every read-modify-write cycle
// against it must run under a LockManager lease.
type BlobStore interface {
	// Get returns the blob at key, or ErrBlobNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data at key, overwriting any previous value.
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error

	// Delete removes the blob at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Copy duplicates the blob at src to dst.
	Copy(ctx context.Context, src, dst string) error
}

// Cipher is the per-tenant symmetric cipher applied to metadata blobs
// at the storage boundary. Key resolution (including tenant key
// delegation) happens outside the engine.
type Cipher interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(enc []byte) ([]byte, error)
}

// NoopCipher passes payloads through unchanged. Useful for tests and
// for tenants without encryption enabled.
type NoopCipher struct{}

func (NoopCipher) Encrypt(plain []byte) ([]byte, error) { return plain, nil }
func (NoopCipher) Decrypt(enc []byte) ([]byte, error)   { return enc, nil }

// LockHandle is an opaque proof that a lease is held. Store write
// methods require one; passing nil is ErrLockNotHeld.
type LockHandle interface {
	// Key is the lock key this handle leases.
	Key() string
	// Token is the fencing token for the lease.
	Token() string
}

// LockManager is the external mutual-exclusion mechanism keyed by
// operation-specific templates such as "sign:{document_id}:{tracking_id}".
// Leases are bounded so a crashed holder cannot deadlock the system.
type LockManager interface {
	// Acquire leases key for ttl, or returns ErrLockUnavailable.
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)

	// Release ends the lease. Releasing an expired lease is not an error.
	Release(ctx context.Context, handle LockHandle) error
}

// Token is a signing token issued to one party.
type Token struct {
	Value      string
	ValidUntil time.Time
}

// TokenRequest asks the issuer for a signing token.
type TokenRequest struct {
	PartyID      string
	DocumentID   string
	TrackingID   string
	Validity     time.Time
	ReminderDays int
}

// TokenIssuer mints signing tokens. Implementation is external.
type TokenIssuer interface {
	Issue(ctx context.Context, req TokenRequest) (Token, error)
}

// Notifier delivers outbound mail. Failures from CANCELLED/DECLINED
// notifications are observed and swallowed; failures delivering a
// signing link surface to the caller.
type Notifier interface {
	// SendSigningLink delivers a signing invitation to one party.
	SendSigningLink(ctx context.Context, tenant string, t *Tracking, party Party, token Token) error

	// SendReminder nudges a party that has not signed yet.
	SendReminder(ctx context.Context, tenant string, t *Tracking, party Party, token Token) error

	// SendCompleted delivers the final signed document and certificate
	// to every party once the tracking completes.
	SendCompleted(ctx context.Context, tenant string, t *Tracking, signed, certificate []byte) error

	// SendStatusNotice informs the holder of a cancellation or decline.
	SendStatusNotice(ctx context.Context, tenant string, t *Tracking, action Action, reason string) error
}

// Scheduler is the contract the job-queue collaborator must satisfy.
type Scheduler interface {
	// Schedule persists a pending job for later execution.
	Schedule(ctx context.Context, job ScheduledJob) error

	// HasCompletedReminder reports whether a completed reminder job
	// already exists for the given tracking, so token issuance does not
	// double-schedule reminders.
	HasCompletedReminder(ctx context.Context, documentID, trackingID string) (bool, error)
}

// CertificateRenderer turns structured completion data into a rendered
// certificate document.
type CertificateRenderer interface {
	Render(ctx context.Context, data CertificateData) ([]byte, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
