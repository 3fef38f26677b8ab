package api

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine. Anything that corrupts
// tracking correctness fails fast with one of these; cosmetic
// degradations (fonts, timestamps, counters) are reported through the
// observer instead and never surface here.
var (
	// ErrTrackingNotFound is returned when no tracking record exists
	// for a (document_id, tracking_id) pair. Not retried.
	ErrTrackingNotFound = errors.New("tracking not found")

	// ErrDocumentNotFound is returned when no document summary record
	// exists for a document_id. Not retried.
	ErrDocumentNotFound = errors.New("document summary not found")

	// ErrBlobNotFound is returned by BlobStore.Get for a missing key.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrNoMatchingFields is returned by a submission in which none of
	// the submitted field ids belong to the submitting party.
	ErrNoMatchingFields = errors.New("no submitted fields belong to party")

	// ErrPartyNotFound is returned when an action names a party id that
	// is not part of the tracking.
	ErrPartyNotFound = errors.New("party not found in tracking")

	// ErrPartyRequired is returned when an action needs a party id and
	// none was given.
	ErrPartyRequired = errors.New("action requires a party id")

	// ErrLockNotHeld is returned by store write methods called without
	// a valid lock handle. This is a programming error in the caller,
	// not a runtime race: every read-modify-write cycle must run under
	// the distributed lock.
	ErrLockNotHeld = errors.New("mutation attempted without holding the lock")

	// ErrLockUnavailable is returned by LockManager.Acquire when the
	// key is already leased.
	ErrLockUnavailable = errors.New("lock unavailable")

	// ErrTimestampUnavailable indicates every configured timestamp
	// authority was unreachable. Signing degrades rather than failing.
	ErrTimestampUnavailable = errors.New("no timestamp authority reachable")

	// ErrJobNotFound is returned by the scheduler for an unknown job id.
	ErrJobNotFound = errors.New("scheduled job not found")
)

// SigningConfigError indicates no usable signing certificate is
// configured. It is fatal and should trigger an operational alert.
type SigningConfigError struct {
	Reason string
	Err    error
}

func (e *SigningConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signing config: %s: %v", e.Reason, e.Err)
	}
	return "signing config: " + e.Reason
}

func (e *SigningConfigError) Unwrap() error { return e.Err }

// IsSigningConfigError reports whether err is a SigningConfigError.
func IsSigningConfigError(err error) bool {
	var sce *SigningConfigError
	return errors.As(err, &sce)
}

// ValidationError wraps a rejected input with the field or parameter
// that failed.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
