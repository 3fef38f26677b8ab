// Package api defines the public types and collaborator contracts of
// the signflow engine.
//
// It contains:
//
//   - the data model: Tracking, Party, Field, DocumentSummary,
//     ScheduledJob, SignatureRecord, CertificateData
//   - the action and status vocabularies interpreted by the tracking
//     state machine
//   - the error taxonomy
//   - interfaces for the external collaborators the engine consumes:
//     BlobStore, Cipher, LockManager, TokenIssuer, Notifier, Scheduler,
//     CertificateRenderer, Clock
//   - TrackingObserver and its standard implementations for logging
//     and metrics
//
// Implementations live under internal/; applications wire them through
// the root signflow package.
package api
