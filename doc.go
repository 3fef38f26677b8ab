// Package signflow provides an embeddable engine for multi-party
// document signing workflows.
//
// Signflow is designed for backend services that need to run documents
// through an ordered chain of signers: it tracks who has been sent a
// link, who opened it, who signed which fields, renders submitted
// values into the PDF, applies a cryptographic signature with a
// trusted timestamp, and produces a completion certificate once the
// last party is done. State lives in a pluggable blob store behind a
// distributed lock, so several service replicas can share one engine
// safely.
//
// # Core Concepts
//
//  1. Engine
//  2. Tracking
//  3. Party and Field
//  4. Scheduled jobs
//  5. Observers
//
// # Engine
//
// The Engine is the composition root. It owns the lock discipline and
// fronts every workflow operation:
//   - initiate a tracking (immediately or at a scheduled time)
//   - accept a party's field submission and advance the chain
//   - resend links, send reminders, record opens
//   - cancel, decline, or expire a tracking
//   - read trackings, summaries, signed artifacts, and certificates
//
// Engines are built from collaborators the host application supplies:
// a BlobStore and LockManager (in-memory or Redis-backed versions
// ship with the package), a TokenIssuer that mints signing links, a
// Notifier that delivers mail, and a CertificateRenderer. The job
// queue is hosted in any database/sql compatible store.
//
// # Tracking
//
// A Tracking is one run of a document through its signers. Each party
// carries append-only status logs per dimension (sent, opened, signed,
// declined, and so on); the engine only ever appends, so the full
// history of a run stays auditable. Tracking status is recomputed from
// party state on every action, and per-document summaries and
// tenant-wide counters are kept in step.
//
// # Parties and Fields
//
// Parties sign in order: only the first party with unsigned fields
// receives a link, and completing their fields activates the next.
// Fields are typed (text, date, checkbox, signature, and others) and
// positioned in UI coordinates; at render time the engine scales them
// into PDF points and draws them onto the source document.
//
// # Scheduled jobs
//
// Deferred sends and reminder nudges run through a persistent job
// queue with bounded retries. Call RunScheduler to poll it in the
// background, or ProcessDueJobs for single-shot cron-style
// deployments.
//
// # Observers
//
// A TrackingObserver receives lifecycle events (actions applied,
// parties activated, trackings completed) and failure signals (notify
// failures, render skips, timestamp degradation). NewLoggingObserver
// logs them via log/slog; BasicMetrics counts them; both can be
// combined with NewCompositeObserver.
package signflow
