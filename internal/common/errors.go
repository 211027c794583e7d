// Package common defines shared sentinel errors used across the sync core.
// Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository- and adapter-level errors.
	ErrNotFound = errors.New("not found")

	// ErrUnreachable marks a store that did not respond within its timeout.
	// It is non-fatal and triggers a fallback transition, never an abort.
	ErrUnreachable = errors.New("store unreachable")

	// ErrConflictSkipped marks a record that was already present in the
	// destination store. It counts as skipped, not as an error.
	ErrConflictSkipped = errors.New("already present, skipped")

	// ErrReconciliationUnavailable is returned when a full account or
	// identity list could not be fetched at all. The reconciliation call
	// aborts without partial application and is safe to retry later.
	ErrReconciliationUnavailable = errors.New("reconciliation unavailable")

	// ErrWriteFailed means even the local store rejected a write. This is
	// the only write-path error surfaced to callers.
	ErrWriteFailed = errors.New("write failed in all stores")
)
