package domain

import "errors"

var (
	// ErrStoreUnavailable marks failures of the backing store itself; the caller decides whether to retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEnrichmentFailed wraps translation errors; it never leaves the worker.
	ErrEnrichmentFailed = errors.New("enrichment failed")

	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskNotPending    = errors.New("task is not pending")
	ErrInvalidTransition = errors.New("invalid task status transition")
)
