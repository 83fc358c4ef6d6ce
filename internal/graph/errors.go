package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for the graph subsystem. Callers classify failures with
// errors.Is rather than by concrete type.
var (
	// ErrNotFound indicates a referenced node is missing or tombstoned.
	ErrNotFound = errors.New("node not found")

	// ErrIngestion indicates an event could not be mapped to any mutation.
	// Ingestion-path errors are logged and the event is dropped; they never
	// block the pipeline.
	ErrIngestion = errors.New("event not ingestible")

	// ErrBudgetExceeded signals a traversal was truncated by its visitation
	// budget. Non-fatal: truncated output is still valid.
	ErrBudgetExceeded = errors.New("traversal budget exceeded")

	// ErrStoreUnavailable indicates the underlying persistence layer is
	// unreachable. Retry-with-backoff is the caller's choice, not ours.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// NotFoundError wraps ErrNotFound with the offending node ID.
func NotFoundError(nodeID string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, nodeID)
}

// IngestionError wraps ErrIngestion with the event ID and reason.
func IngestionError(eventID, reason string) error {
	return fmt.Errorf("%w: event %s: %s", ErrIngestion, eventID, reason)
}
