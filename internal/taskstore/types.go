package taskstore

import "errors"

// Errors returned by Client methods. Callers (the job submission
// adapter in particular) branch on these with errors.Is to decide
// between retrying, opening the circuit breaker, or failing a task
// permanently without retry.
var (
	// ErrNotFound means the task or job id does not exist.
	ErrNotFound = errors.New("taskstore: not found")

	// ErrPermissionDenied means the configured bearer token was rejected
	// or lacks scope for the operation.
	ErrPermissionDenied = errors.New("taskstore: permission denied")

	// ErrTransient means the request failed in a way a retry might
	// resolve (5xx, 429, connection reset).
	ErrTransient = errors.New("taskstore: transient failure")

	// ErrPermanent means the request was rejected for a reason a retry
	// will not fix (validation error, conflict).
	ErrPermanent = errors.New("taskstore: permanent failure")
)
