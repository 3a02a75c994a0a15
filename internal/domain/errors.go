package domain

import "errors"

// Error taxonomy shared across the scoring core and its collaborators.
// Errors are wrapped with fmt.Errorf("%w: ...") and checked with errors.Is.
var (
	// ErrValidation marks structurally invalid input
	// (missing transactionId/customerId/accountId/amount, bad rule shape).
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an unknown rule/alert/device id within a tenant.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation invalid in the current state,
	// such as reviewing an alert that already reached a terminal status.
	ErrConflict = errors.New("conflict")

	// ErrTransientLookup marks a temporarily unreachable collaborator
	// (history store, rule store). Checks hitting it are skipped fail-open.
	ErrTransientLookup = errors.New("transient lookup failure")
)
