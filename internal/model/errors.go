package model

import "errors"

// Error taxonomy shared by every layer. Implementations wrap these with
// context via fmt.Errorf("...: %w", ErrX); callers classify with errors.Is.
var (
	// ErrNotFound means a referenced user, position or symbol does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means the request was rejected before any mutation,
	// e.g. an unapproved user or a non-positive quantity.
	ErrInvalidState = errors.New("invalid state")

	// ErrExternalUnavailable means a collaborator such as the price oracle
	// could not answer.
	ErrExternalUnavailable = errors.New("external service unavailable")

	// ErrConflict means a uniqueness constraint would be violated.
	ErrConflict = errors.New("already exists")

	// ErrForbidden means the caller lacks the role for the operation.
	ErrForbidden = errors.New("forbidden")
)
