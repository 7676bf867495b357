package shared

import "errors"

// Error kinds shared by the domain packages. Package level sentinels wrap one
// of these with %w so the HTTP layer can branch with errors.Is.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates the actor lacks access to the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates no actor could be resolved for the request.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidState indicates the operation is not allowed in the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrCycleLocked indicates a write against a cycle whose inventory is closed.
	ErrCycleLocked = errors.New("cycle locked")
	// ErrDuplicate indicates a duplicate request or entry.
	ErrDuplicate = errors.New("duplicate entry")
)
