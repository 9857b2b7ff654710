package shared

import "errors"

var (
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotAllowed indicates a business rule was violated. The wrapped
	// message is safe to surface to the caller.
	ErrNotAllowed = errors.New("not allowed")
	// ErrPersistence indicates the storage layer failed after validation
	// had already passed.
	ErrPersistence = errors.New("persistence failure")
)
