package domain

import "errors"

var (
	// ErrValidation marks client input that can never succeed as-is.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a state transition that lost a race or is not allowed.
	ErrConflict = errors.New("conflict")
)
