package domain

import "errors"

var (
	// ErrValidation marks malformed or out-of-range input. It never leaves
	// partial state behind.
	ErrValidation = errors.New("validation error")

	// ErrInvalidStatus marks a transition the aggregate state machine does
	// not permit.
	ErrInvalidStatus = errors.New("invalid status transition")
)
