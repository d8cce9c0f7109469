package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a status transition is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrGuardFailed is returned when every guard for an action fails
	ErrGuardFailed = errors.New("guard condition failed")
)
