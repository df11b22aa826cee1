package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a status change is not allowed from the current status
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGuardFailed is returned when every guarded candidate of a trigger refused
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrInvalidDefinition is returned when a serialized definition cannot be turned into a chain
	ErrInvalidDefinition = errors.New("invalid workflow definition")
)
