package provider

import "errors"

// Registry errors.
var (
	// ErrUnknownOperation is returned when no provider offers an operation.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrUnknownProvider is returned when a handle or name matches nothing.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrDuplicateProvider is returned when registering a provider name twice.
	ErrDuplicateProvider = errors.New("provider already registered")

	// ErrInvalidOperation is returned for operations without a name or body.
	ErrInvalidOperation = errors.New("invalid operation")
)
