package backend

import "errors"

// Sentinel errors for backend operations.
var (
	// ErrServiceNotFound indicates that no service is registered under a name.
	ErrServiceNotFound = errors.New("service not found")

	// ErrNoHealthyInstance indicates that a service has no instance to route to.
	ErrNoHealthyInstance = errors.New("no healthy instance available")

	// ErrInvalidService indicates that a descriptor failed validation.
	ErrInvalidService = errors.New("invalid service descriptor")

	// ErrInvalidURL indicates that a base or instance URL could not be used.
	ErrInvalidURL = errors.New("invalid service URL")
)
