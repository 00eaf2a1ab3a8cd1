// Package domain contains domain models and business logic errors.
package domain

import "errors"

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPermissionDenied is returned when the actor lacks permission for an operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConflict is returned when an operation conflicts with current state,
	// e.g. a status transition from a terminal state.
	ErrConflict = errors.New("conflict with current state")

	// ErrUnavailable is returned when a backing service is unavailable.
	ErrUnavailable = errors.New("service unavailable")
)
