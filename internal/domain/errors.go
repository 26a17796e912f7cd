package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput covers malformed telemetry: missing vehicle id,
	// non-numeric coordinates and the like.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a referenced vehicle, route or counter
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRouteGeometry means a route's first feature is not a
	// LineString. It is a data-integrity failure, distinct from a vehicle
	// merely leaving its route.
	ErrInvalidRouteGeometry = errors.New("invalid route geometry")
)

// StorageError wraps a failed collaborator call. The primary telemetry write
// failing aborts the whole ingestion; violation writes do not (those are
// reported through the side channel instead).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError tags err with the collaborator operation that failed.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}
