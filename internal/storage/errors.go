package storage

import "errors"

// Storage errors shared by all implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists, including opening a second
	// position for an address that already has one OPEN.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPositionClosed is returned when a mutation targets a position
	// that is no longer OPEN. Closed positions are immutable history.
	ErrPositionClosed = errors.New("position closed")
)
