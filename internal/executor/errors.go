package executor

import "errors"

var (
	// ErrValidation means the order was rejected before any quote was
	// requested. Validation failures never mutate positions.
	ErrValidation = errors.New("order validation failed")

	// ErrPositionExists means a buy was skipped because an OPEN position
	// already exists for the address.
	ErrPositionExists = errors.New("open position already exists")
)
