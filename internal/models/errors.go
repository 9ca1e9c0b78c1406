package models

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the dispatch packages wraps exactly one
// of these so the HTTP and chat boundaries can classify it with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrDependency = errors.New("dependency unavailable")
)

var (
	ErrInvalidIdentifier = fmt.Errorf("%w: phone has no digits", ErrValidation)
	ErrInvalidRating     = fmt.Errorf("%w: rating must be an integer from 1 to 5", ErrValidation)
	ErrInvalidStatus     = fmt.Errorf("%w: unknown driver status", ErrValidation)
	ErrNoChannel         = fmt.Errorf("%w: driver has no channel identifier", ErrValidation)

	ErrDriverNotFound  = fmt.Errorf("%w: driver", ErrNotFound)
	ErrOrderNotFound   = fmt.Errorf("%w: order", ErrNotFound)
	ErrNoPendingRating = fmt.Errorf("%w: no rating awaited", ErrNotFound)

	ErrDriverBusy   = fmt.Errorf("%w: driver already holds an order", ErrConflict)
	ErrOrderSettled = fmt.Errorf("%w: order already settled", ErrConflict)
)

// MissingField reports a required input that was empty.
func MissingField(name string) error {
	return fmt.Errorf("%w: %s is required", ErrValidation, name)
}

// Dependency marks err as a failure of the store or a transport.
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDependency, err)
}
