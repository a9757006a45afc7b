package errors

import "errors"

// Sentinels for domain errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation error")
	ErrUnavailable = errors.New("service unavailable")

	// ErrNoAgent is the expected outcome of a selection attempt under full
	// occupancy. It is not a system fault and must route to hold handling.
	ErrNoAgent = errors.New("no agent available")

	// ErrInvalidTransition marks a call or leg status change that the state
	// machine does not permit.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}
