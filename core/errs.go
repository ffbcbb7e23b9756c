package core

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderBlocked is returned when an order for an instrument is refused
	// because a prior order is still pending. Recoverable: wait for the
	// pending ref to resolve.
	ErrOrderBlocked = errors.New("pending order exists for instrument")

	// ErrInvalidRisk is returned for a zero stop distance or non-positive
	// equity. Fatal to the order attempt, never retried.
	ErrInvalidRisk = errors.New("invalid risk specification")

	// ErrRejected is returned when the venue explicitly refused the order.
	// Terminal, no position change.
	ErrRejected = errors.New("order rejected by venue")

	// ErrInvariantViolation marks a position that failed to return to flat
	// after a trade was deemed closed, or a bracket whose legs both filled.
	// Non-fatal: accounting for the instrument is flagged suspect.
	ErrInvariantViolation = errors.New("trade invariant violation")
)

// VenueError wraps a transient failure talking to the execution venue.
// Venue errors are retried locally and only surfaced after exhausting
// attempts.
type VenueError struct {
	Op  string
	Err error
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue error in %s: %v", e.Op, e.Err)
}

func (e *VenueError) Unwrap() error {
	return e.Err
}

// NewVenueError wraps err as a transient venue failure
func NewVenueError(op string, err error) error {
	return &VenueError{Op: op, Err: err}
}

// IsVenueError reports whether err is a transient venue failure
func IsVenueError(err error) bool {
	var ve *VenueError
	return errors.As(err, &ve)
}
