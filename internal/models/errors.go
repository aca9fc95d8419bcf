package models

import "errors"

var (
	ErrIllegalTransition = errors.New("illegal booking transition")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("actor is not a party to this booking")
	ErrInvalidState      = errors.New("booking is not in an active state")

	// ErrNoCandidates marks queue exhaustion. It is the designed outcome
	// of the escalation loop, not a failure: the booking ends up CANCELLED
	// with reason no_drivers_available.
	ErrNoCandidates = errors.New("no candidate drivers available")
)
