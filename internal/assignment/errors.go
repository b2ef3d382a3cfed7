package assignment

import "errors"

// Assignment errors.
var (
	ErrPropertyNotFound     = errors.New("property not found")
	ErrAgentNotFound        = errors.New("agent not found")
	ErrQueueNotFound        = errors.New("assignment run not found")
	ErrNotificationNotFound = errors.New("offer not found")
	ErrWrongRecipient       = errors.New("offer was sent to another agent")
	ErrOfferExpired         = errors.New("offer has expired")
	ErrAlreadyResolved      = errors.New("offer already resolved")
	ErrAlreadyAssigned      = errors.New("property already has an agent")
	ErrRunExists            = errors.New("assignment run already exists for property")

	// ErrStaleQueue reports a guarded queue write that matched no row because
	// another transition got there first.
	ErrStaleQueue = errors.New("assignment run changed concurrently")
)
