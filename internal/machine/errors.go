package machine

import "errors"

// Domain errors for the machine package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotSnapshot is returned when an inbound message is valid JSON but
	// not a state snapshot (e.g. a log line or an OTA progress message).
	ErrNotSnapshot = errors.New("machine: not a state snapshot")

	// ErrMalformedMessage is returned when an inbound message cannot be
	// parsed at all.
	ErrMalformedMessage = errors.New("machine: malformed message")

	// ErrInvalidCommand is returned when a command has no type.
	ErrInvalidCommand = errors.New("machine: command type required")
)
