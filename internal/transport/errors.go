package transport

import "errors"

// Domain errors for transport operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when sending on a transport that has no
	// live channel.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrConnectFailed is returned when a connection attempt fails.
	// Transports keep retrying internally; callers treat this as
	// "not yet connected", not as fatal.
	ErrConnectFailed = errors.New("transport: connect failed")

	// ErrClosed is returned when operating on a transport after Disconnect.
	ErrClosed = errors.New("transport: closed")

	// ErrSlotOccupied is returned by Registry.Register when another
	// transport is still registered. This indicates a bug in the
	// branch-selection logic, not a runtime condition.
	ErrSlotOccupied = errors.New("transport: registry slot occupied")
)
