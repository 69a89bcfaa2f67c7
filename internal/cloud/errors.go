package cloud

import "errors"

// Domain-specific errors for cloud session operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotAuthenticated is returned when an operation needs a signed-in
	// session and there is none.
	ErrNotAuthenticated = errors.New("cloud: not authenticated")

	// ErrRequestFailed is returned when the cloud API answers with an
	// unexpected status or an undecodable body.
	ErrRequestFailed = errors.New("cloud: request failed")

	// ErrPairingFailed is returned when a device pairing code is rejected.
	ErrPairingFailed = errors.New("cloud: pairing failed")
)
