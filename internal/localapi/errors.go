package localapi

import "errors"

// Domain-specific errors for appliance API operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnreachable is returned when the appliance cannot be contacted.
	ErrUnreachable = errors.New("localapi: appliance unreachable")

	// ErrBadResponse is returned when the appliance answers with an
	// unexpected status or a body that cannot be decoded.
	ErrBadResponse = errors.New("localapi: unexpected response")
)
