package telemetry

import "errors"

// Domain-specific errors for telemetry operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDisabled is returned when telemetry is disabled in configuration.
	ErrDisabled = errors.New("telemetry: disabled in configuration")

	// ErrConnectionFailed is returned when InfluxDB cannot be reached.
	ErrConnectionFailed = errors.New("telemetry: connection failed")
)
