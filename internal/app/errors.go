package app

import "errors"

// Domain-specific errors for orchestration operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrClosed is returned by operations on a shut-down orchestrator.
	ErrClosed = errors.New("app: orchestrator closed")

	// ErrNoTransport is returned when a command is issued and no
	// transport is active.
	ErrNoTransport = errors.New("app: no active transport")

	// ErrSuperseded is returned when a teardown or a newer resolution
	// invalidated an operation while it was in flight.
	ErrSuperseded = errors.New("app: operation superseded")

	// ErrNotCloudMode is returned when a cloud-only operation runs
	// outside cloud mode.
	ErrNotCloudMode = errors.New("app: not in cloud mode")

	// ErrUnknownDevice is returned when a device id is not in the
	// paired device list.
	ErrUnknownDevice = errors.New("app: unknown device")

	// ErrNoSession is returned when a cloud operation runs without a
	// configured cloud session.
	ErrNoSession = errors.New("app: no cloud session configured")

	// ErrLoginState is returned when a login callback carries a state
	// value that does not match the one BeginLogin issued.
	ErrLoginState = errors.New("app: login state mismatch")
)
