package prefs

import "errors"

// Domain errors for the prefs package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound is returned when a preference key has never been set.
	ErrNotFound = errors.New("prefs: not found")
)
