package transport

import (
	"sync"
)

// RegistryLogger is the logging interface the Registry needs.
// Compatible with logging.Logger and slog.Logger.
type RegistryLogger interface {
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Registry is the process-wide single-slot holder of the active transport.
//
// It enforces the core invariant: at most one transport is registered at a
// time. The branch-selection logic in the app package is the only writer;
// the API layer and the store binder read through Current.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Registry struct {
	mu     sync.RWMutex
	active Transport

	// strict makes a double-register panic instead of force-clearing.
	// Enabled in development via resolver.strict.
	strict bool
	logger RegistryLogger
}

// NewRegistry creates an empty Registry.
//
// Parameters:
//   - strict: fail loudly (panic) on double-registration instead of
//     defensively clearing; intended for development builds
//   - logger: destination for invariant-violation and lifecycle logs
func NewRegistry(strict bool, logger RegistryLogger) *Registry {
	return &Registry{
		strict: strict,
		logger: logger,
	}
}

// Register stores t as the active transport.
//
// Precondition: the slot is empty (no transport registered, or Clear was
// called first). Registering over a live transport is a programming error:
// in strict mode it panics; otherwise the previous transport is
// disconnected, the violation logged, and t registered anyway so the
// application keeps working.
//
// Returns:
//   - error: ErrSlotOccupied when the precondition was violated (the
//     registration itself still succeeded in non-strict mode)
func (r *Registry) Register(t Transport) error {
	r.mu.Lock()
	previous := r.active
	if previous != nil && r.strict {
		r.mu.Unlock()
		panic("transport: Register called with an un-cleared registry slot")
	}
	r.active = t
	r.mu.Unlock()

	if previous != nil {
		if r.logger != nil {
			r.logger.Error("registry slot was occupied on register; force-clearing previous transport",
				"previous", string(previous.Kind()),
				"new", string(t.Kind()),
			)
		}
		previous.Disconnect()
		return ErrSlotOccupied
	}

	if r.logger != nil {
		r.logger.Debug("transport registered", "kind", string(t.Kind()))
	}
	return nil
}

// Current returns the active transport, or nil when the slot is empty.
func (r *Registry) Current() Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Clear empties the slot. Idempotent; safe to call when nothing is
// registered. Clear does not disconnect the transport: the caller owns
// the disconnect-then-clear teardown sequence.
func (r *Registry) Clear() {
	r.mu.Lock()
	had := r.active != nil
	r.active = nil
	r.mu.Unlock()

	if had && r.logger != nil {
		r.logger.Debug("transport registry cleared")
	}
}

// Teardown disconnects the active transport (if any) and clears the slot.
// This is the one-call cleanup path used on mode switches and shutdown.
func (r *Registry) Teardown() {
	r.mu.Lock()
	active := r.active
	r.active = nil
	r.mu.Unlock()

	if active != nil {
		active.Disconnect()
		if r.logger != nil {
			r.logger.Debug("transport torn down", "kind", string(active.Kind()))
		}
	}
}
