package transport

import (
	"context"

	"github.com/brewos/brewlink/internal/machine"
)

// Kind identifies a transport implementation.
type Kind string

// Transport kinds.
const (
	KindLocal Kind = "local"
	KindCloud Kind = "cloud"
	KindDemo  Kind = "demo"
)

// Status is a transport's current connection state.
type Status string

// Transport statuses. The real transports reconnect internally, so the
// application only distinguishes "connected" from "not yet connected".
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Transport is the common contract of the three connection strategies.
//
// Lifecycle: a transport is created, Connect is called once, snapshots
// flow on Events until Disconnect. After Disconnect the transport is dead;
// reconnecting means creating a fresh instance.
type Transport interface {
	// Connect establishes the underlying channel. A failure is reported to
	// the caller and logged, never fatal: the local and cloud transports
	// keep retrying internally with exponential backoff after a failed
	// first attempt, so callers treat an error as "not yet connected".
	// Connect respects ctx for its initial attempt.
	Connect(ctx context.Context) error

	// Disconnect tears the channel down and releases every resource
	// (sockets, timers, goroutines) before returning. It is safe to call
	// multiple times and from any state, and it closes the Events channel.
	Disconnect()

	// Send forwards a control command to the machine.
	Send(cmd machine.Command) error

	// Events is the inbound state stream: an ordered, push-based sequence
	// of device-state snapshots. It is closed by Disconnect.
	Events() <-chan machine.Snapshot

	// Status reports the current connection state.
	Status() Status

	// Kind identifies the implementation (local, cloud, demo).
	Kind() Kind
}
