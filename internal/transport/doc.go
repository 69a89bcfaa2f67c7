// Package transport defines the connection contract between BrewLink and
// the espresso machine, plus the single-slot Registry that owns whichever
// connection is active.
//
// Three implementations exist, one per connectivity mode:
//
//   - transport/local: persistent WebSocket to the appliance on the LAN
//   - transport/cloud: relayed channel through the cloud broker, scoped
//     to a paired device id
//   - transport/demo: in-process simulator, no network at all
//
// # Ownership
//
// The Registry is the sole owner of the active transport. At any
// observable instant zero or one transport is registered; registering over
// an un-cleared slot is a programming error. In strict mode (development)
// it panics; otherwise the old transport is disconnected, the slot
// force-cleared, and the violation logged.
package transport
