// Package machine holds BrewLink's view of the espresso machine itself.
//
// The appliance reports its state as JSON snapshots over whichever
// transport is active. This package provides:
//
//   - Snapshot: a decoded state snapshot (temperatures, pressure, heating
//     and brewing flags, scale readings), with the raw payload retained for
//     fields BrewLink does not model
//   - Command: a typed control command in the appliance's wire format
//   - Store: the application-wide container of the latest snapshot with
//     fan-out subscriptions for consumers (API, telemetry)
//   - Binder: wires an active transport's snapshot stream into the Store
//
// The Store is transport-agnostic: when the active transport changes, the
// Binder detaches from the old stream and attaches to the new one, and the
// Store's previous contents are cleared so stale (or demo) state never
// leaks into the new session.
package machine
