// Package app is the orchestration core: it resolves which connectivity
// mode the client is in, owns the transport lifecycle around the single
// registry slot, and derives the routing state the view layer renders.
//
// Mode resolution is an explicit state machine (uninitialized, resolving,
// resolved). The demo override is checked first and exclusively; otherwise
// the appliance's mode discovery endpoint is queried with a deadline, and
// a failure resolves to cloud/unauthenticated rather than leaving the
// application stuck resolving.
//
// All operations that mutate the transport slot are serialized through
// one mutex, and every connect attempt is stamped with an epoch that
// teardown invalidates, so a dial that completes after shutdown or a
// mode switch cannot resurrect a transport.
package app
