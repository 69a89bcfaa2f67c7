// Package api implements the local HTTP control API for BrewLink.
//
// This package provides:
//   - REST endpoints for application state, device selection, and demo mode
//   - Machine command forwarding to the active transport
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API server sits between the frontend shell and the connection
// orchestrator. The frontend polls GET /api/state to learn which view to
// render and issues POST requests to change what the application is
// connected to. Machine commands flow through the orchestrator to
// whichever transport currently holds the connection slot.
//
// The server binds to loopback by default; it is a control surface for
// the local frontend, not a network-facing service.
//
// # Graceful Degradation
//
// The server operates without an active transport — state reads always
// work, only machine commands fail. This keeps the frontend responsive
// while the orchestrator is resolving or the appliance is unreachable.
package api
