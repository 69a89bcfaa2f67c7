// Package cloud manages the user's session with the BrewOS cloud
// service: OAuth2 login, token persistence and refresh, the paired
// device list, and relay credentials for remote control.
//
// The session survives restarts through a TokenStore; refreshed tokens
// are written back so a long-lived refresh token keeps the user signed
// in without re-prompting.
package cloud
