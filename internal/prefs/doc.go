// Package prefs provides BrewLink's persisted client-side preferences.
//
// Preferences survive restarts and drive behaviour that must not depend on
// any network call:
//
//   - The demo-override flag (entering/exiting demo mode)
//   - The last selected cloud device (auto-selection on next start)
//   - The stored OAuth token for cloud login
//   - A cache of the user's paired devices
//
// Storage is a SQLite key/value table plus a cached_devices table, managed
// through the infrastructure/database package.
//
// # Thread Safety
//
// The Store is safe for concurrent use; SQLite serialises writes.
package prefs
