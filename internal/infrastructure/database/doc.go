// Package database provides SQLite connectivity for BrewLink's local
// state: preferences, the cached device list, and the stored cloud token.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Forward-only schema migrations, embedded into the binary
//   - Connection lifecycle and a health probe for the control API
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only),
//     as the file holds the user's cloud token
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive-only and never roll back:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Never DROP or RENAME columns
//   - A bad migration is corrected by a follow-up migration
package database
