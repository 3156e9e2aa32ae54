// Package database provides SQLite connectivity for the access core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations registered from an embedded filesystem
//   - Transaction helpers used by the registry, device and audit stores
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//   - User PINs live in the registry blob, so the file must stay private
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a matching
// .down.sql and must stay additive: new columns are nullable or defaulted.
package database
