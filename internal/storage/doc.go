// Package storage persists the last notified version code per repository and package.
//
// Drivers:
//   - "file":   one small file per package, replaced atomically (default)
//   - "bolt":   bbolt database, one bucket per repository
//   - "sqlite": SQLite database file
//
// A store wrapped with DryRun never writes; it is used while notifications are
// redirected so the next real run still sees the update as pending.
package storage
