// Package sqlite contains SQLite repository implementations for vision
// domain types.
//
// Scene fingerprints and the saved-frame log are persisted here so the
// scenes and pipeline packages stay free of SQL. The schema is owned by the
// migrations in internal/db.
package sqlite
