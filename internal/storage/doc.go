// Package storage is the keyed document store used by the run engine.
//
// Documents are addressed by (type, id) and carry an opaque revision token.
// Updates are optimistic: a stale revision fails with ErrConflict.
// List enumerates a type newest-first by id, so fixed-width timestamp ids
// enumerate in chronological order without extra indices.
//
// Drivers:
//   - memory: process-local, used by tests and ephemeral runs
//   - sqlite: embedded database file (modernc.org/sqlite, pure Go)
//   - postgres: server database via the pgx stdlib driver
package storage
