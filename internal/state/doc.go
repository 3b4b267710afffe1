// Package state persists BuildRecords, one per package, and serialises builds
// of the same package.
//
// Two Store implementations are provided: SQLiteStore backed by
// modernc.org/sqlite for the CLI, and MemoryStore for tests. Locker hands out
// per-package locks whose acquisition blocks until the holder releases or the
// context is cancelled.
package state
