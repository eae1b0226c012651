// Package storage persists job run history.
//
// Drivers:
//   - file: append-only JSON Lines, compacted to the retained tail
//   - sqlite: a single database file (modernc.org/sqlite, no cgo)
package storage
