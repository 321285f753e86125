package store

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrStoreCorruption is returned by Open when the file is not a usable
	// hostscout store: not a database, damaged, foreign, or written by a
	// newer schema.
	ErrStoreCorruption = errors.New("store: corrupt or unsupported database")

	// ErrStoreWriteFailure wraps any failure of a durable append. Nothing
	// from the failed batch is visible afterwards.
	ErrStoreWriteFailure = errors.New("store: write failed")

	// ErrInvalidBatch is returned for batches that cannot be appended as-is.
	ErrInvalidBatch = errors.New("store: invalid batch")

	// ErrNotFound is returned by Latest when no sample of the kind exists.
	ErrNotFound = errors.New("store: not found")

	// ErrSealedSample is returned when reading a sealed sample from a store
	// opened without a Sealer.
	ErrSealedSample = errors.New("store: sample is sealed and no sealer is configured")
)

// isCorruption reports whether err is SQLite saying the file is damaged or
// not a database at all.
func isCorruption(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "not a database") || strings.Contains(msg, "malformed")
}
