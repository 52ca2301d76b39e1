package storage

import "errors"

// Common storage errors
var (
	// ErrEntryNotFound indicates that no entry (or tombstone) is stored under the DN
	ErrEntryNotFound = errors.New("entry not found")

	// ErrWriteConflict indicates that the stored version differs from the expected one.
	// The caller must reload the entry and retry.
	ErrWriteConflict = errors.New("entry write conflict")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
