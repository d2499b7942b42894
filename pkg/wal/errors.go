// Package wal implements Write-Ahead Logging for durability and crash recovery
package wal

import "errors"

var (
	// ErrCorrupted indicates a corrupted WAL entry (CRC mismatch)
	ErrCorrupted = errors.New("wal: corrupted entry")

	// ErrInvalidEntry indicates a decoded entry header claims a key or value
	// length outside what btree.BTREE_MAX_KEY_SIZE/BTREE_MAX_VAL_SIZE could
	// ever have written, independent of whether its CRC checks out.
	ErrInvalidEntry = errors.New("wal: invalid entry")

	// ErrLogClosed indicates an operation on a closed WAL
	ErrLogClosed = errors.New("wal: log closed")

	// ErrLogNotFound indicates WAL files don't exist
	ErrLogNotFound = errors.New("wal: log not found")

	// ErrInvalidLSN indicates a Write call with an entry whose LSN was
	// never assigned by WAL.NextLSN.
	ErrInvalidLSN = errors.New("wal: invalid LSN")

	// ErrTruncated indicates a truncated WAL entry
	ErrTruncated = errors.New("wal: truncated entry")
)
