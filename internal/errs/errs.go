// Package errs collects the sentinel errors shared across the record-file,
// index, database, and server layers. Each sentinel corresponds to one row
// of the error taxonomy: IO/transport, protocol, semantic, integrity, and
// capacity failures are all surfaced as one of these wrapped with an
// operation prefix at the layer boundary that detected them.
package errs

import "errors"

var (
	// IO / transport.
	ErrPipeClosed   = errors.New("connection closed by peer")
	ErrShortWrite   = errors.New("short write")
	ErrOversized    = errors.New("packet exceeds maximum size")
	ErrTruncated    = errors.New("truncated frame")
	ErrUpgradeFailed = errors.New("protocol upgrade failed")

	// Protocol.
	ErrMalformedHeader = errors.New("malformed packet header")
	ErrUnknownVerb     = errors.New("unknown verb")

	// Semantic.
	ErrNotFound    = errors.New("record not found")
	ErrExists      = errors.New("record already exists")
	ErrStale       = errors.New("stale version")
	ErrReadOnly    = errors.New("database is read-only")
	ErrNoSuchMount = errors.New("database not mounted")
	ErrMountExists = errors.New("database already mounted")

	// Integrity.
	ErrCorruptHeader = errors.New("corrupt record header")
	ErrTruncatedData = errors.New("record truncated")
	ErrBadAlignment  = errors.New("record crosses chunk boundary")
	ErrUnknownCompression = errors.New("unknown compression type")
	ErrCorruptIndex  = errors.New("corrupt index file")

	// Capacity.
	ErrIndexFull      = errors.New("index at capacity, resize failed")
	ErrMountRejecting = errors.New("mount rejecting writes pending recovery")

	// Closed resources.
	ErrClosed = errors.New("database is closed")

	// Validation.
	ErrInvalidName = errors.New("invalid database name")
	ErrNoShards    = errors.New("sharded database requires at least one shard")
)
