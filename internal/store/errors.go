// Package store implements the file-backed, memory-mapped key/value store.
//
// A Store is a sorted mapping from byte-string keys to byte-string values,
// persisted as an 8-byte-aligned sequence of records in a memory-mapped
// file. There is no write-ahead log: crash-resume safety comes entirely from
// the fact that every record carries its own size, so a reopen can always
// rebuild the sorted index by scanning the file from offset 0.
package store

import "errors"

// Sentinel errors returned by Store operations. Wrapped with fmt.Errorf and
// matched with errors.Is by callers.
var (
	// ErrLocked is returned by Open when another process already holds the
	// store file's exclusive advisory lock.
	ErrLocked = errors.New("store: file locked by another process")

	// ErrTooLarge is returned by Open when the file is already >= 2^32 bytes.
	ErrTooLarge = errors.New("store: file too large")

	// ErrNoSpace is returned by Put when the file cannot grow further
	// without crossing the 32-bit size limit.
	ErrNoSpace = errors.New("store: no space left to grow file")

	// ErrTooBig is returned by Put when the encoded key+value exceeds the
	// 16-bit Info size limit.
	ErrTooBig = errors.New("store: key+value exceeds maximum info size")

	// ErrInvalidKey is returned when a key is empty or contains an embedded
	// NUL byte.
	ErrInvalidKey = errors.New("store: invalid key")

	// ErrCorrupt is returned by Open when the file size is not a multiple
	// of the page size, and by record reads that meet a malformed or
	// truncated record header. Recovery on Open does not return it for a
	// bad header: it stops scanning there instead.
	ErrCorrupt = errors.New("store: corrupt file")

	// ErrClosed is returned by any operation on a Store after Close.
	ErrClosed = errors.New("store: use of closed store")

	// errIterInvalidated is returned by Iterator.Next after a concurrent
	// Put/Del on the same Store invalidated the iterator's position.
	errIterInvalidated = errors.New("store: iterator invalidated by mutation")
)
