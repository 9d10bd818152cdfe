package store

import "errors"

// Operational errors. Failures while creating, opening or copying a store
// are reported as *native.Error instead.
var (
	ErrOutOfBounds   = errors.New("realmforge: index out of bounds")
	ErrCorrupted     = errors.New("realmforge: file corrupted")
	ErrBadMagic      = errors.New("realmforge: invalid magic bytes")
	ErrStringTooLong = errors.New("realmforge: string exceeds max size")
	ErrReadOnly      = errors.New("realmforge: store is read-only")
	ErrClosed        = errors.New("realmforge: store is closed")
	ErrLocked        = errors.New("realmforge: lock held by another process")
)
