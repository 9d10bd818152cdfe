//go:build unix

package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

// fieldSlice returns the size bytes at offset inside record idx.
func (s *Store) fieldSlice(idx int, offset, size uint32) ([]byte, error) {
	if s.region == nil {
		return nil, fmt.Errorf("realmforge: %s: %w", s.path, ErrClosed)
	}
	if n := s.Len(); idx < 0 || idx >= n {
		return nil, fmt.Errorf("realmforge: record %d: %w (len=%d)", idx, ErrOutOfBounds, n)
	}
	if uint64(offset)+uint64(size) > uint64(s.recordSize) {
		return nil, fmt.Errorf("realmforge: field at offset %d size %d: %w (record size %d)", offset, size, ErrOutOfBounds, s.recordSize)
	}
	off := HeaderSize + idx*s.recordSize + int(offset)
	return s.region.Slice(off, int(size)), nil
}

// ReadBool reads a bool from record idx at the given byte offset.
func (s *Store) ReadBool(idx int, offset uint32) (bool, error) {
	b, err := s.fieldSlice(idx, offset, 1)
	if err != nil {
		return false, err
	}
	return b[0] == 1, nil
}

// ReadInt64 reads an int64 from record idx at the given byte offset.
func (s *Store) ReadInt64(idx int, offset uint32) (int64, error) {
	b, err := s.fieldSlice(idx, offset, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// ReadUint64 reads a uint64 from record idx at the given byte offset.
func (s *Store) ReadUint64(idx int, offset uint32) (uint64, error) {
	b, err := s.fieldSlice(idx, offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadFloat64 reads a float64 from record idx at the given byte offset.
func (s *Store) ReadFloat64(idx int, offset uint32) (float64, error) {
	b, err := s.fieldSlice(idx, offset, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// ReadString returns a zero-copy string from the mmap region.
// The returned string is valid only until Close() is called.
func (s *Store) ReadString(idx int, offset, fieldSize, maxSize uint32) (string, error) {
	b, err := s.fieldSlice(idx, offset, fieldSize)
	if err != nil {
		return "", err
	}
	strLen := binary.LittleEndian.Uint32(b[:4])
	if strLen > maxSize {
		return "", fmt.Errorf("realmforge: field at offset %d: %w (len=%d max=%d)", offset, ErrCorrupted, strLen, maxSize)
	}
	if strLen == 0 {
		return "", nil
	}
	data := b[4 : 4+strLen]
	return unsafe.String(&data[0], len(data)), nil
}
