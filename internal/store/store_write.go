//go:build unix

package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

func (s *Store) writableSlice(idx int, offset, size uint32) ([]byte, error) {
	if !s.writable {
		return nil, fmt.Errorf("realmforge: write %s: %w", s.path, ErrReadOnly)
	}
	return s.fieldSlice(idx, offset, size)
}

func (s *Store) WriteBool(idx int, offset uint32, val bool) error {
	b, err := s.writableSlice(idx, offset, 1)
	if err != nil {
		return err
	}
	if val {
		b[0] = 1
	} else {
		b[0] = 0
	}
	return nil
}

func (s *Store) WriteInt64(idx int, offset uint32, val int64) error {
	b, err := s.writableSlice(idx, offset, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, uint64(val))
	return nil
}

func (s *Store) WriteUint64(idx int, offset uint32, val uint64) error {
	b, err := s.writableSlice(idx, offset, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, val)
	return nil
}

func (s *Store) WriteFloat64(idx int, offset uint32, val float64) error {
	b, err := s.writableSlice(idx, offset, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, math.Float64bits(val))
	return nil
}

// WriteString writes a length-prefixed string into the field, zero-padding the remainder.
func (s *Store) WriteString(idx int, offset, fieldSize, maxSize uint32, val string) error {
	if uint64(len(val)) > uint64(maxSize) {
		return fmt.Errorf("realmforge: field at offset %d: %w (len=%d max=%d)", offset, ErrStringTooLong, len(val), maxSize)
	}
	b, err := s.writableSlice(idx, offset, fieldSize)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b[:4], uint32(len(val)))
	n := copy(b[4:], val)
	clear(b[4+n:])
	return nil
}
