package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Header layout, little endian:
//
//	[0:4]   magic "RFRG"
//	[4:8]   format version
//	[8:40]  schema hash
//	[40:44] schema version
//	[44:48] record size
//	[48:56] record count  <- updated in place through atomics
//	[56:64] capacity      <- same
const (
	offFormatVersion = 4
	offSchemaHash    = 8
	offSchemaVersion = 40
	offRecordSize    = 44
	offRecordCount   = 48
	offCapacity      = 56
)

type Header struct {
	Magic         [4]byte
	FormatVersion uint32
	SchemaHash    [32]byte
	SchemaVersion uint32
	RecordSize    uint32
	RecordCount   uint64
	Capacity      uint64
}

// EncodeHeader writes h into the first HeaderSize bytes of dst. The magic is
// always Magic, whatever h.Magic holds.
func EncodeHeader(dst []byte, h *Header) error {
	if len(dst) < HeaderSize {
		return fmt.Errorf("realmforge: header encode: buffer too small (%d < %d)", len(dst), HeaderSize)
	}
	le := binary.LittleEndian
	copy(dst[:offFormatVersion], Magic[:])
	le.PutUint32(dst[offFormatVersion:], h.FormatVersion)
	copy(dst[offSchemaHash:offSchemaVersion], h.SchemaHash[:])
	le.PutUint32(dst[offSchemaVersion:], h.SchemaVersion)
	le.PutUint32(dst[offRecordSize:], h.RecordSize)
	le.PutUint64(dst[offRecordCount:], h.RecordCount)
	le.PutUint64(dst[offCapacity:], h.Capacity)
	return nil
}

// DecodeHeader parses the first HeaderSize bytes of src. Only the magic is
// checked; whether the format version can be opened or upgraded is up to
// the caller.
func DecodeHeader(src []byte) (*Header, error) {
	if len(src) < HeaderSize {
		return nil, fmt.Errorf("realmforge: header decode: buffer too small (%d < %d)", len(src), HeaderSize)
	}
	if magic := src[:offFormatVersion]; !bytes.Equal(magic, Magic[:]) {
		return nil, fmt.Errorf("realmforge: header decode: %w (got %q)", ErrBadMagic, magic)
	}
	le := binary.LittleEndian
	h := &Header{
		Magic:         Magic,
		FormatVersion: le.Uint32(src[offFormatVersion:]),
		SchemaVersion: le.Uint32(src[offSchemaVersion:]),
		RecordSize:    le.Uint32(src[offRecordSize:]),
		RecordCount:   le.Uint64(src[offRecordCount:]),
		Capacity:      le.Uint64(src[offCapacity:]),
	}
	copy(h.SchemaHash[:], src[offSchemaHash:offSchemaVersion])
	return h, nil
}
