package store

import (
	"sync/atomic"
	"unsafe"
)

func (s *Store) seqPtr(idx int) *atomic.Uint64 {
	off := HeaderSize + idx*s.recordSize
	return (*atomic.Uint64)(unsafe.Pointer(s.region.base + uintptr(off)))
}

// SeqBeginWrite marks the start of a write to record idx by moving its
// sequence counter to an odd value. Pair with SeqEndWrite.
func (s *Store) SeqBeginWrite(idx int) {
	s.seqPtr(idx).Add(1)
}

// SeqEndWrite moves the sequence counter of record idx back to even.
func (s *Store) SeqEndWrite(idx int) {
	s.seqPtr(idx).Add(1)
}

// SeqReadBegin loads the sequence counter for record idx.
// If the value is odd, a write is in progress and the caller should spin.
func (s *Store) SeqReadBegin(idx int) uint64 {
	return s.seqPtr(idx).Load()
}

// SeqReadValid returns true if seq is even (no write in progress) and
// the current counter still matches seq (no write happened during the read).
func (s *Store) SeqReadValid(idx int, seq uint64) bool {
	return seq&1 == 0 && s.seqPtr(idx).Load() == seq
}
