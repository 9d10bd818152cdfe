//go:build unix

package store

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// the kernel hands out memory in pages and mmap only deals in whole ones
// so every size and offset we pass goes through pageAlign; ask once, reuse
var pageSize = os.Getpagesize()

// DefaultMaxVA is the fallback virtual address reservation when no reserveVA
// is passed to Map. The reservation is clamped to at least the page-aligned
// file size, so this only controls headroom for future growth.
const DefaultMaxVA = 1 << 30

// functions can be overridden for testing
// reserveFunc <- an ENOMEM from here is how AddressSpaceExhausted starts
var reserveFunc = func(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
}
var mmapFixedFunc = mmapFixed
var madviseFunc = madviseAt
var regionFinalizerFunc = regionFinalizer
var mmapSyscall = func(addr, length, prot, flags, fd, offset uintptr) (uintptr, error) {
	r, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, prot, flags, fd, offset)
	if errno != 0 {
		return 0, errno
	}
	return r, nil
}
var msyncSyscall = func(addr, length, flags uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_MSYNC, addr, length, flags)
	if errno != 0 {
		return errno
	}
	return nil
}

// rounds n up to the nearest page boundary; exact multiples stay put
// n <= 0 gets one page <- a zero length mapping is EINVAL
//
// (n-1)/pageSize <- index of the page holding the last byte
// + 1            <- page count
// * pageSize     <- back to bytes
func pageAlign(n int) int {
	if n <= 0 {
		return pageSize
	}
	return ((n-1)/pageSize + 1) * pageSize
}

// AccessPattern hints the kernel about how the region will be read.
type AccessPattern int

const (
	// Sequential <- front to back; kernel reads ahead
	Sequential AccessPattern = iota

	// Random <- record lookups by index; kernel skips readahead
	Random
)

// Region is a page-aligned, memory-mapped view of a file with a stable
// base address. A virtual address range is reserved up front with
// PROT_NONE and the file is mapped over its start with MAP_FIXED, so Grow
// can remap in place without invalidating earlier slices.
//
// Owns the underlying *os.File.
type Region struct {
	file      *os.File
	base      uintptr
	maxVA     int
	size      atomic.Int64
	access    AccessPattern
	writeable bool
}

// Map opens a memory-mapped view of f starting at offset 0, extending the
// file to size bytes if it is shorter. reserveVA bytes of address space are
// reserved for growth; pass 0 to use DefaultMaxVA.
//
// A reservation the kernel refuses surfaces as unix.ENOMEM in the returned
// error chain. Caller must call Close when done.
func Map(f *os.File, size int, writable bool, access AccessPattern, reserveVA int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("realmforge: map: invalid size %d", size)
	}

	reserveSize := DefaultMaxVA
	if reserveVA > 0 {
		reserveSize = reserveVA
	}
	aligned := pageAlign(size)
	if aligned > reserveSize {
		reserveSize = aligned
	}
	reserveSize = pageAlign(reserveSize)

	// PROT_NONE anonymous range <- costs address space, not memory
	// the file gets mapped over the front of it and grows into the rest
	reserved, err := reserveFunc(reserveSize)
	if err != nil {
		return nil, fmt.Errorf("realmforge: reserve %d bytes VA: %w", reserveSize, err)
	}
	// base of the reservation <- every Slice is an offset from here, forever
	base := uintptr(unsafe.Pointer(&reserved[0]))

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("realmforge: stat: %w", err), unix.Munmap(reserved))
	}

	// extend the file to cover the mapping, otherwise SIGBUS past EOF
	if info.Size() < int64(size) {
		// read-only callers cant truncate <- a short file means a torn header
		if !writable {
			return nil, errors.Join(
				fmt.Errorf("realmforge: map: file is %d bytes, need %d: %w", info.Size(), size, ErrCorrupted),
				unix.Munmap(reserved),
			)
		}
		if err := f.Truncate(int64(size)); err != nil {
			return nil, errors.Join(fmt.Errorf("realmforge: truncate: %w", err), unix.Munmap(reserved))
		}
	}

	if err := mmapFixedFunc(base, size, f, writable); err != nil {
		return nil, errors.Join(fmt.Errorf("realmforge: mmap: %w", err), unix.Munmap(reserved))
	}

	// the file mapping now sits inside the reservation <- unix.Munmap(reserved)
	// no longer covers it, tear down the whole range by address instead
	if err := madviseFunc(base, size, access.sysAdvice()); err != nil {
		return nil, errors.Join(fmt.Errorf("realmforge: madvise: %w", err), munmapAt(base, reserveSize))
	}

	r := &Region{
		base:      base,
		maxVA:     reserveSize,
		file:      f,
		writeable: writable,
		access:    access,
	}
	r.size.Store(int64(size))
	runtime.SetFinalizer(r, regionFinalizerFunc)
	return r, nil
}

// mmapFixed <- maps f at exactly addr, over the PROT_NONE reservation
// unix.Mmap lets the kernel pick the address, so this goes through SYS_MMAP
//
// MAP_SHARED <- stores land in the page cache and reach the file on msync;
// other processes with the realm open see them
// MAP_FIXED  <- exactly addr or fail; the reservation guarantees nobody
// else lives there
//
// a different returned address means the kernel ignored MAP_FIXED
func mmapFixed(addr uintptr, length int, f *os.File, writable bool) error {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}

	r, err := mmapSyscall(
		addr,
		uintptr(length),
		uintptr(prot),
		uintptr(unix.MAP_SHARED|unix.MAP_FIXED),
		f.Fd(),
		0,
	)
	if err != nil {
		return err
	}
	if r != addr {
		return fmt.Errorf("realmforge: mmap: expected address %#x, got %#x", addr, r)
	}
	return nil
}

// munmapAt <- unmaps by address, for ranges we have no []byte for
// the third Syscall arg is unused by munmap
func munmapAt(addr uintptr, length int) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, uintptr(length), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// madviseAt <- readahead hint for the mapped range
// only a hint; a kernel without madvise (ENOSYS) is not a Map failure
func madviseAt(addr uintptr, length int, advise int) error {
	_, _, errno := unix.Syscall(unix.SYS_MADVISE, addr, uintptr(length), uintptr(advise))
	if errno != 0 && errno != unix.ENOSYS {
		return errno
	}
	return nil
}

// sysAdvice <- AccessPattern to the MADV_* value madvise(2) takes
func (a AccessPattern) sysAdvice() int {
	switch a {
	case Random:
		return unix.MADV_RANDOM
	default:
		return unix.MADV_SEQUENTIAL
	}
}

// Sync flushes dirty pages to disk and blocks until they are on stable storage.
func (r *Region) Sync() error {
	sz := r.size.Load()
	if sz == 0 {
		return fmt.Errorf("realmforge: sync: %w", ErrClosed)
	}
	if err := msyncSyscall(r.base, uintptr(sz), uintptr(unix.MS_SYNC)); err != nil {
		return fmt.Errorf("realmforge: sync: %w", err)
	}
	return nil
}

// Unmap releases the entire VA reservation. Idempotent.
func (r *Region) Unmap() error {
	if r.size.Load() == 0 && r.maxVA == 0 {
		return nil
	}
	err := munmapAt(r.base, r.maxVA)
	r.size.Store(0)
	r.maxVA = 0
	if err != nil {
		return fmt.Errorf("realmforge: unmap: %w", err)
	}
	return nil
}

func regionFinalizer(r *Region) {
	if r.size.Load() != 0 || r.maxVA != 0 {
		_, _ = fmt.Fprintf(os.Stderr, "realmforge: region for %s was garbage collected without Close()\n", r.file.Name())
		_ = r.Close()
	}
}

// Close unmaps the region and closes the file descriptor.
func (r *Region) Close() error {
	runtime.SetFinalizer(r, nil)
	unmapErr := r.Unmap()
	closeErr := r.file.Close()
	if unmapErr != nil {
		return fmt.Errorf("realmforge: close: %w", unmapErr)
	}
	if closeErr != nil {
		return fmt.Errorf("realmforge: close: %w", closeErr)
	}
	return nil
}

// Grow remaps the file to at least minSize bytes (page-aligned) at the
// same base address. No-op if already large enough.
//
// Must be externally serialized (Store.appendMu).
func (r *Region) Grow(minSize int) error {
	cur := int(r.size.Load())
	if minSize <= cur {
		return nil
	}

	aligned := pageAlign(minSize)
	// past the reservation <- remapping elsewhere would move base, so this is
	// reported the same way the kernel reports a refused reservation
	if aligned > r.maxVA {
		return fmt.Errorf("realmforge: grow %d exceeds max VA reservation %d: %w", aligned, r.maxVA, unix.ENOMEM)
	}
	if err := r.file.Truncate(int64(aligned)); err != nil {
		return fmt.Errorf("realmforge: grow truncate: %w", err)
	}
	// same base, bigger length <- old slices stay valid, new pages appear behind them
	if err := mmapFixedFunc(r.base, aligned, r.file, r.writeable); err != nil {
		return fmt.Errorf("realmforge: grow mmap: %w", err)
	}
	if err := madviseFunc(r.base, aligned, r.access.sysAdvice()); err != nil {
		return fmt.Errorf("realmforge: grow madvise: %w", err)
	}

	r.size.Store(int64(aligned))
	return nil
}

// Mapped returns the size of the mapped region in bytes.
func (r *Region) Mapped() int {
	return int(r.size.Load())
}

// Slice returns the byte range [off, off+n) from the stable base.
// Out-of-range access is the caller's bug and faults.
func (r *Region) Slice(offset, n int) []byte {
	// unsafe.Slice <- slice header straight over the mapping; base never moves
	// while the Region is open, bounds are the caller's job (fieldSlice)
	return unsafe.Slice((*byte)(unsafe.Pointer(r.base+uintptr(offset))), n)
}
