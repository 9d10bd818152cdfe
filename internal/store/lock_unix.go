//go:build unix

package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"

	"github.com/CreditWorthy/realmforge/native"
)

// Lock file record, written by the first process to open a store:
//
//	[0:4]   magic "RFLK"
//	[4:6]   lock format version
//	[6]     pointer width in bytes
//	[7]     reserved
//	[8:24]  GOARCH, zero padded
const (
	lockInfoSize    = 24
	lockInfoVersion = uint16(1)
)

var lockMagic = [4]byte{'R', 'F', 'L', 'K'}

// shared lock attempts while a peer is still initializing the lock file
var lockRetries = 20
var lockRetryDelay = time.Millisecond

// lockInfo describes the process model of the lock holders.
type lockInfo struct {
	PointerSize uint8
	Arch        string
}

func localLockInfo() lockInfo {
	return lockInfo{
		PointerSize: uint8(unsafe.Sizeof(uintptr(0))),
		Arch:        runtime.GOARCH,
	}
}

func (li lockInfo) String() string {
	return fmt.Sprintf("%s/%d-bit", li.Arch, int(li.PointerSize)*8)
}

func encodeLockInfo(li lockInfo) []byte {
	b := make([]byte, lockInfoSize)
	copy(b[0:4], lockMagic[:])
	binary.LittleEndian.PutUint16(b[4:6], lockInfoVersion)
	b[6] = li.PointerSize
	copy(b[8:24], li.Arch)
	return b
}

func decodeLockInfo(b []byte) (lockInfo, error) {
	if len(b) < lockInfoSize {
		return lockInfo{}, fmt.Errorf("realmforge: lock info: short record (%d bytes)", len(b))
	}
	if !bytes.Equal(b[0:4], lockMagic[:]) {
		return lockInfo{}, fmt.Errorf("realmforge: lock info: %w (got %q)", ErrBadMagic, b[0:4])
	}
	if v := binary.LittleEndian.Uint16(b[4:6]); v != lockInfoVersion {
		return lockInfo{}, fmt.Errorf("realmforge: lock info: unsupported version %d", v)
	}
	return lockInfo{
		PointerSize: b[6],
		Arch:        string(bytes.TrimRight(b[8:24], "\x00")),
	}, nil
}

// lockFile is a held flock on the sidecar lock file of a store.
type lockFile struct {
	f    *os.File
	path string
}

func lockPath(storePath string) string {
	return storePath + ".lock"
}

// acquireLock locks the sidecar file of storePath.
//
// With exclusive set the caller must be the only process using the store.
// Otherwise processes share the lock, and the first one records its
// process model; later processes with a different model are refused.
func acquireLock(storePath string, exclusive bool) (*lockFile, error) {
	path := lockPath(storePath)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, native.FromOS("open lock file", path, err)
	}
	lf := &lockFile{f: f, path: path}

	if exclusive {
		if err := flockExclusive(f); err != nil {
			return nil, lf.fail(err)
		}
		if err := lf.writeInfo(); err != nil {
			return nil, lf.fail(err)
		}
		return lf, nil
	}

	err = flockExclusive(f)
	switch {
	case err == nil:
		if err := lf.writeInfo(); err != nil {
			return nil, lf.fail(err)
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
			return nil, lf.fail(fmt.Errorf("realmforge: flock shared: %w", err))
		}
		return lf, nil
	case !errors.Is(err, ErrLocked):
		return nil, lf.fail(err)
	}

	if err := flockShared(f); err != nil {
		return nil, lf.fail(err)
	}
	if err := lf.checkInfo(); err != nil {
		return nil, lf.fail(err)
	}
	return lf, nil
}

func (lf *lockFile) writeInfo() error {
	if err := lf.f.Truncate(0); err != nil {
		return fmt.Errorf("realmforge: truncate lock file: %w", err)
	}
	if _, err := lf.f.WriteAt(encodeLockInfo(localLockInfo()), 0); err != nil {
		return fmt.Errorf("realmforge: write lock file: %w", err)
	}
	return nil
}

func (lf *lockFile) checkInfo() error {
	buf := make([]byte, lockInfoSize)
	n, err := lf.f.ReadAt(buf, 0)
	if err != nil && n < lockInfoSize {
		return native.New(native.IncompatibleLockFile, lf.path,
			fmt.Sprintf("realmforge: lock %s: unreadable lock record", lf.path), err)
	}
	theirs, err := decodeLockInfo(buf)
	if err != nil {
		return native.New(native.IncompatibleLockFile, lf.path,
			fmt.Sprintf("realmforge: lock %s", lf.path), err)
	}
	if ours := localLockInfo(); theirs != ours {
		return native.Newf(native.IncompatibleLockFile, lf.path,
			"realmforge: lock %s: held by a %s process, this process is %s", lf.path, theirs, ours)
	}
	return nil
}

// fail closes the lock file and turns err into a native error.
func (lf *lockFile) fail(err error) error {
	closeErr := lf.f.Close()
	var n *native.Error
	switch {
	case errors.As(err, &n):
	case errors.Is(err, ErrLocked):
		n = native.New(native.IncompatibleLockFile, lf.path,
			fmt.Sprintf("realmforge: lock %s: held exclusively by another process", lf.path), err)
	default:
		n = native.FromOS("lock", lf.path, err)
	}
	if closeErr != nil {
		return errors.Join(n, fmt.Errorf("realmforge: close %s: %w", lf.path, closeErr))
	}
	return n
}

func (lf *lockFile) release() error {
	unlockErr := funlock(lf.f)
	closeErr := lf.f.Close()
	return errors.Join(unlockErr, closeErr)
}

// flockExclusive acquires a non-blocking exclusive lock on f.
// Returns ErrLocked if the lock is already held.
func flockExclusive(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if err == unix.EWOULDBLOCK {
			return fmt.Errorf("realmforge: %w", ErrLocked)
		}
		return fmt.Errorf("realmforge: flock exclusive: %w", err)
	}
	return nil
}

// flockShared acquires a shared lock on f, retrying briefly while a peer
// holds it exclusively. Returns ErrLocked if the peer never lets go.
func flockShared(f *os.File) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(lockRetryDelay), uint64(lockRetries))
	return backoff.Retry(func() error {
		err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB)
		switch {
		case err == nil:
			return nil
		case err == unix.EWOULDBLOCK:
			return fmt.Errorf("realmforge: %w", ErrLocked)
		}
		return backoff.Permanent(fmt.Errorf("realmforge: flock shared: %w", err))
	}, b)
}

// funlock releases the flock on f.
func funlock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("realmforge: funlock: %w", err)
	}
	return nil
}
