package store

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/CreditWorthy/realmforge/native"
)

const initialCapacity = 64

var statFileFunc = func(f *os.File) (os.FileInfo, error) { return f.Stat() }
var encodeHeaderFunc = EncodeHeader

// Store is a file of fixed-size records mapped into memory.
//
// Creating, opening and copying a store report failures as *native.Error;
// everything else returns the sentinels in errors.go.
type Store struct {
	region         *Region
	layout         *RecordLayout
	header         *Header
	lock           *lockFile
	log            *zap.Logger
	recordCountPtr *atomic.Uint64
	capacityPtr    *atomic.Uint64
	path           string
	recordSize     int
	appendMu       sync.Mutex
	writable       bool
}

// CreateStore creates a new store at path. It fails with FileExists if the
// file is already there and FileNotFound if its directory is missing.
func CreateStore(path string, layout *RecordLayout, schemaVersion uint32, opts ...StoreOption) (*Store, error) {
	cfg := applyOptions(opts)
	log := cfg.logger.With(zap.String("path", path))

	if cfg.readOnly {
		return nil, native.Newf(native.Fail, path, "realmforge: create %s: cannot create a read-only store", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		n := native.FromOS("create", path, err)
		log.Debug("create failed", zap.Int("code", n.Code), zap.Error(err))
		return nil, n
	}
	removeFile := func() error { return os.Remove(path) }

	lock, err := acquireLock(path, cfg.oneWriter)
	if err != nil {
		return nil, abort(err, f.Close, removeFile)
	}

	h := &Header{
		Magic:         Magic,
		FormatVersion: Version,
		SchemaHash:    SchemaHash(layout.Descriptors()),
		SchemaVersion: schemaVersion,
		RecordSize:    layout.RecordSize,
		Capacity:      uint64(initialCapacity),
	}

	fileSize := HeaderSize + int(layout.RecordSize)*initialCapacity
	region, err := Map(f, fileSize, true, Random, cfg.reserveVA)
	if err != nil {
		return nil, abort(native.FromOS("map", path, err), f.Close, lock.release, removeFile)
	}

	if err := encodeHeaderFunc(region.Slice(0, HeaderSize), h); err != nil {
		n := native.New(native.Fail, path, "realmforge: encode header "+path, err)
		return nil, abort(n, region.Close, lock.release, removeFile)
	}

	s := newStore(region, layout, h, lock, path, true, log)
	log.Debug("created store",
		zap.Uint32("schema_version", schemaVersion),
		zap.Uint32("record_size", layout.RecordSize),
	)
	return s, nil
}

// OpenStore opens an existing store.
//
// The stored format version must be current or upgradable, and the stored
// schema hash and schema version must equal those of layout and
// schemaVersion. Older formats are upgraded in place unless the store is
// read-only or WithoutFormatUpgrade is given.
func OpenStore(path string, layout *RecordLayout, schemaVersion uint32, opts ...StoreOption) (*Store, error) {
	cfg := applyOptions(opts)
	log := cfg.logger.With(zap.String("path", path))

	s, err := openStore(path, layout, schemaVersion, cfg, log)
	if err != nil {
		var n *native.Error
		if errors.As(err, &n) {
			log.Debug("open failed", zap.Int("code", n.Code), zap.Error(err))
		}
		return nil, err
	}
	return s, nil
}

func openStore(path string, layout *RecordLayout, schemaVersion uint32, cfg storeConfig, log *zap.Logger) (*Store, error) {
	flag := os.O_RDWR
	if cfg.readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, native.FromOS("open", path, err)
	}

	var lock *lockFile
	release := func() error { return nil }
	if !cfg.readOnly {
		lock, err = acquireLock(path, cfg.oneWriter)
		if err != nil {
			return nil, abort(err, f.Close)
		}
		release = lock.release
	}

	info, err := statFileFunc(f)
	if err != nil {
		return nil, abort(native.FromOS("stat", path, err), f.Close, release)
	}

	fileSize := int(info.Size())
	if fileSize < HeaderSize {
		n := native.Newf(native.Fail, path, "realmforge: file %s is too small (%d bytes)", path, fileSize)
		return nil, abort(n, f.Close, release)
	}

	region, err := Map(f, fileSize, !cfg.readOnly, Random, cfg.reserveVA)
	if err != nil {
		return nil, abort(native.FromOS("map", path, err), f.Close, release)
	}

	h, err := DecodeHeader(region.Slice(0, HeaderSize))
	if err != nil {
		n := native.New(native.Fail, path, "realmforge: decode header "+path, err)
		return nil, abort(n, region.Close, release)
	}

	if err := checkHeader(path, h, layout, schemaVersion, fileSize, cfg); err != nil {
		return nil, abort(err, region.Close, release)
	}

	s := newStore(region, layout, h, lock, path, !cfg.readOnly, log)
	if h.FormatVersion < Version {
		from := h.FormatVersion
		if err := s.upgrade(); err != nil {
			return nil, abort(native.New(native.Fail, path, "realmforge: upgrade "+path, err), s.Close)
		}
		log.Info("upgraded file format", zap.Uint32("from", from), zap.Uint32("to", Version))
	}

	log.Debug("opened store",
		zap.Bool("read_only", cfg.readOnly),
		zap.Uint64("records", h.RecordCount),
	)
	return s, nil
}

// checkHeader validates a decoded header against what the caller expects,
// in the order format, schema, then geometry.
func checkHeader(path string, h *Header, layout *RecordLayout, schemaVersion uint32, fileSize int, cfg storeConfig) error {
	switch {
	case h.FormatVersion > Version:
		return native.Newf(native.Fail, path,
			"realmforge: open %s: format version %d is newer than supported version %d", path, h.FormatVersion, Version)
	case h.FormatVersion < MinUpgradableVersion:
		return native.Newf(native.Fail, path,
			"realmforge: open %s: unsupported format version %d", path, h.FormatVersion)
	case h.FormatVersion < Version && (cfg.readOnly || cfg.noUpgrade):
		return native.Newf(native.FormatUpgradeRequired, path,
			"realmforge: open %s: format version %d must be upgraded to %d", path, h.FormatVersion, Version)
	}

	expectedHash := SchemaHash(layout.Descriptors())
	if h.SchemaHash != expectedHash {
		return native.Newf(native.SchemaMismatch, path,
			"realmforge: open %s: schema hash mismatch: expected %x, got %x", path, expectedHash, h.SchemaHash)
	}
	if h.SchemaVersion != schemaVersion {
		return native.Newf(native.SchemaMismatch, path,
			"realmforge: open %s: schema version %d, file has %d", path, schemaVersion, h.SchemaVersion)
	}

	if h.RecordCount > h.Capacity {
		return native.Newf(native.Fail, path,
			"realmforge: open %s: record count %d exceeds capacity %d", path, h.RecordCount, h.Capacity)
	}
	need := uint64(HeaderSize) + h.Capacity*uint64(h.RecordSize)
	if need > uint64(fileSize) {
		return native.New(native.Fail, path, "realmforge: open "+path,
			fmt.Errorf("%w: capacity needs %d bytes, file has %d", ErrCorrupted, need, fileSize))
	}
	return nil
}

func newStore(region *Region, layout *RecordLayout, h *Header, lock *lockFile, path string, writable bool, log *zap.Logger) *Store {
	s := &Store{
		region:     region,
		layout:     layout,
		header:     h,
		lock:       lock,
		log:        log,
		path:       path,
		writable:   writable,
		recordSize: int(layout.RecordSize),
	}
	s.recordCountPtr = (*atomic.Uint64)(unsafe.Pointer(s.region.base + offRecordCount))
	s.capacityPtr = (*atomic.Uint64)(unsafe.Pointer(s.region.base + offCapacity))
	return s
}

// abort runs the cleanup steps of a failed operation and returns cause,
// joined with any cleanup errors.
func abort(cause error, steps ...func() error) error {
	errs := []error{cause}
	for _, step := range steps {
		if err := step(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 1 {
		return cause
	}
	return errors.Join(errs...)
}

// upgrade runs before the store is handed out, the only time s.header
// changes.
func (s *Store) upgrade() error {
	s.header.FormatVersion = Version
	if err := s.flushHeader(); err != nil {
		return err
	}
	return s.region.Sync()
}

func (s *Store) Close() error {
	if s.region == nil {
		return fmt.Errorf("realmforge: close %s: %w", s.path, ErrClosed)
	}

	var errs []error
	if s.writable {
		if err := s.flushHeader(); err != nil {
			errs = append(errs, fmt.Errorf("realmforge: flush header: %w", err))
		} else if err := s.region.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("realmforge: sync: %w", err))
		}
	}

	if err := s.region.Close(); err != nil {
		errs = append(errs, err)
	}
	s.region = nil

	if s.lock != nil {
		if err := s.lock.release(); err != nil {
			errs = append(errs, fmt.Errorf("realmforge: release lock %s: %w", s.lock.path, err))
		}
		s.lock = nil
	}
	return errors.Join(errs...)
}

func (s *Store) Sync() error {
	if s.region == nil {
		return fmt.Errorf("realmforge: sync %s: %w", s.path, ErrClosed)
	}
	if !s.writable {
		return nil
	}
	if err := s.flushHeader(); err != nil {
		return err
	}
	return s.region.Sync()
}

// WriteCopy writes a consistent copy of the store to dst, which must not
// exist. It fails with FileExists or FileNotFound (missing directory).
func (s *Store) WriteCopy(dst string) error {
	if s.region == nil {
		return fmt.Errorf("realmforge: copy %s: %w", s.path, ErrClosed)
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if err := s.Sync(); err != nil {
		return native.New(native.FileAccess, s.path, "realmforge: sync "+s.path, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		n := native.FromOS("copy to", dst, err)
		s.log.Debug("copy failed", zap.String("dst", dst), zap.Int("code", n.Code), zap.Error(err))
		return n
	}
	removeOut := func() error { return os.Remove(dst) }

	size := s.usedSize()
	if _, err := out.Write(s.region.Slice(0, size)); err != nil {
		return abort(native.FromOS("write copy", dst, err), out.Close, removeOut)
	}
	if err := out.Sync(); err != nil {
		return abort(native.FromOS("sync copy", dst, err), out.Close, removeOut)
	}
	if err := out.Close(); err != nil {
		return abort(native.FromOS("close copy", dst, err), removeOut)
	}

	s.log.Debug("wrote copy", zap.String("dst", dst), zap.Int("bytes", size))
	return nil
}

// usedSize is the header plus every allocated record slot.
func (s *Store) usedSize() int {
	return HeaderSize + int(s.capacityPtr.Load())*s.recordSize
}

// Header returns a copy of the current header.
func (s *Store) Header() Header {
	h := *s.header
	h.RecordCount = s.recordCountPtr.Load()
	h.Capacity = s.capacityPtr.Load()
	return h
}

func (s *Store) Path() string { return s.path }

func (s *Store) Layout() *RecordLayout { return s.layout }

func (s *Store) Writable() bool { return s.writable }

func (s *Store) Len() int {
	v := s.recordCountPtr.Load()
	if v > uint64(math.MaxInt) {
		panic("realmforge: record count overflows int")
	}
	return int(v)
}

func (s *Store) Cap() int {
	v := s.capacityPtr.Load()
	if v > uint64(math.MaxInt) {
		panic("realmforge: capacity overflows int")
	}
	return int(v)
}

// Append reserves the next record slot and returns its index, growing the
// file when full. Running out of reserved address space yields an
// AddressSpaceExhausted native error.
func (s *Store) Append() (int, error) {
	if s.region == nil {
		return 0, fmt.Errorf("realmforge: append %s: %w", s.path, ErrClosed)
	}
	if !s.writable {
		return 0, fmt.Errorf("realmforge: append %s: %w", s.path, ErrReadOnly)
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	idx := s.recordCountPtr.Load()
	if idx >= s.capacityPtr.Load() {
		if err := s.grow(); err != nil {
			return 0, err
		}
	}
	if idx >= uint64(math.MaxInt) {
		return 0, fmt.Errorf("realmforge: append %s: record index %d overflows int", s.path, idx)
	}

	s.recordCountPtr.Store(idx + 1)
	return int(idx), nil
}

// flushHeader rewrites the fixed part of the header in the mapping. Count
// and capacity are already there, owned by the atomics, so they are left
// alone and s.header is never written after open.
func (s *Store) flushHeader() error {
	var buf [HeaderSize]byte
	if err := encodeHeaderFunc(buf[:], s.header); err != nil {
		return err
	}
	copy(s.region.Slice(0, offRecordCount), buf[:offRecordCount])
	return nil
}

func (s *Store) grow() error {
	newCap := s.capacityPtr.Load() * 2
	if newCap == 0 {
		newCap = uint64(initialCapacity)
	}

	newSize := uint64(HeaderSize) + newCap*uint64(s.recordSize)
	if newSize > uint64(math.MaxInt) {
		return native.Newf(native.AddressSpaceExhausted, s.path,
			"realmforge: grow %s: size %d overflows address space", s.path, newSize)
	}
	if err := s.region.Grow(int(newSize)); err != nil {
		n := native.FromOS("grow", s.path, err)
		s.log.Warn("grow failed", zap.Uint64("capacity", newCap), zap.Int("code", n.Code), zap.Error(err))
		return n
	}
	s.capacityPtr.Store(newCap)
	s.log.Debug("grew store", zap.Uint64("capacity", newCap))
	return nil
}
