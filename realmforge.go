// Package realmforge is a client for memory-mapped record files ("realms").
//
// Opening, creating and copying a realm can fail for a fixed set of
// recoverable reasons. Those failures are returned as realmerr.Error
// values, so callers can branch on them:
//
//	r, err := realmforge.Open(cfg)
//	if errors.Is(err, realmerr.ErrFileFormatUpgradeRequired) {
//		cfg.DisableFormatUpgrade = false
//		r, err = realmforge.Open(cfg)
//	}
//
// Misuse of an open realm (unknown field, index out of range, write to a
// read-only realm) is reported with the sentinel errors of this package.
package realmforge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/CreditWorthy/realmforge/internal/store"
	"github.com/CreditWorthy/realmforge/realmerr"
)

var (
	ErrOutOfBounds   = store.ErrOutOfBounds
	ErrReadOnly      = store.ErrReadOnly
	ErrClosed        = store.ErrClosed
	ErrStringTooLong = store.ErrStringTooLong
	ErrCorrupted     = store.ErrCorrupted
	ErrUnknownField  = errors.New("realmforge: unknown field")
	ErrFieldType     = errors.New("realmforge: field type mismatch")
)

// Realm is an open realm file. It is safe for concurrent use; writes to a
// record are serialized and reads never observe a half-written record.
type Realm struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	store   *store.Store
	path    string
	log     *zap.Logger
}

// Info summarizes the header of an open realm.
type Info struct {
	Path          string
	FormatVersion uint32
	SchemaVersion uint32
	SchemaHash    [32]byte
	RecordSize    uint32
	Records       int
	Capacity      int
	ReadOnly      bool
}

// Open opens the realm described by cfg, creating it when it does not exist
// and cfg.ReadOnly is false.
//
// Engine failures are returned as realmerr.Error. Invalid configuration
// wraps ErrInvalidConfig.
func Open(cfg Config) (*Realm, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	layout, err := store.ComputeLayout(cfg.Fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	log := cfg.logger().With(zap.String("realm", cfg.Path))
	opts := cfg.storeOptions(log)

	s, err := store.OpenStore(cfg.Path, layout, cfg.SchemaVersion, opts...)
	if err != nil && !cfg.ReadOnly && missing(cfg.Path) {
		s, err = store.CreateStore(cfg.Path, layout, cfg.SchemaVersion, opts...)
		if realmerr.Matches(err, realmerr.ErrFileExists) {
			// lost a creation race; the winner's file is there now
			s, err = store.OpenStore(cfg.Path, layout, cfg.SchemaVersion, opts...)
		}
	}
	if err != nil {
		return nil, bridge(log, "open", err)
	}

	log.Info("opened realm",
		zap.Bool("read_only", cfg.ReadOnly),
		zap.Int("records", s.Len()),
	)
	return &Realm{store: s, path: cfg.Path, log: log}, nil
}

func missing(path string) bool {
	_, err := os.Stat(path)
	return errors.Is(err, fs.ErrNotExist)
}

// bridge converts an engine failure into a realmerr.Error and passes any
// other error through unchanged.
func bridge(log *zap.Logger, op string, err error) error {
	if err == nil {
		return nil
	}
	e, ok := realmerr.BridgeError(err)
	if !ok {
		return err
	}
	log.Warn(op+" failed",
		zap.Stringer("code", e.Code()),
		zap.String("file", e.Path()),
		zap.Error(err),
	)
	return e
}

func (r *Realm) Path() string { return r.path }

// Close flushes and unmaps the realm and releases its lock. Closing twice
// returns ErrClosed.
func (r *Realm) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return fmt.Errorf("realmforge: close %s: %w", r.path, ErrClosed)
	}
	err := r.store.Close()
	r.store = nil
	if err != nil {
		return err
	}
	r.log.Debug("closed realm")
	return nil
}

// WriteCopy writes a copy of the realm to dst. It fails with
// realmerr.FileExists when dst exists and realmerr.FileNotFound when the
// directory of dst is missing.
func (r *Realm) WriteCopy(dst string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.store == nil {
		return fmt.Errorf("realmforge: copy %s: %w", r.path, ErrClosed)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.store.WriteCopy(dst); err != nil {
		return bridge(r.log.With(zap.String("dst", dst)), "copy", err)
	}
	r.log.Info("wrote copy", zap.String("dst", dst))
	return nil
}

// Info returns a summary of the realm header.
func (r *Realm) Info() (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.store == nil {
		return Info{}, fmt.Errorf("realmforge: info %s: %w", r.path, ErrClosed)
	}
	h := r.store.Header()
	return Info{
		Path:          r.path,
		FormatVersion: h.FormatVersion,
		SchemaVersion: h.SchemaVersion,
		SchemaHash:    h.SchemaHash,
		RecordSize:    h.RecordSize,
		Records:       r.store.Len(),
		Capacity:      r.store.Cap(),
		ReadOnly:      !r.store.Writable(),
	}, nil
}

// Schema returns the fields of the realm in declaration order.
func (r *Realm) Schema() []Field {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.store == nil {
		return nil
	}
	return lo.Map(r.store.Layout().Fields, func(f store.FieldLayout, _ int) Field { return f.FieldDef })
}

// Len returns the number of records.
func (r *Realm) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.store == nil {
		return 0
	}
	return r.store.Len()
}

// Append adds a zeroed record and returns its index. Exhausting the
// reserved address space fails with realmerr.AddressSpaceExhausted.
func (r *Realm) Append() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.store == nil {
		return 0, fmt.Errorf("realmforge: append %s: %w", r.path, ErrClosed)
	}
	idx, err := r.store.Append()
	if err != nil {
		return 0, bridge(r.log, "append", err)
	}
	return idx, nil
}
