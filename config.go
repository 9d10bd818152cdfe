package realmforge

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/CreditWorthy/realmforge/internal/store"
)

// Field describes one field of the records stored in a realm.
type Field = store.FieldDef

// FieldType is the binary type of a Field.
type FieldType = store.FieldType

const (
	FieldBool    = store.FieldBool
	FieldInt64   = store.FieldInt64
	FieldUint64  = store.FieldUint64
	FieldFloat64 = store.FieldFloat64
	FieldString  = store.FieldString
)

// FormatVersion is the file format written by this version of realmforge.
const FormatVersion = store.Version

var ErrInvalidConfig = errors.New("realmforge: invalid configuration")

// Config describes the realm to open.
type Config struct {
	// Path of the realm file. A sidecar "<Path>.lock" is created next to it
	// unless ReadOnly is set.
	Path string

	// Fields is the record schema. Its hash is stored in the file and must
	// match on every later open.
	Fields []Field

	// SchemaVersion must equal the version stored in the file.
	SchemaVersion uint32

	// ReadOnly maps the file read-only and never creates or upgrades it.
	ReadOnly bool

	// OneWriter keeps every other process out while the realm is open.
	OneWriter bool

	// DisableFormatUpgrade refuses files written in an older format.
	DisableFormatUpgrade bool

	// ReserveVA is the virtual address space reserved for growth in bytes.
	// Zero selects the engine default of 1 GiB.
	ReserveVA int

	Logger *zap.Logger
}

// ParseFields parses a schema such as "id:uint64,name:string:32".
func ParseFields(spec string) ([]Field, error) {
	return store.ParseFields(spec)
}

func (c Config) validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("%w: at least one field is required", ErrInvalidConfig)
	}
	if c.ReserveVA < 0 {
		return fmt.Errorf("%w: negative reserve %d", ErrInvalidConfig, c.ReserveVA)
	}
	return nil
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) storeOptions(log *zap.Logger) []store.StoreOption {
	opts := []store.StoreOption{store.WithLogger(log)}
	if c.ReadOnly {
		opts = append(opts, store.WithReadOnly())
	}
	if c.OneWriter {
		opts = append(opts, store.WithOneWriter())
	}
	if c.DisableFormatUpgrade {
		opts = append(opts, store.WithoutFormatUpgrade())
	}
	if c.ReserveVA > 0 {
		opts = append(opts, store.WithReserveVA(c.ReserveVA))
	}
	return opts
}
