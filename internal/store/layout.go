package store

import (
	"crypto/sha256"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const SeqFieldSize = 8

// FieldType enumerates the supported binary field types.
type FieldType int

const (
	FieldBool FieldType = iota
	FieldInt64
	FieldUint64
	FieldFloat64
	FieldString
)

// FieldDef describes one field of a record.
type FieldDef struct {
	Name    string
	Type    FieldType
	MaxSize uint32
}

// FieldLayout is a field with its computed offset and size.
type FieldLayout struct {
	FieldDef
	Offset uint32
	Size   uint32
	Align  uint32
}

// RecordLayout is the complete layout for one record type.
type RecordLayout struct {
	Fields     []FieldLayout
	RecordSize uint32
}

// ComputeLayout takes field definitions in declaration order and returns
// the byte layout with proper alignment.
//
// The first 8 bytes of every record are reserved for the seqlock
// sequence counter. User fields start at offset 8.
func ComputeLayout(fields []FieldDef) (*RecordLayout, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("realmforge: layout: no fields")
	}

	layouts := make([]FieldLayout, len(fields))
	seen := make(map[string]bool, len(fields))
	var offset uint32 = SeqFieldSize

	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("realmforge: layout: field %d has no name", i)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("realmforge: layout: duplicate field name %q", f.Name)
		}
		seen[f.Name] = true

		size, align, err := fieldSizeAlign(f)
		if err != nil {
			return nil, fmt.Errorf("realmforge: layout: field %q: %w", f.Name, err)
		}
		if rem := offset % align; rem != 0 {
			offset += align - rem
		}
		layouts[i] = FieldLayout{FieldDef: f, Offset: offset, Size: size, Align: align}
		offset += size
	}

	recordSize := offset
	if rem := offset % 8; rem != 0 {
		recordSize += 8 - rem
	}

	return &RecordLayout{
		Fields:     layouts,
		RecordSize: recordSize,
	}, nil
}

func fieldSizeAlign(f FieldDef) (size, align uint32, err error) {
	switch f.Type {
	case FieldBool:
		return 1, 1, nil
	case FieldInt64, FieldUint64, FieldFloat64:
		return 8, 8, nil
	case FieldString:
		if f.MaxSize == 0 {
			return 0, 0, fmt.Errorf("max_size required for %v", f.Type)
		}
		if f.MaxSize > math.MaxUint32-4 {
			return 0, 0, fmt.Errorf("max_size %d overflows uint32", f.MaxSize)
		}
		return 4 + f.MaxSize, 4, nil
	default:
		return 0, 0, fmt.Errorf("unknown field type %d", f.Type)
	}
}

// Field returns the layout of the named field.
func (r *RecordLayout) Field(name string) (FieldLayout, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldLayout{}, false
}

func (t FieldType) String() string {
	switch t {
	case FieldBool:
		return "bool"
	case FieldInt64:
		return "int64"
	case FieldUint64:
		return "uint64"
	case FieldFloat64:
		return "float64"
	case FieldString:
		return "string"
	default:
		return "unknown"
	}
}

// ParseFieldType is the inverse of FieldType.String.
func ParseFieldType(s string) (FieldType, error) {
	for _, t := range []FieldType{FieldBool, FieldInt64, FieldUint64, FieldFloat64, FieldString} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("realmforge: unknown field type %q", s)
}

// ParseFields parses a comma separated schema such as
// "id:uint64,price:float64,name:string:32".
func ParseFields(spec string) ([]FieldDef, error) {
	var defs []FieldDef
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bits := strings.Split(part, ":")
		if len(bits) < 2 || len(bits) > 3 {
			return nil, fmt.Errorf("realmforge: field %q: want name:type[:max]", part)
		}
		typ, err := ParseFieldType(bits[1])
		if err != nil {
			return nil, err
		}
		def := FieldDef{Name: bits[0], Type: typ}
		if len(bits) == 3 {
			n, err := strconv.ParseUint(bits[2], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("realmforge: field %q: max size: %w", part, err)
			}
			def.MaxSize = uint32(n)
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("realmforge: empty field list")
	}
	return defs, nil
}

// FieldDescriptor is the canonical representation of a field for schema hashing.
type FieldDescriptor struct {
	Name string
	Type string
	Size uint32
}

// Descriptors converts the layout to FieldDescriptors for schema hashing.
func (r *RecordLayout) Descriptors() []FieldDescriptor {
	descs := make([]FieldDescriptor, len(r.Fields))
	for i, f := range r.Fields {
		descs[i] = FieldDescriptor{
			Name: f.Name,
			Type: f.Type.String(),
			Size: f.Size,
		}
	}
	return descs
}

// SchemaHash computes the SHA-256 of a canonical field descriptor string.
// Fields are sorted by name so the hash is layout-order-independent.
func SchemaHash(fields []FieldDescriptor) [32]byte {
	sorted := make([]FieldDescriptor, len(fields))
	copy(sorted, fields)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	parts := make([]string, len(sorted))
	for i, f := range sorted {
		parts[i] = fmt.Sprintf("%s:%s:%d", f.Name, f.Type, f.Size)
	}
	return sha256.Sum256([]byte(strings.Join(parts, ",")))
}
