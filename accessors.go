package realmforge

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/CreditWorthy/realmforge/internal/store"
)

// lookup resolves a field of record idx. Callers hold r.mu for reading.
func (r *Realm) lookup(idx int, name string, want FieldType) (store.FieldLayout, error) {
	if r.store == nil {
		return store.FieldLayout{}, fmt.Errorf("realmforge: %s: %w", r.path, ErrClosed)
	}
	f, ok := r.store.Layout().Field(name)
	if !ok {
		return store.FieldLayout{}, fmt.Errorf("realmforge: field %q: %w", name, ErrUnknownField)
	}
	if f.Type != want {
		return store.FieldLayout{}, fmt.Errorf("realmforge: field %q is %s, not %s: %w", name, f.Type, want, ErrFieldType)
	}
	if n := r.store.Len(); idx < 0 || idx >= n {
		return store.FieldLayout{}, fmt.Errorf("realmforge: record %d: %w (len=%d)", idx, ErrOutOfBounds, n)
	}
	return f, nil
}

func get[T any](r *Realm, idx int, name string, typ FieldType, read func(store.FieldLayout) (T, error)) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, err := r.lookup(idx, name, typ)
	if err != nil {
		var zero T
		return zero, err
	}
	for {
		seq := r.store.SeqReadBegin(idx)
		if seq&1 == 1 {
			runtime.Gosched()
			continue
		}
		v, err := read(f)
		if r.store.SeqReadValid(idx, seq) {
			return v, err
		}
	}
}

func set(r *Realm, idx int, name string, typ FieldType, write func(store.FieldLayout) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, err := r.lookup(idx, name, typ)
	if err != nil {
		return err
	}
	if !r.store.Writable() {
		return fmt.Errorf("realmforge: write %s: %w", r.path, ErrReadOnly)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.store.SeqBeginWrite(idx)
	defer r.store.SeqEndWrite(idx)
	return write(f)
}

func (r *Realm) Bool(idx int, name string) (bool, error) {
	return get(r, idx, name, FieldBool, func(f store.FieldLayout) (bool, error) {
		return r.store.ReadBool(idx, f.Offset)
	})
}

func (r *Realm) SetBool(idx int, name string, v bool) error {
	return set(r, idx, name, FieldBool, func(f store.FieldLayout) error {
		return r.store.WriteBool(idx, f.Offset, v)
	})
}

func (r *Realm) Int64(idx int, name string) (int64, error) {
	return get(r, idx, name, FieldInt64, func(f store.FieldLayout) (int64, error) {
		return r.store.ReadInt64(idx, f.Offset)
	})
}

func (r *Realm) SetInt64(idx int, name string, v int64) error {
	return set(r, idx, name, FieldInt64, func(f store.FieldLayout) error {
		return r.store.WriteInt64(idx, f.Offset, v)
	})
}

func (r *Realm) Uint64(idx int, name string) (uint64, error) {
	return get(r, idx, name, FieldUint64, func(f store.FieldLayout) (uint64, error) {
		return r.store.ReadUint64(idx, f.Offset)
	})
}

func (r *Realm) SetUint64(idx int, name string, v uint64) error {
	return set(r, idx, name, FieldUint64, func(f store.FieldLayout) error {
		return r.store.WriteUint64(idx, f.Offset, v)
	})
}

func (r *Realm) Float64(idx int, name string) (float64, error) {
	return get(r, idx, name, FieldFloat64, func(f store.FieldLayout) (float64, error) {
		return r.store.ReadFloat64(idx, f.Offset)
	})
}

func (r *Realm) SetFloat64(idx int, name string, v float64) error {
	return set(r, idx, name, FieldFloat64, func(f store.FieldLayout) error {
		return r.store.WriteFloat64(idx, f.Offset, v)
	})
}

// String returns a copy of a string field; it stays valid after Close.
func (r *Realm) String(idx int, name string) (string, error) {
	return get(r, idx, name, FieldString, func(f store.FieldLayout) (string, error) {
		s, err := r.store.ReadString(idx, f.Offset, f.Size, f.MaxSize)
		return strings.Clone(s), err
	})
}

func (r *Realm) SetString(idx int, name string, v string) error {
	return set(r, idx, name, FieldString, func(f store.FieldLayout) error {
		return r.store.WriteString(idx, f.Offset, f.Size, f.MaxSize, v)
	})
}
