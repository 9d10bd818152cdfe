package realmforge_test

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/CreditWorthy/realmforge"
	"github.com/CreditWorthy/realmforge/native"
	"github.com/CreditWorthy/realmforge/realmerr"
)

func testFields() []realmforge.Field {
	return []realmforge.Field{
		{Name: "id", Type: realmforge.FieldUint64},
		{Name: "delta", Type: realmforge.FieldInt64},
		{Name: "price", Type: realmforge.FieldFloat64},
		{Name: "active", Type: realmforge.FieldBool},
		{Name: "name", Type: realmforge.FieldString, MaxSize: 16},
	}
}

func testConfig(t *testing.T) realmforge.Config {
	t.Helper()
	return realmforge.Config{
		Path:          filepath.Join(t.TempDir(), "app.realm"),
		Fields:        testFields(),
		SchemaVersion: 1,
	}
}

func mustOpen(t *testing.T, cfg realmforge.Config) *realmforge.Realm {
	t.Helper()
	r, err := realmforge.Open(cfg)
	require.NoError(t, err)
	return r
}

func requireCode(t *testing.T, err error, want realmerr.ErrorCode) realmerr.Error {
	t.Helper()
	require.Error(t, err)
	var e realmerr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, want, e.Code(), "error: %v", err)
	assert.ErrorIs(t, err, realmerr.Pattern(want))
	return e
}

func TestOpen_CreatesAndReopens(t *testing.T) {
	cfg := testConfig(t)

	r := mustOpen(t, cfg)
	idx, err := r.Append()
	require.NoError(t, err)
	require.NoError(t, r.SetUint64(idx, "id", 7))
	require.NoError(t, r.SetString(idx, "name", "widget"))
	require.NoError(t, r.Close())

	r = mustOpen(t, cfg)
	defer r.Close()

	assert.Equal(t, 1, r.Len())
	id, err := r.Uint64(0, "id")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)

	name, err := r.String(0, "name")
	require.NoError(t, err)
	assert.Equal(t, "widget", name)

	info, err := r.Info()
	require.NoError(t, err)
	assert.Equal(t, realmforge.FormatVersion, info.FormatVersion)
	assert.Equal(t, uint32(1), info.SchemaVersion)
	assert.False(t, info.ReadOnly)
	assert.Equal(t, cfg.Path, r.Path())
	assert.Equal(t, testFields(), r.Schema())
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := realmforge.Open(realmforge.Config{Fields: testFields()})
	assert.ErrorIs(t, err, realmforge.ErrInvalidConfig)

	_, err = realmforge.Open(realmforge.Config{Path: "x.realm"})
	assert.ErrorIs(t, err, realmforge.ErrInvalidConfig)

	cfg := testConfig(t)
	cfg.Fields = []realmforge.Field{{Name: "s", Type: realmforge.FieldString}}
	_, err = realmforge.Open(cfg)
	assert.ErrorIs(t, err, realmforge.ErrInvalidConfig)

	cfg = testConfig(t)
	cfg.ReserveVA = -1
	_, err = realmforge.Open(cfg)
	assert.ErrorIs(t, err, realmforge.ErrInvalidConfig)

	_, ok := realmerr.CodeOf(err)
	assert.False(t, ok, "config errors are not engine errors")
}

func TestOpen_ReadOnlyMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReadOnly = true

	_, err := realmforge.Open(cfg)
	e := requireCode(t, err, realmerr.FileNotFound)
	assert.Equal(t, cfg.Path, e.Path())
}

func TestOpen_MissingDirectory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Path = filepath.Join(t.TempDir(), "missing", "app.realm")

	_, err := realmforge.Open(cfg)
	requireCode(t, err, realmerr.FileNotFound)
}

func TestOpen_SchemaMismatch(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, mustOpen(t, cfg).Close())

	changed := cfg
	changed.Fields = append(testFields(), realmforge.Field{Name: "extra", Type: realmforge.FieldBool})
	_, err := realmforge.Open(changed)
	requireCode(t, err, realmerr.SchemaMismatch)

	bumped := cfg
	bumped.SchemaVersion = 2
	_, err = realmforge.Open(bumped)
	requireCode(t, err, realmerr.SchemaMismatch)
	assert.False(t, realmerr.Matches(err, realmerr.ErrFail))
}

func TestOpen_FormatUpgrade(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, mustOpen(t, cfg).Close())

	f, err := os.OpenFile(cfg.Path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{1, 0, 0, 0}, 4)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	strict := cfg
	strict.DisableFormatUpgrade = true
	_, err = realmforge.Open(strict)
	requireCode(t, err, realmerr.FileFormatUpgradeRequired)

	// the caller recovers by allowing the upgrade
	r, err := realmforge.Open(cfg)
	require.NoError(t, err)
	defer r.Close()

	info, err := r.Info()
	require.NoError(t, err)
	assert.Equal(t, realmforge.FormatVersion, info.FormatVersion)
}

func TestOpen_IncompatibleLockFile(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, mustOpen(t, cfg).Close())

	rec := make([]byte, 24)
	copy(rec, "RFLK")
	binary.LittleEndian.PutUint16(rec[4:6], 1)
	rec[6] = 4
	copy(rec[8:], "mips")

	holder, err := os.OpenFile(cfg.Path+".lock", os.O_RDWR|os.O_TRUNC, 0)
	require.NoError(t, err)
	defer holder.Close()
	_, err = holder.WriteAt(rec, 0)
	require.NoError(t, err)
	require.NoError(t, unix.Flock(int(holder.Fd()), unix.LOCK_SH))

	_, first := realmforge.Open(cfg)
	_, second := realmforge.Open(cfg)

	a := requireCode(t, first, realmerr.IncompatibleLockFile)
	b := requireCode(t, second, realmerr.IncompatibleLockFile)
	assert.True(t, realmerr.Equal(a, b))
	assert.NotSame(t, a.Native(), b.Native())
	assert.False(t, realmerr.Equal(a, realmerr.ErrFileNotFound))
}

func TestOpen_CatchStyleDispatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReadOnly = true
	_, err := realmforge.Open(cfg)

	var handled string
	switch {
	case errors.Is(err, realmerr.ErrFileExists):
		handled = "pick another path"
	case errors.Is(err, realmerr.ErrFileNotFound):
		handled = "create it first"
	default:
		handled = "give up"
	}
	assert.Equal(t, "create it first", handled)

	code, ok := realmerr.CodeOf(err)
	require.True(t, ok)
	switch code {
	case realmerr.Fail, realmerr.FileAccess, realmerr.FilePermissionDenied, realmerr.FileExists,
		realmerr.IncompatibleLockFile, realmerr.FileFormatUpgradeRequired,
		realmerr.AddressSpaceExhausted, realmerr.SchemaMismatch:
		t.Fatalf("unexpected code %s", code)
	case realmerr.FileNotFound:
	}

	var n *native.Error
	require.ErrorAs(t, err, &n)
	assert.Equal(t, native.Domain, n.Domain)
	assert.Equal(t, native.FileNotFound, n.Code)
}

func TestWriteCopy(t *testing.T) {
	r := mustOpen(t, testConfig(t))
	defer r.Close()

	idx, err := r.Append()
	require.NoError(t, err)
	require.NoError(t, r.SetFloat64(idx, "price", 9.5))

	dst := filepath.Join(t.TempDir(), "copy.realm")
	require.NoError(t, r.WriteCopy(dst))

	requireCode(t, r.WriteCopy(dst), realmerr.FileExists)
	requireCode(t, r.WriteCopy(filepath.Join(t.TempDir(), "nope", "copy.realm")), realmerr.FileNotFound)

	c := mustOpen(t, realmforge.Config{Path: dst, Fields: testFields(), SchemaVersion: 1, ReadOnly: true})
	defer c.Close()
	p, err := c.Float64(0, "price")
	require.NoError(t, err)
	assert.Equal(t, 9.5, p)
}

func TestAppend_AddressSpaceExhausted(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReserveVA = 1
	r := mustOpen(t, cfg)
	defer r.Close()

	var err error
	for i := 0; i < 1<<20 && err == nil; i++ {
		_, err = r.Append()
	}
	requireCode(t, err, realmerr.AddressSpaceExhausted)
}

func TestAccessors_AllTypes(t *testing.T) {
	r := mustOpen(t, testConfig(t))
	defer r.Close()

	idx, err := r.Append()
	require.NoError(t, err)

	require.NoError(t, r.SetInt64(idx, "delta", -3))
	require.NoError(t, r.SetBool(idx, "active", true))
	require.NoError(t, r.SetFloat64(idx, "price", 1.5))

	d, err := r.Int64(idx, "delta")
	require.NoError(t, err)
	assert.Equal(t, int64(-3), d)

	a, err := r.Bool(idx, "active")
	require.NoError(t, err)
	assert.True(t, a)

	p, err := r.Float64(idx, "price")
	require.NoError(t, err)
	assert.Equal(t, 1.5, p)
}

func TestAccessors_Misuse(t *testing.T) {
	r := mustOpen(t, testConfig(t))

	_, err := r.Uint64(0, "id")
	assert.ErrorIs(t, err, realmforge.ErrOutOfBounds)

	idx, err := r.Append()
	require.NoError(t, err)

	_, err = r.Uint64(idx, "nope")
	assert.ErrorIs(t, err, realmforge.ErrUnknownField)

	_, err = r.Int64(idx, "id")
	assert.ErrorIs(t, err, realmforge.ErrFieldType)

	assert.ErrorIs(t, r.SetString(idx, "name", "this string is far too long"), realmforge.ErrStringTooLong)

	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Close(), realmforge.ErrClosed)
	_, err = r.Uint64(idx, "id")
	assert.ErrorIs(t, err, realmforge.ErrClosed)
	_, err = r.Append()
	assert.ErrorIs(t, err, realmforge.ErrClosed)
	assert.ErrorIs(t, r.WriteCopy(filepath.Join(t.TempDir(), "c.realm")), realmforge.ErrClosed)
	_, err = r.Info()
	assert.ErrorIs(t, err, realmforge.ErrClosed)
	assert.Zero(t, r.Len())
	assert.Nil(t, r.Schema())
}

func TestReadOnly_RejectsWrites(t *testing.T) {
	cfg := testConfig(t)
	w := mustOpen(t, cfg)
	_, err := w.Append()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	cfg.ReadOnly = true
	r := mustOpen(t, cfg)
	defer r.Close()

	assert.ErrorIs(t, r.SetUint64(0, "id", 1), realmforge.ErrReadOnly)
	_, err = r.Append()
	assert.ErrorIs(t, err, realmforge.ErrReadOnly)

	info, err := r.Info()
	require.NoError(t, err)
	assert.True(t, info.ReadOnly)
}

func TestConcurrentReadWrite(t *testing.T) {
	r := mustOpen(t, testConfig(t))
	defer r.Close()

	idx, err := r.Append()
	require.NoError(t, err)
	require.NoError(t, r.SetString(idx, "name", "aaaaaaaaaaaa"))

	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < 1000; i++ {
			s := "aaaaaaaaaaaa"
			if i%2 == 1 {
				s = "bb"
			}
			if err := r.SetString(idx, "name", s); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < 1000; i++ {
			s, err := r.String(idx, "name")
			if err != nil {
				return err
			}
			if s != "aaaaaaaaaaaa" && s != "bb" {
				return fmt.Errorf("torn read %q", s)
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())
}

func TestInfoDuringWriteCopy(t *testing.T) {
	r := mustOpen(t, testConfig(t))
	defer r.Close()
	_, err := r.Append()
	require.NoError(t, err)
	dir := t.TempDir()

	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < 200; i++ {
			info, err := r.Info()
			if err != nil {
				return err
			}
			if info.Records != 1 || r.Len() != 1 {
				return fmt.Errorf("records %d, len %d", info.Records, r.Len())
			}
		}
		return nil
	})
	g.Go(func() error {
		for i := 0; i < 50; i++ {
			if err := r.WriteCopy(filepath.Join(dir, fmt.Sprintf("copy-%d.realm", i))); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())
}

func TestOpen_LogsBridgedFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cfg := testConfig(t)
	cfg.ReadOnly = true
	cfg.Logger = zap.New(core)

	_, err := realmforge.Open(cfg)
	requireCode(t, err, realmerr.FileNotFound)

	entries := logs.FilterMessage("open failed").FilterLevelExact(zap.WarnLevel).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "fileNotFound", entries[0].ContextMap()["code"])
}
