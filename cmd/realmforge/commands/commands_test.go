package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CreditWorthy/realmforge/internal/cli/output"
	"github.com/CreditWorthy/realmforge/realmerr"
)

const testFields = "id:uint64,name:string:16"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func createRealm(t *testing.T, records string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.realm")
	_, err := run(t, "create", path, "--fields", testFields, "--records", records)
	require.NoError(t, err)
	return path
}

func TestCodes_JSON(t *testing.T) {
	out, err := run(t, "codes", "-o", "json")
	require.NoError(t, err)

	var rows []codeRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, len(realmerr.Codes()))
	for i, c := range realmerr.Codes() {
		assert.Equal(t, c.String(), rows[i].Code)
		assert.Equal(t, c.NativeCode(), rows[i].Native)
	}
}

func TestCodes_Table(t *testing.T) {
	out, err := run(t, "codes")
	require.NoError(t, err)
	assert.Contains(t, out, "DESCRIPTION")
	assert.Contains(t, out, "incompatibleLockFile")
	assert.Contains(t, out, "schemaMismatch")
}

func TestCreateAndInspect(t *testing.T) {
	path := createRealm(t, "3")

	out, err := run(t, "inspect", path, "--fields", testFields, "-o", "json")
	require.NoError(t, err)

	var info infoView
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, path, info.Path)
	assert.Equal(t, 3, info.Records)
	assert.True(t, info.ReadOnly)
	assert.Len(t, info.SchemaHash, 64)

	out, err = run(t, "inspect", path, "--fields", testFields)
	require.NoError(t, err)
	assert.Contains(t, out, "Records")
}

func TestInspect_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.realm")

	out, err := run(t, "inspect", path, "--fields", testFields, "-o", "json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, realmerr.ErrFileNotFound))
	assert.Equal(t, 2, ExitCode(err))

	var v errorView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "fileNotFound", v.Code)
	assert.Equal(t, 5, v.Native)
}

func TestInspect_SchemaMismatch(t *testing.T) {
	path := createRealm(t, "0")

	out, err := run(t, "inspect", path, "--fields", "id:int64")
	require.Error(t, err)
	assert.True(t, errors.Is(err, realmerr.ErrSchemaMismatch))
	assert.Equal(t, 2, ExitCode(err))
	assert.Contains(t, out, "schemaMismatch")

	_, err = run(t, "inspect", path, "--fields", testFields, "--schema-version", "4")
	assert.True(t, errors.Is(err, realmerr.ErrSchemaMismatch))
}

func TestCopy(t *testing.T) {
	src := createRealm(t, "2")
	dst := filepath.Join(t.TempDir(), "copy.realm")

	out, err := run(t, "copy", src, dst, "--fields", testFields)
	require.NoError(t, err)
	assert.Contains(t, out, "copied")

	_, err = run(t, "copy", src, dst, "--fields", testFields)
	assert.True(t, errors.Is(err, realmerr.ErrFileExists))
	assert.Equal(t, 2, ExitCode(err))

	out, err = run(t, "inspect", dst, "--fields", testFields, "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "records: 2")
}

func TestSchemaFromEnvironment(t *testing.T) {
	path := createRealm(t, "1")
	t.Setenv("REALMFORGE_FIELDS", testFields)

	_, err := run(t, "inspect", path)
	assert.NoError(t, err)
}

func TestSchemaFromConfigFile(t *testing.T) {
	path := createRealm(t, "1")
	cfg := filepath.Join(t.TempDir(), "realmforge.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("fields: "+testFields+"\nschema-version: 0\n"), 0o644))

	_, err := run(t, "inspect", path, "--config", cfg)
	assert.NoError(t, err)
}

func TestMissingSchema(t *testing.T) {
	_, err := run(t, "inspect", filepath.Join(t.TempDir(), "x.realm"))
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))

	_, err = run(t, "codes", "-o", "xml")
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestFinish_KeepsCloseError(t *testing.T) {
	flushErr := errors.New("msync failed")
	failing := closerFunc(func() error { return flushErr })

	err := finish(failing, nil)
	require.ErrorIs(t, err, flushErr)
	assert.Equal(t, 1, ExitCode(err))

	err = finish(failing, realmerr.ErrFileExists)
	assert.ErrorIs(t, err, flushErr)
	assert.ErrorIs(t, err, realmerr.ErrFileExists)
	assert.Equal(t, 2, ExitCode(err))

	assert.NoError(t, finish(closerFunc(func() error { return nil }), nil))
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("stdout closed") }

func TestReport_KeepsPrintError(t *testing.T) {
	for _, f := range []output.Format{output.FormatTable, output.FormatJSON} {
		s := &settings{printer: output.NewPrinter(failWriter{}, f)}
		err := s.report(realmerr.ErrSchemaMismatch)
		assert.ErrorIs(t, err, realmerr.ErrSchemaMismatch, f)
		if f == output.FormatJSON {
			assert.ErrorContains(t, err, "stdout closed")
		}
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 2, ExitCode(realmerr.ErrFail))
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)

	out, err = run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "File format: 2")
}
