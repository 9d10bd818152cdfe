package native_test

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CreditWorthy/realmforge/native"
)

func TestCodes_UniqueAndInDomain(t *testing.T) {
	t.Parallel()

	seen := map[int]bool{}
	for _, c := range native.Codes() {
		assert.False(t, seen[c], "duplicate code %d", c)
		seen[c] = true

		n := native.New(c, "", "x", nil)
		assert.Equal(t, native.Domain, n.Domain)
		assert.Equal(t, c, n.Code)
	}
	assert.Len(t, seen, 9)
	assert.False(t, seen[7], "code 7 is unassigned")
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	n := native.New(native.FileNotFound, "/a.realm", "realmforge: open /a.realm", fs.ErrNotExist)
	assert.Equal(t, "realmforge: open /a.realm: file does not exist [io.realmforge:5]", n.Error())
	assert.ErrorIs(t, n, fs.ErrNotExist)

	bare := native.Newf(native.Fail, "", "realmforge: bad magic %q", "XXXX")
	assert.Equal(t, `realmforge: bad magic "XXXX" [io.realmforge:1]`, bare.Error())
	assert.NoError(t, bare.Unwrap())

	var nilErr *native.Error
	assert.Equal(t, "<nil>", nilErr.Error())
}

func TestFromOS_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not exist", fs.ErrNotExist, native.FileNotFound},
		{"enoent", syscall.ENOENT, native.FileNotFound},
		{"permission", fs.ErrPermission, native.FilePermissionDenied},
		{"eacces", syscall.EACCES, native.FilePermissionDenied},
		{"exist", fs.ErrExist, native.FileExists},
		{"enomem", syscall.ENOMEM, native.AddressSpaceExhausted},
		{"wrapped enomem", fmt.Errorf("reserve: %w", syscall.ENOMEM), native.AddressSpaceExhausted},
		{"other", errors.New("disk on fire"), native.FileAccess},
		{"eio", syscall.EIO, native.FileAccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := native.FromOS("open", "/x", tt.err)
			assert.Equal(t, tt.want, n.Code)
			assert.Equal(t, "/x", n.Path)
			assert.ErrorIs(t, n, tt.err)
		})
	}
}

func TestFromOS_KeepsNativeError(t *testing.T) {
	t.Parallel()

	orig := native.Newf(native.SchemaMismatch, "/s", "realmforge: schema")
	got := native.FromOS("open", "/other", fmt.Errorf("wrapped: %w", orig))
	assert.Same(t, orig, got)
}

func TestFromOS_RealFilesystem(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := os.Open(filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.Equal(t, native.FileNotFound, native.FromOS("open", "missing", err).Code)

	path := filepath.Join(dir, "exists")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	require.Error(t, err)
	assert.Equal(t, native.FileExists, native.FromOS("create", path, err).Code)
}
