// Package native defines the error object raised by the realmforge storage
// engine. A native error is an integer code inside a fixed domain string,
// plus the user info the engine attached when it failed.
//
// Client code normally never handles these directly: the realmforge package
// bridges them into realmerr.Error values at the API boundary.
package native

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Domain is the error namespace of the storage engine.
const Domain = "io.realmforge"

// Engine error codes. 7 is unassigned and must stay that way so stored
// codes keep their meaning across engine versions.
const (
	Fail                  = 1
	FileAccess            = 2
	FilePermissionDenied  = 3
	FileExists            = 4
	FileNotFound          = 5
	FormatUpgradeRequired = 6
	IncompatibleLockFile  = 8
	AddressSpaceExhausted = 9
	SchemaMismatch        = 10
)

// Codes returns every code the engine can raise, in ascending order.
func Codes() []int {
	return []int{
		Fail,
		FileAccess,
		FilePermissionDenied,
		FileExists,
		FileNotFound,
		FormatUpgradeRequired,
		IncompatibleLockFile,
		AddressSpaceExhausted,
		SchemaMismatch,
	}
}

// Error is a failure raised by the engine. It is never mutated after
// construction.
type Error struct {
	Domain  string
	Code    int
	Message string
	Path    string
	cause   error
}

// New builds an in-domain engine error. cause may be nil.
func New(code int, path, msg string, cause error) *Error {
	return &Error{
		Domain:  Domain,
		Code:    code,
		Message: msg,
		Path:    path,
		cause:   cause,
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code int, path, format string, args ...any) *Error {
	return New(code, path, fmt.Sprintf(format, args...), nil)
}

// FromOS classifies an error returned by the operating system while the
// engine was performing op on path. An err that already carries a native
// error is returned unchanged.
func FromOS(op, path string, err error) *Error {
	var n *Error
	if errors.As(err, &n) {
		return n
	}
	return New(classify(err), path, fmt.Sprintf("realmforge: %s %s", op, path), err)
}

func classify(err error) int {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return FileNotFound
	case errors.Is(err, fs.ErrPermission):
		return FilePermissionDenied
	case errors.Is(err, fs.ErrExist):
		return FileExists
	case errors.Is(err, syscall.ENOMEM):
		return AddressSpaceExhausted
	default:
		return FileAccess
	}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Message)
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	fmt.Fprintf(&b, " [%s:%d]", e.Domain, e.Code)
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }
