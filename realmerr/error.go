package realmerr

import (
	"errors"

	"github.com/CreditWorthy/realmforge/native"
)

// Error is a bridged engine failure. Its code is always derived from the
// wrapped native error, so the typed and native views cannot disagree.
//
// The zero Error wraps nothing and is only useful as an errors.As target.
type Error struct {
	native *native.Error
}

var _ error = Error{}

// Pattern values for catch-style matching with errors.Is or Matches.
var (
	ErrFail                      = pattern(Fail)
	ErrFileAccess                = pattern(FileAccess)
	ErrFilePermissionDenied      = pattern(FilePermissionDenied)
	ErrFileExists                = pattern(FileExists)
	ErrFileNotFound              = pattern(FileNotFound)
	ErrIncompatibleLockFile      = pattern(IncompatibleLockFile)
	ErrFileFormatUpgradeRequired = pattern(FileFormatUpgradeRequired)
	ErrAddressSpaceExhausted     = pattern(AddressSpaceExhausted)
	ErrSchemaMismatch            = pattern(SchemaMismatch)
)

func pattern(c ErrorCode) Error {
	return Bridge(native.New(c.NativeCode(), "", "realmforge: "+c.Description(), nil))
}

// Pattern returns the pattern value for c.
func Pattern(c ErrorCode) Error {
	return pattern(c)
}

// Bridge wraps an engine error. The caller guarantees n belongs to
// native.Domain; BridgeError performs that filtering for arbitrary errors.
//
// Bridge panics if n carries a code this package does not know, which
// means the engine grew a new failure without a matching ErrorCode.
func Bridge(n *native.Error) Error {
	codeOf(n.Domain, n.Code)
	return Error{native: n}
}

// BridgeError finds the first engine error in err's tree, depth first as
// errors.As walks it, and bridges it. Native errors of other domains are
// skipped. It reports false when err did not originate in the storage engine.
func BridgeError(err error) (Error, bool) {
	switch e := err.(type) {
	case nil:
		return Error{}, false
	case Error:
		if e.native != nil {
			return e, true
		}
	case *Error:
		if e == nil {
			return Error{}, false
		}
		if e.native != nil {
			return *e, true
		}
	case *native.Error:
		if e == nil {
			return Error{}, false
		}
		if e.Domain == native.Domain {
			return Bridge(e), true
		}
	}

	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return BridgeError(u.Unwrap())
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if e, ok := BridgeError(inner); ok {
				return e, true
			}
		}
	}
	return Error{}, false
}

// CodeOf reports the ErrorCode of the engine error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	e, ok := BridgeError(err)
	if !ok {
		return 0, false
	}
	return e.Code(), true
}

// Code returns the typed code, recomputed from the native error. The zero
// Error has the invalid code 0.
func (e Error) Code() ErrorCode {
	if e.native == nil {
		return 0
	}
	return codeOf(e.native.Domain, e.native.Code)
}

// Native returns the engine error this value was bridged from. Callers must
// treat it as read-only.
func (e Error) Native() *native.Error { return e.native }

func (e Error) Domain() string {
	if e.native == nil {
		return ""
	}
	return e.native.Domain
}

func (e Error) NativeCode() int {
	if e.native == nil {
		return 0
	}
	return e.native.Code
}

// Path is the file the engine was operating on, if it recorded one.
func (e Error) Path() string {
	if e.native == nil {
		return ""
	}
	return e.native.Path
}

func (e Error) Message() string {
	if e.native == nil {
		return ""
	}
	return e.native.Message
}

func (e Error) Error() string {
	if e.native == nil {
		return "realmforge: empty error"
	}
	return e.Code().String() + ": " + e.native.Error()
}

func (e Error) Unwrap() error {
	if e.native == nil {
		return nil
	}
	return e.native
}

// Equal reports whether e and other are the same kind of failure: equal
// native code and domain.
func (e Error) Equal(other Error) bool {
	return e.NativeCode() == other.NativeCode() && e.Domain() == other.Domain()
}

// Is lets errors.Is match e against an Error pattern.
func (e Error) Is(target error) bool {
	switch t := target.(type) {
	case Error:
		return e.Equal(t)
	case *Error:
		return t != nil && e.Equal(*t)
	}
	return false
}

// Equal reports whether lhs and rhs have the same native code and domain.
func Equal(lhs, rhs Error) bool {
	return lhs.Equal(rhs)
}

// Matches reports whether the thrown error candidate is the failure named by
// pattern. A raw engine error in candidate's chain is bridged first.
func Matches(candidate error, pattern Error) bool {
	if errors.Is(candidate, pattern) {
		return true
	}
	e, ok := BridgeError(candidate)
	return ok && e.Equal(pattern)
}
