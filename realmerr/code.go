package realmerr

import (
	"fmt"

	"github.com/CreditWorthy/realmforge/native"
)

// ErrorCode names one recoverable failure of the storage engine.
//
// The set is closed. Adding a native code to the engine requires a new case
// here and in every switch of this file; Bridge panics on codes it does not
// know rather than inventing an "unknown" value.
//
// The zero ErrorCode is not a valid code; CodeOf returns it for errors that
// did not come from the engine.
type ErrorCode int

const (
	// Fail is an unclassified failure opening a realm.
	Fail ErrorCode = iota + 1
	// FileAccess is a generic I/O failure on the backing file.
	FileAccess
	// FilePermissionDenied means the caller lacks permission for the
	// requested access mode.
	FilePermissionDenied
	// FileExists means the destination of a copy already exists.
	FileExists
	// FileNotFound means the file is missing for a read-only open, or the
	// destination directory of a copy is missing.
	FileNotFound
	// IncompatibleLockFile means another process holds the file open with
	// an incompatible process or architecture model.
	IncompatibleLockFile
	// FileFormatUpgradeRequired means the file format must be upgraded but
	// upgrades were disabled.
	FileFormatUpgradeRequired
	// AddressSpaceExhausted means there is not enough virtual address space
	// to map the realm.
	AddressSpaceExhausted
	// SchemaMismatch means the stored schema differs from the expected one
	// and a migration is required.
	SchemaMismatch
)

// Codes returns every ErrorCode in declaration order.
func Codes() []ErrorCode {
	return []ErrorCode{
		Fail,
		FileAccess,
		FilePermissionDenied,
		FileExists,
		FileNotFound,
		IncompatibleLockFile,
		FileFormatUpgradeRequired,
		AddressSpaceExhausted,
		SchemaMismatch,
	}
}

func (c ErrorCode) String() string {
	switch c {
	case Fail:
		return "fail"
	case FileAccess:
		return "fileAccess"
	case FilePermissionDenied:
		return "filePermissionDenied"
	case FileExists:
		return "fileExists"
	case FileNotFound:
		return "fileNotFound"
	case IncompatibleLockFile:
		return "incompatibleLockFile"
	case FileFormatUpgradeRequired:
		return "fileFormatUpgradeRequired"
	case AddressSpaceExhausted:
		return "addressSpaceExhausted"
	case SchemaMismatch:
		return "schemaMismatch"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Description returns a short human explanation of the code.
func (c ErrorCode) Description() string {
	switch c {
	case Fail:
		return "unclassified failure opening a realm"
	case FileAccess:
		return "I/O failure accessing the backing file"
	case FilePermissionDenied:
		return "permission denied for the requested access mode"
	case FileExists:
		return "destination file already exists"
	case FileNotFound:
		return "backing file or destination directory not found"
	case IncompatibleLockFile:
		return "file is open in a process with an incompatible architecture"
	case FileFormatUpgradeRequired:
		return "file format upgrade required but upgrades are disabled"
	case AddressSpaceExhausted:
		return "insufficient virtual address space to map the realm"
	case SchemaMismatch:
		return "stored schema differs from the expected schema"
	}
	return fmt.Sprintf("invalid error code %d", int(c))
}

// NativeCode returns the engine code that bridges to c. It panics if c is
// not one of the values returned by Codes.
func (c ErrorCode) NativeCode() int {
	switch c {
	case Fail:
		return native.Fail
	case FileAccess:
		return native.FileAccess
	case FilePermissionDenied:
		return native.FilePermissionDenied
	case FileExists:
		return native.FileExists
	case FileNotFound:
		return native.FileNotFound
	case IncompatibleLockFile:
		return native.IncompatibleLockFile
	case FileFormatUpgradeRequired:
		return native.FormatUpgradeRequired
	case AddressSpaceExhausted:
		return native.AddressSpaceExhausted
	case SchemaMismatch:
		return native.SchemaMismatch
	}
	panic(fmt.Sprintf("realmerr: invalid error code %d", int(c)))
}

// codeOf maps an engine code to its ErrorCode. A code outside the known set
// means the engine and this package disagree about the taxonomy.
func codeOf(domain string, code int) ErrorCode {
	switch code {
	case native.Fail:
		return Fail
	case native.FileAccess:
		return FileAccess
	case native.FilePermissionDenied:
		return FilePermissionDenied
	case native.FileExists:
		return FileExists
	case native.FileNotFound:
		return FileNotFound
	case native.IncompatibleLockFile:
		return IncompatibleLockFile
	case native.FormatUpgradeRequired:
		return FileFormatUpgradeRequired
	case native.AddressSpaceExhausted:
		return AddressSpaceExhausted
	case native.SchemaMismatch:
		return SchemaMismatch
	}
	panic(fmt.Sprintf("realmerr: unmapped native code %d in domain %s", code, domain))
}
