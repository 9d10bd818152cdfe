// Package realmerr is the typed, recoverable-error taxonomy of realmforge.
//
// The storage engine reports failures as native errors: an integer code in
// the io.realmforge domain. Bridge turns one into an Error whose Code is one
// of a closed set of nine ErrorCode values. Two Errors are equal when their
// native code and domain match; message text, file path and the identity of
// the wrapped native object are ignored.
//
// Errors work with the standard errors package. Catch a specific failure
// with errors.Is and one of the pattern values:
//
//	r, err := realmforge.Open(cfg)
//	switch {
//	case errors.Is(err, realmerr.ErrFileFormatUpgradeRequired):
//		// reopen with upgrades enabled
//	case errors.Is(err, realmerr.ErrIncompatibleLockFile):
//		// another process owns the file
//	}
//
// or branch on the code itself:
//
//	if code, ok := realmerr.CodeOf(err); ok {
//		switch code {
//		case realmerr.FileExists:
//		...
//		}
//	}
//
// The package is stateless. Every function is pure and every value is
// immutable, so Errors can be shared freely between goroutines.
package realmerr
