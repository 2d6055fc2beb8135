// Package errs provides the unified error type used across all of dbops.
//
// Every subsystem (database drivers, introspection, import/export, filestore)
// wraps its native errors into *errs.Error before returning them to callers.
// Callers use the Is* predicates to handle errors without importing
// driver-specific packages.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindTimeout, "query timed out", pgErr)
//
//	// In a command, check the error kind:
//	if errs.IsNotFound(err) {
//	    fmt.Fprintln(os.Stderr, "no such table")
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // missing table, schema, column or object
	ErrKindAmbiguous                // a name matched more than one candidate
	ErrKindConnectionFailed         // cannot reach or authenticate to the backend
	ErrKindTimeout                  // statement timeout / context cancellation
	ErrKindQueryFailed              // SQL syntax, constraint or execution error
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindPermissionDenied         // access denied
	ErrKindTypeMismatch             // a value cannot be coerced to a column type
	ErrKindIO                       // CSV file or object unreadable / unwritable
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindAmbiguous:
		return "ambiguous"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindTypeMismatch:
		return "type_mismatch"
	case ErrKindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all dbops subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", KindOf(e), e.text())
}

// text renders the message chain, printing the kind only once.
func (e *Error) text() string {
	if e.Cause == nil {
		return e.Message
	}
	if c, ok := e.Cause.(*Error); ok {
		return e.Message + ": " + c.text()
	}
	return e.Message + ": " + e.Cause.Error()
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Context re-wraps err under a new message while keeping its kind.
// Errors that are not *Error are classified as ErrKindUnknown.
func Context(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Message: msg, Cause: err}
}

// --- Predicates ---

// IsNotFound reports whether err represents a missing table, schema, column or object.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsAmbiguous reports whether a name resolved to more than one candidate.
func IsAmbiguous(err error) bool {
	return KindOf(err) == ErrKindAmbiguous
}

// IsTimeout reports whether err was caused by a deadline, statement timeout or cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a statement failure. A cancelled or
// timed-out statement counts as a failed query too.
func IsQueryFailed(err error) bool {
	k := KindOf(err)
	return k == ErrKindQueryFailed || k == ErrKindTimeout
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsTypeMismatch reports whether a value could not be coerced to its column type.
func IsTypeMismatch(err error) bool {
	return KindOf(err) == ErrKindTypeMismatch
}

// IsIO reports whether err is a file or object storage failure.
func IsIO(err error) bool {
	return KindOf(err) == ErrKindIO
}

// KindOf extracts the outermost ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == ErrKindUnknown && e.Cause != nil {
			return KindOf(e.Cause)
		}
		return e.Kind
	}
	return ErrKindUnknown
}

// Message returns the text of err without the leading kind tag.
func Message(err error) string {
	if e, ok := err.(*Error); ok {
		return e.text()
	}
	return err.Error()
}
