// Package errs implements the ClaudeFS error taxonomy: a small set of
// sentinel codes that every component wraps its failures in, so gateway
// code can map them to errno/HTTP without depending on any particular
// component.
package errs

import (
	"golang.org/x/xerrors"
)

// Code classifies an error by kind, not by concrete type.
type Code int

const (
	Unknown Code = iota

	// Structural
	NotFound
	AlreadyExists
	InvalidArgument
	PermissionDenied

	// Capacity
	OutOfSpace
	Busy

	// Integrity
	ChecksumMismatch
	CorruptJournalEntry
	InvalidVersion

	// Transient
	Timeout
	ConnectionReset
	ThrottleStalled

	// Fatal
	DeviceFailure
	SplitBrainUnhealable
)

func (c Code) String() string {
	switch c {
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case InvalidArgument:
		return "invalid_argument"
	case PermissionDenied:
		return "permission_denied"
	case OutOfSpace:
		return "out_of_space"
	case Busy:
		return "busy"
	case ChecksumMismatch:
		return "checksum_mismatch"
	case CorruptJournalEntry:
		return "corrupt_journal_entry"
	case InvalidVersion:
		return "invalid_version"
	case Timeout:
		return "timeout"
	case ConnectionReset:
		return "connection_reset"
	case ThrottleStalled:
		return "throttle_stalled"
	case DeviceFailure:
		return "device_failure"
	case SplitBrainUnhealable:
		return "split_brain_unhealable"
	default:
		return "unknown"
	}
}

// Error is the concrete error type every component returns. It carries a
// Code so callers can classify the failure without string matching, and
// wraps an underlying cause the way xerrors.Errorf("%w", ...) expects.
type Error struct {
	Op    string
	Code  Code
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Op + ": " + e.Code.String() + ": " + e.Cause.Error()
	}
	return e.Op + ": " + e.Code.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no further wrapped cause.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Cause: xerrors.New(msg)}
}

// Wrap annotates an existing error with an op and code, preserving it as the
// unwrap chain's cause.
func Wrap(op string, code Code, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Code: code, Cause: err}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, else Unknown.
func CodeOf(err error) Code {
	var e *Error
	if xerrors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
