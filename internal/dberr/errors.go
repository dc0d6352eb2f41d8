// Package dberr defines the error kinds the storage core can raise.
//
// Callers distinguish kinds with errors.Is against the sentinel Kind
// values, or errors.As to recover the wrapped detail. None of these are
// meant to be recovered from with a panic/recover pair; they are ordinary
// returned errors.
package dberr

import (
	"errors"
	"fmt"
)

// Kind is a coarse category of storage-core failure, per spec.md §7.
type Kind string

const (
	// InvalidArgument covers illegal page numbers, malformed page sizes,
	// tuple arity mismatches, and out-of-range column indexes. Raised at
	// the call site; never retried.
	InvalidArgument Kind = "invalid_argument"

	// InvalidFilePointer means a stored row address no longer resolves
	// to a live slot.
	InvalidFilePointer Kind = "invalid_file_pointer"

	// IOFailure covers any disk read/write/truncation error.
	IOFailure Kind = "io_failure"

	// CorruptWAL means an unexpected record type, a mismatched
	// transaction ID during rollback, or a recovery end-LSN disagreeing
	// with the scan. Fatal; recovery halts.
	CorruptWAL Kind = "corrupt_wal"

	// CorruptIndex means a B+ tree verifier invariant failed.
	CorruptIndex Kind = "corrupt_index"

	// UnsupportedType means a column type outside the fixed SQL type
	// set. Fatal at the call site.
	UnsupportedType Kind = "unsupported_type"
)

// Error wraps an underlying error with a Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the same Kind, so callers can write
// errors.Is(err, dberr.CorruptWAL) treating Kind itself as a sentinel.
func (e *Error) Is(target error) bool {
	var k Kind
	if errors.As(target, &k) {
		return e.Kind == k
	}
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// Error lets a bare Kind be used as a comparison target for errors.Is,
// e.g. errors.Is(err, dberr.CorruptWAL).
func (k Kind) Error() string { return string(k) }

// New creates an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
