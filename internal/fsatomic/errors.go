package fsatomic

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can pattern-match on the
// class of problem instead of inspecting error strings.
type ErrorKind int

const (
	// KindValidation marks caller mistakes (bad path, bad payload).
	// Never retried automatically.
	KindValidation ErrorKind = iota

	// KindTransient marks failures that retrying may resolve
	// (rename contention, fsync on handle types that cannot sync).
	KindTransient

	// KindFatal marks persistent filesystem failures (no space,
	// permission denied after retries, missing directory).
	KindFatal
)

// String returns a human-readable name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified filesystem failure.
type Error struct {
	Kind ErrorKind
	Op   string // operation that failed, e.g. "rename", "write"
	Path string // target path of the operation
	Err  error  // underlying cause
}

func (e *Error) Error() string {
	return fmt.Sprintf("fsatomic: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying cause so errors.Is/As keep working.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind recorded on err, or KindFatal when err
// carries no classification.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindFatal
}

// IsValidation reports whether err is a caller error.
func IsValidation(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindValidation
}

func newError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}
