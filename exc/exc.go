// Package exc provides the error type used throughout capnwire.  Every
// fatal format or contract violation described by the wire spec is
// surfaced through this package instead of bare fmt.Errorf, so callers
// can distinguish "the bytes on the wire are bad" from "the program asked
// for something it's not allowed to" by inspecting Type.
package exc

import "errors"

// Type classifies the kind of failure, mirroring the error taxonomy the
// packed format and message container specify: format violations,
// resource exhaustion, and contract violations all fail the current
// message outright, with no retry at this layer.
type Type int

const (
	// Failed is a generic, non-recoverable failure.
	Failed Type = iota
	// FormatViolation indicates bytes on the wire don't match the packed
	// or framing format (bad tag/run count, truncation, misalignment).
	FormatViolation
	// ContractViolation indicates the caller violated an API contract
	// (empty segment list, double root init, negative nesting limit).
	ContractViolation
	// ResourceExhausted indicates an arena or traversal budget ran out.
	ResourceExhausted
)

func (t Type) String() string {
	switch t {
	case FormatViolation:
		return "format violation"
	case ContractViolation:
		return "contract violation"
	case ResourceExhausted:
		return "resource exhausted"
	default:
		return "failed"
	}
}

// Error is the concrete error type produced by this package.  It carries
// a Type for programmatic dispatch, a Prefix describing what operation
// was being attempted, and an optional wrapped Cause.
type Error struct {
	Type   Type
	Prefix string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Prefix
	if e.Cause != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Cause.Error()
	}
	if msg == "" {
		return e.Type.String()
	}
	return msg
}

// Unwrap lets errors.Is/errors.As see through to Cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error of the given type with the given message.
func New(typ Type, msg string) error {
	return &Error{Type: typ, Prefix: msg}
}

// Annotate wraps msg as a Failed-type error with the given prefix.
func Annotate(prefix, msg string) error {
	return &Error{Type: Failed, Prefix: prefix, Cause: errors.New(msg)}
}

// WrapError annotates err with prefix, describing what operation was
// being attempted when it failed.  If err is already an *Error, its Type
// is preserved; otherwise the wrapped error is Failed.
func WrapError(prefix string, err error) error {
	if err == nil {
		return nil
	}
	typ := Failed
	var e *Error
	if errors.As(err, &e) {
		typ = e.Type
	}
	return &Error{Type: typ, Prefix: prefix, Cause: err}
}

// IsType reports whether err is an *Error of the given Type.
func IsType(err error, typ Type) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == typ
}
