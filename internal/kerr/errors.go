// Package kerr defines the kernel's error taxonomy: the negative-integer
// codes returned through the syscall ABI (spec §7), wrapped in a structured
// error type so that internal packages can carry operation/subject context
// the same way the teacher's ublk.Error did for device/queue context.
package kerr

import (
	"errors"
	"fmt"
)

// Errno is one of the syscall ABI's negative-integer result codes.
type Errno int32

// The syscall ABI's error taxonomy (spec §7). Values are informational;
// syscalls report them as negative ints (see internal/syscall).
const (
	EINVAL  Errno = 1 // malformed argument, out-of-range seek on a literal
	EBADFD  Errno = 2 // descriptor out of range, unused, or wrong kind
	EBUSY   Errno = 3 // device already open
	ENOTSUP Errno = 4 // operation not implemented by this object kind
	ENOMEM  Errno = 5 // page or heap allocation failed
	EFAULT  Errno = 6 // user pointer out of range or unmapped
	ECHILD  Errno = 7 // wait target is not a child of the caller
	EAGAIN  Errno = 8 // resource temporarily exhausted (e.g. thread table full)
)

func (e Errno) String() string {
	switch e {
	case EINVAL:
		return "EINVAL"
	case EBADFD:
		return "EBADFD"
	case EBUSY:
		return "EBUSY"
	case ENOTSUP:
		return "ENOTSUP"
	case ENOMEM:
		return "ENOMEM"
	case EFAULT:
		return "EFAULT"
	case ECHILD:
		return "ECHILD"
	case EAGAIN:
		return "EAGAIN"
	default:
		return fmt.Sprintf("errno(%d)", int32(e))
	}
}

// Error is a structured kernel error carrying ABI-relevant context.
type Error struct {
	Op    string // operation that failed, e.g. "fork", "memory_validate_vptr_len"
	Errno Errno  // ABI error code
	Msg   string // human-readable detail
	Inner error  // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Errno.String()
	}
	if e.Op != "" {
		return fmt.Sprintf("kernel: %s: %s (%s)", e.Op, msg, e.Errno)
	}
	return fmt.Sprintf("kernel: %s (%s)", msg, e.Errno)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison against a bare Errno or another *Error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if en, ok := target.(Errno); ok {
		return e.Errno == en
	}
	if te, ok := target.(*Error); ok {
		return e.Errno == te.Errno
	}
	return false
}

// New constructs a structured error for op with the given code and message.
func New(op string, code Errno, msg string) *Error {
	return &Error{Op: op, Errno: code, Msg: msg}
}

// Wrap attaches op/code context to an existing error without losing it.
func Wrap(op string, code Errno, inner error) *Error {
	if inner == nil {
		return nil
	}
	return &Error{Op: op, Errno: code, Msg: inner.Error(), Inner: inner}
}

// Code extracts the Errno carried by err, if any, and whether one was found.
func Code(err error) (Errno, bool) {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Errno, true
	}
	return 0, false
}

// IsCode reports whether err carries the given Errno.
func IsCode(err error, code Errno) bool {
	c, ok := Code(err)
	return ok && c == code
}

// Negate converts an Errno into the syscall ABI's negative-integer
// convention (0 or positive values are never errors at this boundary).
func Negate(e Errno) int64 {
	return -int64(e)
}
