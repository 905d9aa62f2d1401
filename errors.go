package kernel

import "github.com/rvos-edu/rv64kernel/internal/kerr"

// Errno re-exports the kernel's syscall ABI error codes (spec §7) so
// callers of the public API aren't forced to import internal/kerr
// directly, the same way the teacher's root errors.go re-exported
// control-plane error categories.
type Errno = kerr.Errno

const (
	EINVAL  = kerr.EINVAL
	EBADFD  = kerr.EBADFD
	EBUSY   = kerr.EBUSY
	ENOTSUP = kerr.ENOTSUP
	ENOMEM  = kerr.ENOMEM
	EFAULT  = kerr.EFAULT
	ECHILD  = kerr.ECHILD
	EAGAIN  = kerr.EAGAIN
)

// IsCode reports whether err carries the given Errno.
func IsCode(err error, code Errno) bool { return kerr.IsCode(err, code) }

// Code extracts the Errno carried by err, if any, and whether one was found.
func Code(err error) (Errno, bool) { return kerr.Code(err) }
