// Package ioobj defines the kernel's generic I/O object interface (spec
// §4.6): the capability set {close, read, write, ctl} shared by every
// descriptor-table entry, reference counting for objects shared across
// fork, and the progress-based ReadFull/WriteFull loop helpers.
package ioobj

import (
	"sync"

	"github.com/rvos-edu/rv64kernel/internal/kerr"
)

// Cmd is one of the generic ctl commands every Object kind must answer
// (device-specific kinds may recognize additional commands beyond these).
type Cmd int

const (
	CmdGetLen Cmd = iota
	CmdSetPos
	CmdGetPos
	CmdGetBlkSz
	CmdGetRefCnt
)

// Object is a polymorphic byte-oriented I/O handle. Read/Write return the
// number of bytes actually transferred; a zero count with a nil error means
// EOF (read) or no-progress (write), not a failure.
type Object interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
	Ctl(cmd Cmd, arg int64) (int64, error)
}

// ReadFull loops Read until buf is full, an error occurs, or a zero count
// signals EOF, matching the source's ioread_full contract (spec §4.6).
func ReadFull(o Object, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := o.Read(buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// WriteFull loops Write until buf is fully transferred, an error occurs, or
// a zero count signals no further progress (spec §4.6's iowrite).
func WriteFull(o Object, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := o.Write(buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// Ref is a reference-counted handle on an Object, shared by every
// descriptor table slot that refers to it (spec §3's "I/O object"
// invariant: refcount equals the number of descriptor slots pointing at it).
type Ref struct {
	mu    sync.Mutex
	count int
	obj   Object
}

// NewRef wraps obj with an initial reference count of one.
func NewRef(obj Object) *Ref {
	return &Ref{obj: obj, count: 1}
}

// Retain increments the reference count, e.g. when a descriptor slot is
// copied into a child process across fork.
func (r *Ref) Retain() {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
}

// Release decrements the reference count and closes the underlying object
// once the last reference is gone.
func (r *Ref) Release() error {
	r.mu.Lock()
	r.count--
	n := r.count
	r.mu.Unlock()
	if n < 0 {
		panic("ioobj: reference count went negative")
	}
	if n == 0 {
		return r.obj.Close()
	}
	return nil
}

// Count reports the current reference count (backs the GETREFCNT ctl command).
func (r *Ref) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(r.count)
}

// Object returns the wrapped Object.
func (r *Ref) Object() Object { return r.obj }

// Literal is an in-memory, file-like view over a byte slice (spec §3's
// "in-memory literal"). Reads and writes advance an internal cursor; writes
// past the current length grow the backing slice.
type Literal struct {
	mu   sync.Mutex
	data []byte
	pos  int64
}

// NewLiteral wraps data as a Literal I/O object, copying nothing - the
// caller hands over ownership of data.
func NewLiteral(data []byte) *Literal {
	return &Literal{data: data}
}

func (l *Literal) Read(buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pos >= int64(len(l.data)) {
		return 0, nil
	}
	n := copy(buf, l.data[l.pos:])
	l.pos += int64(n)
	return n, nil
}

func (l *Literal) Write(buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	end := l.pos + int64(len(buf))
	if end > int64(len(l.data)) {
		grown := make([]byte, end)
		copy(grown, l.data)
		l.data = grown
	}
	n := copy(l.data[l.pos:], buf)
	l.pos += int64(n)
	return n, nil
}

func (l *Literal) Close() error { return nil }

func (l *Literal) Ctl(cmd Cmd, arg int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch cmd {
	case CmdGetLen:
		return int64(len(l.data)), nil
	case CmdSetPos:
		if arg < 0 || arg > int64(len(l.data)) {
			return 0, kerr.New("ioctl", kerr.EINVAL, "seek out of range")
		}
		l.pos = arg
		return arg, nil
	case CmdGetPos:
		return l.pos, nil
	default:
		return 0, kerr.New("ioctl", kerr.ENOTSUP, "command not supported by this object kind")
	}
}
