// Package uart implements the kernel's character-device collaborator (out
// of scope per the purpose statement, simulated here as a byte queue) and
// the terminal line-discipline wrapper named in spec §3's I/O object
// variants: CRLF normalization on output, backspace-aware canonical-mode
// line buffering on input.
package uart

import (
	"io"
	"sync"

	"github.com/rvos-edu/rv64kernel/internal/ioobj"
	"github.com/rvos-edu/rv64kernel/internal/kerr"
	"github.com/rvos-edu/rv64kernel/internal/thread"
)

// Device is a character device: input bytes are injected by whatever
// stands in for the driver/ISR (Inject), output bytes go to out.
type Device struct {
	mgr *thread.Manager

	mu       sync.Mutex
	in       []byte
	notEmpty *thread.Condition

	out io.Writer
}

// New constructs a UART backed by out for writes, scheduled through mgr.
func New(mgr *thread.Manager, out io.Writer) *Device {
	return &Device{mgr: mgr, out: out, notEmpty: thread.NewCondition()}
}

// Inject simulates the driver delivering received bytes (e.g. from a
// terminal) into the device's input queue.
func (d *Device) Inject(b []byte) {
	d.mu.Lock()
	d.in = append(d.in, b...)
	d.mgr.Broadcast(d.notEmpty)
	d.mu.Unlock()
}

func (d *Device) Read(buf []byte) (int, error) {
	d.mu.Lock()
	for len(d.in) == 0 {
		d.mgr.Wait(d.notEmpty, d.mu.Unlock, d.mu.Lock)
	}
	n := copy(buf, d.in)
	d.in = d.in[n:]
	d.mu.Unlock()
	return n, nil
}

func (d *Device) Write(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out.Write(buf)
}

func (d *Device) Close() error { return nil }

func (d *Device) Ctl(cmd ioobj.Cmd, arg int64) (int64, error) {
	switch cmd {
	case ioobj.CmdGetBlkSz:
		return 1, nil
	default:
		return 0, kerr.New("ioctl", kerr.ENOTSUP, "command not supported by uart")
	}
}

const (
	backspace = 0x08
	del       = 0x7f
)

// LineDiscipline wraps an ioobj.Object, normalizing '\n' to "\r\n" on
// write and buffering input into complete, backspace-edited lines on read
// (canonical mode), per spec §3's "line-discipline wrapper".
type LineDiscipline struct {
	under ioobj.Object

	mu      sync.Mutex
	lineBuf []byte
}

// Wrap installs canonical-mode line discipline over under.
func Wrap(under ioobj.Object) *LineDiscipline {
	return &LineDiscipline{under: under}
}

func (l *LineDiscipline) Write(buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	consumed := 0
	for _, b := range buf {
		out := []byte{b}
		if b == '\n' {
			out = []byte{'\r', '\n'}
		}
		if _, err := ioobj.WriteFull(l.under, out); err != nil {
			return consumed, err
		}
		consumed++
	}
	return consumed, nil
}

func (l *LineDiscipline) Read(buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if i := indexByte(l.lineBuf, '\n'); i >= 0 {
			n := copy(buf, l.lineBuf[:i+1])
			l.lineBuf = l.lineBuf[n:]
			return n, nil
		}
		chunk := make([]byte, 64)
		n, err := l.under.Read(chunk)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, nil
		}
		for _, b := range chunk[:n] {
			switch b {
			case backspace, del:
				if len(l.lineBuf) > 0 {
					l.lineBuf = l.lineBuf[:len(l.lineBuf)-1]
				}
			case '\r':
				l.lineBuf = append(l.lineBuf, '\n')
			default:
				l.lineBuf = append(l.lineBuf, b)
			}
		}
	}
}

func (l *LineDiscipline) Close() error { return l.under.Close() }

func (l *LineDiscipline) Ctl(cmd ioobj.Cmd, arg int64) (int64, error) {
	return l.under.Ctl(cmd, arg)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
