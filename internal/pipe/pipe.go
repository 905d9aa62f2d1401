// Package pipe implements the kernel's inter-process pipe (spec §4.5): a
// shared 512-byte circular buffer exposed as an ioobj.Object, with
// not_full/not_empty condition variables guarded by the pipe's own lock.
// Reference counting across fork and close is handled generically by
// ioobj.Ref, not by Pipe itself - a Pipe only ever tracks buffer state.
package pipe

import (
	"sync"

	"github.com/rvos-edu/rv64kernel/internal/constants"
	"github.com/rvos-edu/rv64kernel/internal/ioobj"
	"github.com/rvos-edu/rv64kernel/internal/kerr"
	"github.com/rvos-edu/rv64kernel/internal/thread"
)

// Pipe is a bounded FIFO byte bus shared across every descriptor copied
// from it by fork (spec §3's "Pipe").
type Pipe struct {
	mgr *thread.Manager

	mu sync.Mutex

	buf        [constants.PipeCapacity]byte
	head, tail int
	fill       int

	notFull  *thread.Condition
	notEmpty *thread.Condition

	closed bool
}

// New constructs an empty pipe scheduled through mgr.
func New(mgr *thread.Manager) *Pipe {
	return &Pipe{
		mgr:      mgr,
		notFull:  thread.NewCondition(),
		notEmpty: thread.NewCondition(),
	}
}

// Write copies up to min(len(buf), capacity-fill) bytes, blocking while the
// pipe is full. A caller that wants all of buf transferred loops via
// ioobj.WriteFull (spec §4.5: a write larger than capacity proceeds in
// repeated fill-drain cycles, each a separate call here).
func (p *Pipe) Write(buf []byte) (int, error) {
	p.mu.Lock()
	for p.fill == constants.PipeCapacity {
		p.mgr.Wait(p.notFull, p.mu.Unlock, p.mu.Lock)
	}
	n := len(buf)
	if room := constants.PipeCapacity - p.fill; n > room {
		n = room
	}
	for i := 0; i < n; i++ {
		p.buf[p.tail] = buf[i]
		p.tail = (p.tail + 1) % constants.PipeCapacity
	}
	p.fill += n
	p.mgr.Broadcast(p.notEmpty)
	p.mu.Unlock()
	return n, nil
}

// Read copies up to min(len(buf), fill) bytes, blocking while the pipe is empty.
func (p *Pipe) Read(buf []byte) (int, error) {
	p.mu.Lock()
	for p.fill == 0 {
		p.mgr.Wait(p.notEmpty, p.mu.Unlock, p.mu.Lock)
	}
	n := len(buf)
	if n > p.fill {
		n = p.fill
	}
	for i := 0; i < n; i++ {
		buf[i] = p.buf[p.head]
		p.head = (p.head + 1) % constants.PipeCapacity
	}
	p.fill -= n
	p.mgr.Broadcast(p.notFull)
	p.mu.Unlock()
	return n, nil
}

// Close marks the pipe closed. It frees nothing: the buffer and both
// conditions stay with the Pipe value, and Read and Write do not check the
// closed flag. Lifetime past the last descriptor reference is managed by
// ioobj.Ref, which calls this once.
func (p *Pipe) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Ctl reports remaining capacity / fill (spec §4.5's pipe_ioctl); any other
// command is ENOTSUP, including GETREFCNT, which the descriptor layer
// (ioobj.Ref) tracks instead of the pipe itself.
func (p *Pipe) Ctl(cmd ioobj.Cmd, arg int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch cmd {
	case ioobj.CmdGetLen:
		return int64(p.fill), nil
	case ioobj.CmdGetBlkSz:
		return int64(constants.PipeCapacity - p.fill), nil
	default:
		return 0, kerr.New("ioctl", kerr.ENOTSUP, "command not supported by pipe")
	}
}
