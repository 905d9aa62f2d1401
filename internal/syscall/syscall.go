// Package syscall implements the trap-frame dispatcher named in spec §6:
// it reads a fixed set of argument registers out of a trap frame, performs
// the requested operation against a process and its descriptor table, and
// writes the result back into the frame's first argument register - the
// same "parse a fixed header, dispatch on a field, write a result back"
// shape as the teacher's queue.Runner.handleIORequest, which switches on
// desc.GetOp() and calls submitCommitAndFetch with the outcome.
//
// Trap glue assembly (the code that actually builds this frame from a
// hardware ecall and resumes user mode from it) is an out-of-scope
// collaborator; this package only consumes an already-built TrapFrame.
package syscall

import (
	"github.com/rvos-edu/rv64kernel/internal/ioobj"
	"github.com/rvos-edu/rv64kernel/internal/kerr"
	"github.com/rvos-edu/rv64kernel/internal/process"
)

// Syscall numbers, spec §6's ABI table.
const (
	Msgout  = 0
	Exit    = 1
	Devopen = 2
	Fsopen  = 3
	Close   = 4
	Read    = 5
	Write   = 6
	Ioctl   = 7
	Exec    = 8
	Fork    = 9
	Wait    = 10
	Pipe    = 11
)

// TrapFrame mirrors spec §6's "31 GPRs (x1..x31), the user sstatus, sepc,
// and a reserved slot, contiguous" layout. GPR[0] holds x1 (ra); GPR[i]
// holds x(i+1). The RISC-V integer calling convention's a0..a7 are
// x10..x17, so GPR[9] is a0 and GPR[16] is a7 - the syscall number
// register - matching the real trap assembly's register numbering rather
// than inventing a simpler ABI.
type TrapFrame struct {
	GPR     [31]uint64
	Sstatus uint64
	Sepc    uint64
	_       uint64 // reserved slot, spec §6
}

const a0Index = 9

// A returns argument register a(n) for n in [0,7].
func (f *TrapFrame) A(n int) uint64 { return f.GPR[a0Index+n] }

// SetA0 writes the syscall result into a0, "the result replaces the first
// argument register" (spec §6).
func (f *TrapFrame) SetA0(v uint64) { f.GPR[a0Index] = v }

// Environment supplies the collaborators a syscall needs beyond the
// calling process itself: named device and file lookup, and pipe
// construction. Kept as an interface, the same way the teacher's
// interfaces.Backend decouples queue.Runner from any one backend, so this
// package doesn't depend on the concrete device registry or boot image
// that wires it together.
type Environment interface {
	OpenDevice(name string, instno int) (ioobj.Object, error)
	OpenFile(name string) (ioobj.Object, error)
	NewPipe() ioobj.Object
	Log(msg string)
}

// Dispatch performs the syscall named by frame's a7 register on behalf of
// p, using env for device/file/pipe lookups, and writes the result into
// frame's a0 register (spec §6: "the result replaces the first argument
// register"). It also returns that result directly, for callers (tests,
// and Kernel.Dispatch) that don't want to re-read the frame.
func Dispatch(env Environment, p *process.Process, frame *TrapFrame) int64 {
	var result int64
	switch frame.A(7) {
	case Msgout:
		result = doMsgout(env, p, frame)
	case Exit:
		p.Exit() // never returns
		return 0
	case Devopen:
		result = doDevopen(env, p, frame)
	case Fsopen:
		result = doFsopen(env, p, frame)
	case Close:
		result = doClose(p, frame)
	case Read:
		result = doRead(p, frame)
	case Write:
		result = doWrite(p, frame)
	case Ioctl:
		result = doIoctl(p, frame)
	case Exec:
		result = doExec(p, frame)
	case Fork:
		result = doFork(p)
	case Wait:
		result = doWait(p, frame)
	case Pipe:
		result = doPipe(env, p, frame)
	default:
		result = kerr.Negate(kerr.ENOTSUP)
	}
	frame.SetA0(uint64(result))
	return result
}

func negateErr(err error) int64 {
	if code, ok := kerr.Code(err); ok {
		return kerr.Negate(code)
	}
	return kerr.Negate(kerr.EINVAL)
}

func doMsgout(env Environment, p *process.Process, frame *TrapFrame) int64 {
	msg, err := p.Space().ValidateStr(frame.A(0))
	if err != nil {
		return negateErr(err)
	}
	env.Log(msg)
	return 0
}

func doDevopen(env Environment, p *process.Process, frame *TrapFrame) int64 {
	fd := int(frame.A(0))
	name, err := p.Space().ValidateStr(frame.A(1))
	if err != nil {
		return negateErr(err)
	}
	instno := int(int64(frame.A(2)))
	obj, err := env.OpenDevice(name, instno)
	if err != nil {
		return negateErr(err)
	}
	if err := p.InstallDescriptor(fd, obj); err != nil {
		return negateErr(err)
	}
	return 0
}

func doFsopen(env Environment, p *process.Process, frame *TrapFrame) int64 {
	fd := int(frame.A(0))
	name, err := p.Space().ValidateStr(frame.A(1))
	if err != nil {
		return negateErr(err)
	}
	obj, err := env.OpenFile(name)
	if err != nil {
		return negateErr(err)
	}
	if err := p.InstallDescriptor(fd, obj); err != nil {
		return negateErr(err)
	}
	return 0
}

func doClose(p *process.Process, frame *TrapFrame) int64 {
	if err := p.CloseDescriptor(int(frame.A(0))); err != nil {
		return negateErr(err)
	}
	return 0
}

func doRead(p *process.Process, frame *TrapFrame) int64 {
	fd, bufPtr, n := int(frame.A(0)), frame.A(1), frame.A(2)
	ref, err := p.Descriptor(fd)
	if err != nil {
		return negateErr(err)
	}
	if err := p.Space().ValidatePtrLen(bufPtr, n, true); err != nil {
		return negateErr(err)
	}
	buf := make([]byte, n)
	count, err := ref.Object().Read(buf)
	if err != nil {
		return negateErr(err)
	}
	if err := p.Space().CopyOut(bufPtr, buf[:count]); err != nil {
		return negateErr(err)
	}
	return int64(count)
}

func doWrite(p *process.Process, frame *TrapFrame) int64 {
	fd, bufPtr, n := int(frame.A(0)), frame.A(1), frame.A(2)
	ref, err := p.Descriptor(fd)
	if err != nil {
		return negateErr(err)
	}
	buf := make([]byte, n)
	if err := p.Space().CopyIn(buf, bufPtr); err != nil {
		return negateErr(err)
	}
	count, err := ref.Object().Write(buf)
	if err != nil {
		return negateErr(err)
	}
	return int64(count)
}

func doIoctl(p *process.Process, frame *TrapFrame) int64 {
	fd, cmd, arg := int(frame.A(0)), frame.A(1), frame.A(2)
	ref, err := p.Descriptor(fd)
	if err != nil {
		return negateErr(err)
	}
	if ioobj.Cmd(cmd) == ioobj.CmdGetRefCnt {
		return ref.Count()
	}
	result, err := ref.Object().Ctl(ioobj.Cmd(cmd), int64(arg))
	if err != nil {
		return negateErr(err)
	}
	return result
}

// doExec runs the image at fd to completion inside this call (internal/process's
// Exec has no real address-space jump to perform instead). The ABI says
// exec "never returns on success" because the real syscall replaces the
// calling context entirely; here the replacement program's body runs out
// to its own completion before Dispatch returns, which is the closest this
// simulation gets to that without a trap-return mechanism to not come back
// through.
func doExec(p *process.Process, frame *TrapFrame) int64 {
	fd := int(frame.A(0))
	ref, err := p.Descriptor(fd)
	if err != nil {
		return negateErr(err)
	}
	if err := p.Exec(ref.Object()); err != nil {
		return negateErr(err)
	}
	return 0
}

// doFork implements only the parent half of fork's divergent return value:
// it returns the child's pid to the caller. A program that needs the
// child's continuation - "0 to child, both proceed past the call" - calls
// process.Process.Fork directly with its own continuation closure; a
// generic register-passing Dispatch has nowhere to carry an arbitrary Go
// closure, so this entry point can only serve callers that don't need one
// (e.g. a program that forks and only the parent does anything differently).
func doFork(p *process.Process) int64 {
	childPID, err := p.Fork(nil)
	if err != nil {
		return negateErr(err)
	}
	return int64(childPID)
}

func doWait(p *process.Process, frame *TrapFrame) int64 {
	pid := int(int64(frame.A(0)))
	childPID, err := p.Wait(pid)
	if err != nil {
		return negateErr(err)
	}
	return int64(childPID)
}

func doPipe(env Environment, p *process.Process, frame *TrapFrame) int64 {
	fd := int(frame.A(0))
	if err := p.InstallDescriptor(fd, env.NewPipe()); err != nil {
		return negateErr(err)
	}
	return 0
}
