// Package process implements the process table and lifecycle operations
// named in spec §4.4: exec (load an ELF into a fresh address space), fork
// (clone-on-fork of address space and descriptor table), exit (release
// descriptors and reclaim memory), and wait (wraps thread join/join_any).
//
// Each process owns exactly one kernel thread - user threads within a
// process are out of scope - so a process's lifetime tracks its thread's
// one-to-one.
package process

import (
	"fmt"
	"sync"

	"github.com/rvos-edu/rv64kernel/internal/constants"
	"github.com/rvos-edu/rv64kernel/internal/elfload"
	"github.com/rvos-edu/rv64kernel/internal/ioobj"
	"github.com/rvos-edu/rv64kernel/internal/kerr"
	"github.com/rvos-edu/rv64kernel/internal/logging"
	"github.com/rvos-edu/rv64kernel/internal/thread"
	"github.com/rvos-edu/rv64kernel/internal/vm"
)

// Process is one entry in the process table (spec §4.4).
type Process struct {
	mu sync.Mutex

	pid       int
	parentPID int
	tid       thread.TID

	space       *vm.Space
	descriptors [constants.MaxDescriptors]*ioobj.Ref

	table *Table
}

// PID returns the process's identifier.
func (p *Process) PID() int { return p.pid }

// ParentPID returns the pid of the process that created this one, or 0 for
// the root process.
func (p *Process) ParentPID() int { return p.parentPID }

// TID returns the kernel thread backing this process.
func (p *Process) TID() thread.TID { return p.tid }

// Space returns the process's address space.
func (p *Process) Space() *vm.Space { return p.space }

// Descriptor returns the I/O object reference at fd, or an EBADFD error if
// fd is out of range or unused.
func (p *Process) Descriptor(fd int) (*ioobj.Ref, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fd < 0 || fd >= constants.MaxDescriptors || p.descriptors[fd] == nil {
		return nil, kerr.New("descriptor_lookup", kerr.EBADFD, "fd out of range or unused")
	}
	return p.descriptors[fd], nil
}

// InstallDescriptor installs obj at fd (the caller picks the slot the same
// way devopen/fsopen/pipe do). It fails with EBADFD if fd is out of range
// and with EBUSY if fd already holds an object; an occupied slot is left
// untouched.
func (p *Process) InstallDescriptor(fd int, obj ioobj.Object) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fd < 0 || fd >= constants.MaxDescriptors {
		return kerr.New("descriptor_install", kerr.EBADFD, "fd out of range")
	}
	if p.descriptors[fd] != nil {
		return kerr.New("descriptor_install", kerr.EBUSY, "fd already in use")
	}
	p.descriptors[fd] = ioobj.NewRef(obj)
	return nil
}

// CloseDescriptor releases the reference at fd, closing the underlying
// object once its last reference is gone.
func (p *Process) CloseDescriptor(fd int) error {
	p.mu.Lock()
	if fd < 0 || fd >= constants.MaxDescriptors || p.descriptors[fd] == nil {
		p.mu.Unlock()
		return kerr.New("close", kerr.EBADFD, "fd out of range or unused")
	}
	ref := p.descriptors[fd]
	p.descriptors[fd] = nil
	p.mu.Unlock()
	return ref.Release()
}

// Exec loads an ELF image from obj into a fresh address space and resolves
// the registered UserProgram for obj's name, running it to completion in
// the calling kernel thread (spec §4.4's process_exec; "jump to the entry
// point" is this Go rendition's direct call into the resolved program).
// The caller's open descriptors are left untouched - exec replaces the
// program image, not the descriptor table.
func (p *Process) Exec(obj ioobj.Object) error {
	prog, err := elfload.Load(obj)
	if err != nil {
		return err
	}
	userProgram, err := elfload.Resolve(obj)
	if err != nil {
		return err
	}

	newSpace, err := vm.NewSpace(p.table.alloc, p.table.log)
	if err != nil {
		return err
	}
	if err := mapSegments(newSpace, prog); err != nil {
		newSpace.Reclaim()
		return err
	}

	p.mu.Lock()
	oldSpace := p.space
	p.space = newSpace
	p.mu.Unlock()
	p.table.mgr.SetProcess(p.tid, p, newSpace)
	if oldSpace != nil {
		oldSpace.Reclaim()
	}

	userProgram(p)
	return nil
}

// mapSegments lays down every PT_LOAD segment of prog into space.
//
// Every segment is mapped with FlagWrite, regardless of seg.Writable, so
// CopyOut can write the segment's bytes below - this simulation has no
// page-protect operation to later drop write access from what would be a
// read-only text segment on real hardware.
func mapSegments(space *vm.Space, prog *elfload.Program) error {
	for _, seg := range prog.Segments {
		flags := vm.FlagValid | vm.FlagUser | vm.FlagRead | vm.FlagWrite
		if seg.Executable {
			flags |= vm.FlagExec
		}
		length := uint64(len(seg.Data))
		if length == 0 {
			continue
		}
		if err := space.AllocAndMapRange(seg.VAddr, seg.VAddr+length, flags); err != nil {
			return err
		}
		if err := space.CopyOut(seg.VAddr, seg.Data); err != nil {
			return err
		}
	}
	return nil
}

// Fork creates a child process - a cloned address space and a retained
// copy of every open descriptor (spec §4.4's process_fork, steps 1-2) -
// and spawns a new kernel thread for it. Fork returns the child's pid to
// the calling (parent) thread, matching the parent half of fork's
// divergent return value.
//
// Go has no primitive for resuming one goroutine's stack from a second
// location the way a real trap return resumes a parent and child from the
// same program counter, so the child half of that divergence - "0 to
// child, both proceed past the call" - is rendered as continuation-passing:
// onChild runs in the child's own kernel thread once scheduled, with no
// pid of its own to observe, which is this module's equivalent of "the
// child sees fork return 0."
func (p *Process) Fork(onChild func(child *Process)) (int, error) {
	p.mu.Lock()
	space := p.space
	p.mu.Unlock()

	childSpace, err := space.CloneSpace()
	if err != nil {
		return 0, err
	}

	child := p.table.newProcess(p.pid)
	if child == nil {
		childSpace.Reclaim()
		return 0, kerr.New("fork", kerr.EAGAIN, "process table full")
	}
	child.space = childSpace

	p.mu.Lock()
	for fd, ref := range p.descriptors {
		if ref != nil {
			ref.Retain()
			child.descriptors[fd] = ref
		}
	}
	p.mu.Unlock()

	tid, err := p.table.mgr.Spawn(fmt.Sprintf("pid%d", child.pid), func(arg any) {
		cp := arg.(*Process)
		if onChild != nil {
			onChild(cp)
		}
		cp.Exit()
	}, child)
	if err != nil {
		childSpace.Reclaim()
		p.table.forget(child.pid)
		return 0, err
	}
	child.tid = tid
	p.table.mgr.SetProcess(tid, child, childSpace)
	p.table.registerTID(tid, child.pid)

	return child.pid, nil
}

// Exit releases every open descriptor, reclaims the address space, and
// marks the backing thread EXITED (spec §4.4's Exit). Exit never returns.
func (p *Process) Exit() {
	p.mu.Lock()
	descs := p.descriptors
	for i := range p.descriptors {
		p.descriptors[i] = nil
	}
	space := p.space
	p.mu.Unlock()

	for _, ref := range descs {
		if ref != nil {
			_ = ref.Release()
		}
	}
	if space != nil {
		space.Reclaim()
	}
	p.table.mgr.Exit()
}

// Wait reaps one exited child (spec §4.4's Wait wrapping thread_join /
// thread_join_any): pid < 0 waits for any child and returns its pid; pid
// >= 0 waits specifically for that child, erroring with ECHILD if it is
// not one of the caller's children.
func (p *Process) Wait(pid int) (childPID int, err error) {
	if pid < 0 {
		defer func() {
			if recover() != nil {
				childPID, err = 0, kerr.New("wait", kerr.ECHILD, "caller has no children")
			}
		}()
		tid := p.table.mgr.JoinAny()
		return p.table.pidForTID(tid), nil
	}

	child, ok := p.table.Lookup(pid)
	if !ok || child.parentPID != p.pid {
		return 0, kerr.New("wait", kerr.ECHILD, "not a child of the caller")
	}
	if _, err := p.table.mgr.Join(child.tid); err != nil {
		return 0, err
	}
	return pid, nil
}

// Table is the fixed-capacity process table (spec §4.4's "small fixed array").
type Table struct {
	mu        sync.Mutex
	mgr       *thread.Manager
	alloc     *vm.FrameAllocator
	log       *logging.Logger
	processes map[int]*Process
	nextPID   int

	// tidToPID survives past thread_manager recycling a reaped thread's
	// slot, unlike mgr.Process(tid) - join_any needs to report which pid it
	// reaped after the thread table has already forgotten that tid's owner.
	tidToPID map[thread.TID]int
}

// NewTable constructs an empty process table backed by mgr for scheduling
// and alloc for physical frames.
func NewTable(mgr *thread.Manager, alloc *vm.FrameAllocator, log *logging.Logger) *Table {
	if log == nil {
		log = logging.Default()
	}
	return &Table{
		mgr:       mgr,
		alloc:     alloc,
		log:       log,
		processes: map[int]*Process{},
		nextPID:   1,
		tidToPID:  map[thread.TID]int{},
	}
}

func (t *Table) registerTID(tid thread.TID, pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tidToPID[tid] = pid
}

func (t *Table) newProcess(parentPID int) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.processes) >= constants.MaxProcesses {
		return nil
	}
	pid := t.nextPID
	t.nextPID++
	p := &Process{pid: pid, parentPID: parentPID, table: t}
	t.processes[pid] = p
	return p
}

func (t *Table) forget(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.processes, pid)
}

// Lookup returns the process registered under pid, if any.
func (t *Table) Lookup(pid int) (*Process, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.processes[pid]
	return p, ok
}

func (t *Table) pidForTID(tid thread.TID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tidToPID[tid]
}

// Spawn creates a brand-new process bound to a fresh kernel thread and
// execs obj into it as its first program - the kernel's equivalent of
// bootstrapping init at boot (spec §6's "Boot entry"). The ELF is parsed
// and its segments mapped before any thread is created, so a malformed
// image fails synchronously with an error rather than surfacing later on
// a goroutine nothing is watching.
func (t *Table) Spawn(name string, obj ioobj.Object) (*Process, error) {
	p := t.newProcess(0)
	if p == nil {
		return nil, kerr.New("spawn", kerr.EAGAIN, "process table full")
	}

	prog, err := elfload.Load(obj)
	if err != nil {
		t.forget(p.pid)
		return nil, err
	}
	userProgram, err := elfload.Resolve(obj)
	if err != nil {
		t.forget(p.pid)
		return nil, err
	}
	space, err := vm.NewSpace(t.alloc, t.log)
	if err != nil {
		t.forget(p.pid)
		return nil, err
	}
	if err := mapSegments(space, prog); err != nil {
		space.Reclaim()
		t.forget(p.pid)
		return nil, err
	}
	p.space = space

	tid, err := t.mgr.Spawn(name, func(arg any) {
		cp := arg.(*Process)
		userProgram(cp)
		cp.Exit()
	}, p)
	if err != nil {
		space.Reclaim()
		t.forget(p.pid)
		return nil, err
	}
	p.tid = tid
	t.mgr.SetProcess(tid, p, space)
	t.registerTID(tid, p.pid)
	return p, nil
}
