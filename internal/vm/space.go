// Package vm simulates the Sv39 virtual memory subsystem (spec §4.3): a
// three-level software page table per process, on-demand mapping of the
// user address window, eager copy-on-clone at fork, and the pointer/string
// validation primitives syscalls use to cross the user/kernel boundary.
//
// There is no MMU here, so "switching the active page table" has no
// hardware effect; internal/thread treats vm.Space as the AddressSpace it
// calls Switch() on when scheduling a thread, which is this package's only
// coupling to the scheduler. Kernel code in this simulation is ordinary Go
// code running in the same process regardless of which Space is "active":
// only user-originated pointers are ever validated or walked through a
// Space's page table, so the kernel-reserved low window never needs a
// table entry of its own - a simple range check against constants.UserLo
// rejects any address below it.
package vm

import (
	"sync"

	"github.com/rvos-edu/rv64kernel/internal/constants"
	"github.com/rvos-edu/rv64kernel/internal/kerr"
	"github.com/rvos-edu/rv64kernel/internal/logging"
)

// PTEFlags mirrors the permission bits of an Sv39 page table entry.
type PTEFlags uint8

const (
	FlagValid PTEFlags = 1 << iota
	FlagRead
	FlagWrite
	FlagExec
	FlagUser
	FlagGlobal
	FlagAccessed
	FlagDirty
)

// UserRWX is the permission set handed-out by on-demand page-fault mapping.
const UserRWX = FlagValid | FlagRead | FlagWrite | FlagUser

// Frame is one physical page of backing storage.
type Frame struct {
	Data [constants.PageSize]byte
}

// FrameAllocator is a free-list over a fixed arena of physical frames,
// adapted from the teacher's sync.Pool-backed buffer pool: unlike a sync.Pool,
// a page frame must be explicitly tracked and explicitly freed, since a
// page table entry keeps a live reference to it until unmapped.
type FrameAllocator struct {
	mu   sync.Mutex
	free []*Frame
}

// NewFrameAllocator builds an allocator over n physical frames.
func NewFrameAllocator(n int) *FrameAllocator {
	a := &FrameAllocator{free: make([]*Frame, 0, n)}
	for i := 0; i < n; i++ {
		a.free = append(a.free, &Frame{})
	}
	return a
}

// Alloc removes one frame from the free list.
func (a *FrameAllocator) Alloc() (*Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.free) == 0 {
		return nil, kerr.New("page_alloc", kerr.ENOMEM, "out of physical frames")
	}
	fr := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	return fr, nil
}

// Free zeroes and returns fr to the free list.
func (a *FrameAllocator) Free(fr *Frame) {
	if fr == nil {
		return
	}
	for i := range fr.Data {
		fr.Data[i] = 0
	}
	a.mu.Lock()
	a.free = append(a.free, fr)
	a.mu.Unlock()
}

// Available reports the number of unallocated frames, for tests.
func (a *FrameAllocator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

// PTE is one page table entry: either a pointer to the next-level Table, or
// (at level 0) a leaf mapping onto a physical Frame.
type PTE struct {
	flags PTEFlags
	next  *Table
	frame *Frame
}

func (p *PTE) Valid() bool { return p.flags&FlagValid != 0 }
func (p *PTE) Leaf() bool  { return p.Valid() && p.frame != nil }

// Table is one Sv39 page-table node: constants.PTEsPerTable entries, backed
// by its own physical frame (page-table pages consume the same physical
// pool as data pages, just as on real hardware).
type Table struct {
	entries [constants.PTEsPerTable]PTE
	backing *Frame
}

func newTable(alloc *FrameAllocator) (*Table, error) {
	fr, err := alloc.Alloc()
	if err != nil {
		return nil, err
	}
	return &Table{backing: fr}, nil
}

// Space is one process's Sv39 address space: a 3-level page table root plus
// the frame allocator it draws from.
type Space struct {
	mu    sync.Mutex
	root  *Table
	alloc *FrameAllocator
	log   *logging.Logger
}

// NewSpace allocates an empty address space with no user mappings.
func NewSpace(alloc *FrameAllocator, log *logging.Logger) (*Space, error) {
	if log == nil {
		log = logging.Default()
	}
	root, err := newTable(alloc)
	if err != nil {
		return nil, err
	}
	return &Space{root: root, alloc: alloc, log: log}, nil
}

// Switch implements thread.AddressSpace: the scheduler calls this when a
// thread owning this space is handed the CPU.
func (s *Space) Switch() {
	s.log.Debugf("vm: switching active address space to %p", s)
}

// Reclaim frees every frame owned by this space, including page-table
// nodes themselves. The space must not be used afterward.
func (s *Space) Reclaim() {
	s.mu.Lock()
	defer s.mu.Unlock()
	freeNode(s.root, 2, s.alloc)
	s.root = nil
}

func freeNode(t *Table, level int, alloc *FrameAllocator) {
	for i := range t.entries {
		e := &t.entries[i]
		if !e.Valid() {
			continue
		}
		if level == 0 {
			alloc.Free(e.frame)
		} else {
			freeNode(e.next, level-1, alloc)
		}
	}
	alloc.Free(t.backing)
}

// CloneSpace produces an independent copy of s suitable for fork (spec
// §4.4): every mapped page is eagerly duplicated into a fresh physical
// frame with the same permissions. There is no copy-on-write sharing -
// paging and lazy COW are both out of scope (spec Non-goals).
func (s *Space) CloneSpace() (*Space, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, err := cloneNode(s.root, 2, s.alloc)
	if err != nil {
		return nil, err
	}
	return &Space{root: root, alloc: s.alloc, log: s.log}, nil
}

func cloneNode(src *Table, level int, alloc *FrameAllocator) (*Table, error) {
	fr, err := alloc.Alloc()
	if err != nil {
		return nil, err
	}
	dst := &Table{backing: fr}
	for i := range src.entries {
		se := &src.entries[i]
		if !se.Valid() {
			continue
		}
		de := &dst.entries[i]
		if level == 0 {
			nf, err := alloc.Alloc()
			if err != nil {
				return nil, err
			}
			nf.Data = se.frame.Data
			de.flags = se.flags
			de.frame = nf
			continue
		}
		child, err := cloneNode(se.next, level-1, alloc)
		if err != nil {
			return nil, err
		}
		de.flags = FlagValid
		de.next = child
	}
	return dst, nil
}

// walk descends the three Sv39 levels to the leaf PTE for va. With
// create set it allocates missing intermediate tables; without it, a
// missing intermediate table is reported as EFAULT rather than created.
func walk(root *Table, va uint64, create bool, alloc *FrameAllocator) (*PTE, error) {
	vpn, _ := splitVA(va)
	t := root
	for level := 2; level >= 1; level-- {
		e := &t.entries[vpn[level]]
		if !e.Valid() {
			if !create {
				return nil, kerr.New("memory_walk", kerr.EFAULT, "unmapped page")
			}
			child, err := newTable(alloc)
			if err != nil {
				return nil, err
			}
			e.next = child
			e.flags = FlagValid
		}
		if e.frame != nil {
			return nil, kerr.New("memory_walk", kerr.EFAULT, "superpage mappings are not supported")
		}
		t = e.next
	}
	return &t.entries[vpn[0]], nil
}

func splitVA(va uint64) (vpn [3]int, offset uint64) {
	offset = va & (constants.PageSize - 1)
	v := va >> 12
	for i := 0; i < 3; i++ {
		vpn[i] = int(v & (constants.PTEsPerTable - 1))
		v >>= constants.VPNBits
	}
	return vpn, offset
}

func alignDown(va uint64) uint64 { return va &^ (constants.PageSize - 1) }
func alignUp(va uint64) uint64   { return (va + constants.PageSize - 1) &^ (constants.PageSize - 1) }

// AllocAndMapRange eagerly maps [lo, hi) with the given permissions,
// failing with EINVAL if any page in the range is already mapped (spec
// §4.3, used by exec to lay down a program's segments).
func (s *Space) AllocAndMapRange(lo, hi uint64, flags PTEFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lo, hi = alignDown(lo), alignUp(hi)
	for va := lo; va < hi; va += constants.PageSize {
		pte, err := walk(s.root, va, true, s.alloc)
		if err != nil {
			return err
		}
		if pte.Valid() {
			return kerr.New("memory_alloc_and_map_range", kerr.EINVAL, "range already mapped")
		}
		fr, err := s.alloc.Alloc()
		if err != nil {
			return err
		}
		pte.frame = fr
		pte.flags = flags | FlagValid
	}
	return nil
}

// HandlePageFault services a fault at va with on-demand mapping: a fault
// inside the user window on an unmapped page gets a fresh zero page mapped
// read/write/user; anything else is EFAULT (spec §4.3).
func (s *Space) HandlePageFault(va uint64) error {
	if va < constants.UserLo || va >= constants.UserHi {
		return kerr.New("handle_page_fault", kerr.EFAULT, "address outside user window")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	page := alignDown(va)
	pte, err := walk(s.root, page, true, s.alloc)
	if err != nil {
		return err
	}
	if pte.Valid() {
		return kerr.New("handle_page_fault", kerr.EFAULT, "fault on an already-mapped page")
	}
	fr, err := s.alloc.Alloc()
	if err != nil {
		return err
	}
	pte.frame = fr
	pte.flags = UserRWX
	return nil
}

// validateRangeLocked checks that every page covering [va, va+length) is
// mapped, user-accessible, and (if needWrite) writable. Must be called
// with s.mu held.
func (s *Space) validateRangeLocked(va, length uint64, needWrite bool) error {
	if length == 0 {
		return nil
	}
	end := va + length
	if end < va || va < constants.UserLo || end > constants.UserHi {
		return kerr.New("memory_validate_vptr_len", kerr.EFAULT, "pointer range outside user window")
	}
	for page := alignDown(va); page < alignUp(end); page += constants.PageSize {
		pte, err := walk(s.root, page, false, s.alloc)
		if err != nil || !pte.Valid() {
			return kerr.New("memory_validate_vptr_len", kerr.EFAULT, "unmapped page in range")
		}
		if pte.flags&FlagUser == 0 {
			return kerr.New("memory_validate_vptr_len", kerr.EFAULT, "not user-accessible")
		}
		if needWrite && pte.flags&FlagWrite == 0 {
			return kerr.New("memory_validate_vptr_len", kerr.EFAULT, "read-only mapping")
		}
	}
	return nil
}

// ValidatePtrLen validates a user pointer/length pair before the kernel
// touches it on the caller's behalf (spec §4.3's memory_validate_vptr_len).
func (s *Space) ValidatePtrLen(va, length uint64, needWrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateRangeLocked(va, length, needWrite)
}

// ValidateStr validates and copies out a NUL-terminated user string,
// bounded by constants.MaxValidatedStringLen (spec §4.3's
// memory_validate_vstr).
func (s *Space) ValidateStr(va uint64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	cur := va
	for len(out) < constants.MaxValidatedStringLen {
		if err := s.validateRangeLocked(cur, 1, false); err != nil {
			return "", err
		}
		page := alignDown(cur)
		pte, _ := walk(s.root, page, false, s.alloc)
		b := pte.frame.Data[cur-page]
		if b == 0 {
			return string(out), nil
		}
		out = append(out, b)
		cur++
	}
	return "", kerr.New("memory_validate_vstr", kerr.EINVAL, "string exceeds maximum validated length")
}

// CopyOut validates then writes src into the user address space at va.
func (s *Space) CopyOut(va uint64, src []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateRangeLocked(va, uint64(len(src)), true); err != nil {
		return err
	}
	remaining, cur := src, va
	for len(remaining) > 0 {
		page := alignDown(cur)
		pte, _ := walk(s.root, page, false, s.alloc)
		n := copy(pte.frame.Data[cur-page:], remaining)
		remaining = remaining[n:]
		cur += uint64(n)
	}
	return nil
}

// CopyIn validates then reads len(dst) bytes from the user address space at va.
func (s *Space) CopyIn(dst []byte, va uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateRangeLocked(va, uint64(len(dst)), false); err != nil {
		return err
	}
	remaining, cur := dst, va
	for len(remaining) > 0 {
		page := alignDown(cur)
		pte, _ := walk(s.root, page, false, s.alloc)
		n := copy(remaining, pte.frame.Data[cur-page:])
		remaining = remaining[n:]
		cur += uint64(n)
	}
	return nil
}
