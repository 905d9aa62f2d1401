// Package constants centralizes the kernel's size and geometry tunables,
// mirroring the teacher's internal/constants package.
package constants

const (
	// MaxThreads is the capacity of the fixed thread table (spec §4.1, "N, e.g. 16").
	MaxThreads = 16

	// MaxProcesses is the capacity of the fixed process table.
	MaxProcesses = 16

	// MaxDescriptors is the per-process open-object table size (spec §3, descriptors 0..15).
	MaxDescriptors = 16

	// PageSize is the Sv39 leaf page size in bytes.
	PageSize = 4096

	// PipeCapacity is the pipe's bounded circular buffer size in bytes (spec §3).
	PipeCapacity = 512

	// MaxValidatedStringLen bounds memory_validate_vstr's NUL scan (spec §4.3).
	MaxValidatedStringLen = 4096

	// VPNBits is the number of bits per Sv39 virtual page number level.
	VPNBits = 9

	// PTEsPerTable is 2^VPNBits: 512 entries per page-table node.
	PTEsPerTable = 1 << VPNBits

	// UserLo and UserHi bound the fixed user address window (spec §4.3).
	UserLo uint64 = 0x0000_0000_1000_0000
	UserHi uint64 = 0x0000_0040_0000_0000

	// KernelLo and KernelHi bound the kernel-reserved lower window below
	// UserLo. No address space maps any page in it; user pointers into it
	// fail validation.
	KernelLo uint64 = 0x0000_0000_0000_0000
	KernelHi uint64 = 0x0000_0000_1000_0000

	// DefaultLogicalBlockSize is the default sector size used by blockdev images.
	DefaultLogicalBlockSize = 512

	// AutoAssignDeviceID indicates the kernel should auto-assign a process/device id.
	AutoAssignDeviceID = -1
)
