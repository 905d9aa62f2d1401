package kernel

import "github.com/rvos-edu/rv64kernel/internal/constants"

// Re-export the kernel's fixed-capacity and layout constants for the
// public API (spec §2, §4.3).
const (
	MaxThreads              = constants.MaxThreads
	MaxProcesses            = constants.MaxProcesses
	MaxDescriptors          = constants.MaxDescriptors
	PageSize                = constants.PageSize
	PipeCapacity            = constants.PipeCapacity
	UserLo                  = constants.UserLo
	UserHi                  = constants.UserHi
	DefaultLogicalBlockSize = constants.DefaultLogicalBlockSize
)
