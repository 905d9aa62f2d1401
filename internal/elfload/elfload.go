// Package elfload implements the ELF-loader collaborator (out of scope per
// the purpose statement, but required as process_exec's concrete input
// path): it parses a real ELF64/RISC-V header and PT_LOAD segments with
// the standard library's debug/elf, then resolves the program's actual
// runtime behavior through a registry of named closures.
//
// A from-scratch RV64 binary cannot execute under `go test`, so this
// module cannot run compiled machine code. Rather than faking segment
// contents and never running them, a registered UserProgram closure
// stands in for "the compiled instructions at the entry point" while the
// surrounding contract - an ELF is parsed, its segments are laid out, its
// entry point is what gets run - is kept intact and testable. No example
// in the retrieved pack supplies an ELF-parsing library, and one is not
// warranted for a single header read, so debug/elf is used directly.
package elfload

import (
	"debug/elf"
	"sync"

	"github.com/rvos-edu/rv64kernel/internal/ioobj"
	"github.com/rvos-edu/rv64kernel/internal/kerr"
)

// Segment is one PT_LOAD program header's load image.
type Segment struct {
	VAddr      uint64
	Data       []byte // file contents, zero-extended to Memsz
	Writable   bool
	Executable bool
}

// Program is a parsed, loadable ELF image.
type Program struct {
	Entry    uint64
	Segments []Segment
}

// Named is implemented by I/O objects that can report the name they were
// opened under (e.g. fs.File), letting exec resolve a registered
// UserProgram without this package depending on the file system package.
type Named interface {
	ProgramName() string
}

type objectReaderAt struct{ obj ioobj.Object }

func (o objectReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := o.obj.Ctl(ioobj.CmdSetPos, off); err != nil {
		return 0, err
	}
	return ioobj.ReadFull(o.obj, p)
}

// Load parses obj as an ELF64/RISC-V executable and returns its entry
// point and loadable segments (spec §4.4's process_exec input contract).
func Load(obj ioobj.Object) (*Program, error) {
	f, err := elf.NewFile(objectReaderAt{obj})
	if err != nil {
		return nil, kerr.Wrap("process_exec", kerr.EINVAL, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, kerr.New("process_exec", kerr.ENOTSUP, "only 64-bit ELF images are supported")
	}
	if f.Machine != elf.EM_RISCV {
		return nil, kerr.New("process_exec", kerr.ENOTSUP, "only RISC-V ELF images are supported")
	}

	prog := &Program{Entry: f.Entry}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, p.Filesz)
		if _, err := p.ReadAt(data, 0); err != nil {
			return nil, kerr.Wrap("process_exec", kerr.EFAULT, err)
		}
		if p.Memsz > p.Filesz {
			grown := make([]byte, p.Memsz)
			copy(grown, data)
			data = grown
		}
		prog.Segments = append(prog.Segments, Segment{
			VAddr:      p.Vaddr,
			Data:       data,
			Writable:   p.Flags&elf.PF_W != 0,
			Executable: p.Flags&elf.PF_X != 0,
		})
	}
	return prog, nil
}

// UserProgram stands in for a compiled RV64 binary's behavior: it is run
// with the owning process as an opaque handle, typically type-asserted
// back to *process.Process by the caller (internal/process owns that type;
// elfload only stores and invokes the closure).
type UserProgram func(proc any)

var (
	registryMu sync.Mutex
	registry   = map[string]UserProgram{}
)

// Register installs prog under name, overwriting any previous registration.
func Register(name string, prog UserProgram) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = prog
}

// Resolve looks up the program registered for obj's name (via the Named
// interface). It errors with ENOTSUP if obj does not report a name or no
// program is registered under it.
func Resolve(obj ioobj.Object) (UserProgram, error) {
	named, ok := obj.(Named)
	if !ok {
		return nil, kerr.New("process_exec", kerr.ENOTSUP, "object does not support program resolution")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	prog, ok := registry[named.ProgramName()]
	if !ok {
		return nil, kerr.New("process_exec", kerr.ENOTSUP, "no program registered for "+named.ProgramName())
	}
	return prog, nil
}
