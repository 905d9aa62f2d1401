// Package kernel is the public entry point for the RV64 teaching kernel
// simulation: it wires the thread manager, page allocator, process table,
// boot file system, and named devices together the way the teacher's
// backend.go wires a control-plane controller and queue runners together
// behind CreateAndServe.
package kernel

import (
	"context"
	"io"
	"sync"

	"github.com/rvos-edu/rv64kernel/internal/blockdev"
	"github.com/rvos-edu/rv64kernel/internal/fs"
	"github.com/rvos-edu/rv64kernel/internal/ioobj"
	"github.com/rvos-edu/rv64kernel/internal/kerr"
	"github.com/rvos-edu/rv64kernel/internal/logging"
	"github.com/rvos-edu/rv64kernel/internal/pipe"
	"github.com/rvos-edu/rv64kernel/internal/process"
	"github.com/rvos-edu/rv64kernel/internal/syscall"
	"github.com/rvos-edu/rv64kernel/internal/thread"
	"github.com/rvos-edu/rv64kernel/internal/uart"
	"github.com/rvos-edu/rv64kernel/internal/vm"
)

// DeviceFactory opens an instance of a named device, the devopen syscall's
// (spec §6) backing mechanism. instno distinguishes multiple instances of
// the same kind, e.g. a second disk.
type DeviceFactory func(instno int) (ioobj.Object, error)

// Config holds the parameters Boot needs to bring a kernel up.
type Config struct {
	// RootDevice backs the boot sequential-file image (spec §6's "a block
	// device exposing a simple sequential-file image").
	RootDevice blockdev.Device

	// InitName is the boot image entry looked up and exec'd as the first
	// process (spec §6's "an ELF-formatted user init program").
	InitName string

	// Console receives UART output. Defaults to io.Discard.
	Console io.Writer

	// FrameCount bounds the physical frames available to the VM
	// subsystem. Defaults to a size comfortably fitting MaxProcesses
	// concurrently active address spaces.
	FrameCount int
}

const defaultFrameCount = 4096

// Options holds optional collaborators for Boot, the same shape as the
// teacher's Options, minus its observer (context + logger).
type Options struct {
	Context context.Context
	Logger  *logging.Logger
}

// Kernel is a booted kernel instance: a process table scheduled by a
// thread manager, a registry of named devices, and a read-only boot file
// system.
type Kernel struct {
	mgr   *thread.Manager
	alloc *vm.FrameAllocator
	table *process.Table
	log   *logging.Logger

	mu      sync.Mutex
	devices map[string]DeviceFactory
	fsImage *fs.Image

	metrics *Metrics

	init *process.Process

	ctx    context.Context
	cancel context.CancelFunc
}

// Boot brings a kernel up: it opens the boot file system off
// config.RootDevice, registers the UART as "uart", and execs
// config.InitName (spec §6's boot entry) as process 1.
//
// UserProgram bodies for the init image (and for anything init execs or
// forks into) must already be registered with elfload.Register before
// Boot is called - this simulation has no way to run a freshly loaded
// image's machine code other than dispatching to a pre-registered Go
// closure standing in for it.
func Boot(ctx context.Context, config Config, options *Options) (*Kernel, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}

	log := options.Logger
	if log == nil {
		log = logging.Default()
	}

	if config.RootDevice == nil {
		return nil, kerr.New("boot", kerr.EINVAL, "boot requires a root block device")
	}
	initName := config.InitName
	if initName == "" {
		initName = "init"
	}
	frameCount := config.FrameCount
	if frameCount == 0 {
		frameCount = defaultFrameCount
	}
	console := config.Console
	if console == nil {
		console = io.Discard
	}

	fsImage, err := fs.Open(config.RootDevice)
	if err != nil {
		return nil, kerr.Wrap("boot", kerr.EFAULT, err)
	}

	mgr := thread.NewManager(log)
	alloc := vm.NewFrameAllocator(frameCount)
	table := process.NewTable(mgr, alloc, log)
	console1 := uart.New(mgr, console)

	k := &Kernel{
		mgr:     mgr,
		alloc:   alloc,
		table:   table,
		log:     log,
		devices: map[string]DeviceFactory{},
		fsImage: fsImage,
		metrics: NewMetrics(),
	}
	k.ctx, k.cancel = context.WithCancel(ctx)

	k.RegisterDevice("uart", func(instno int) (ioobj.Object, error) {
		return uart.Wrap(console1), nil
	})

	entry, err := fsImage.OpenFile(initName)
	if err != nil {
		return nil, kerr.Wrap("boot", kerr.EBADFD, err)
	}
	proc, err := table.Spawn(initName, entry)
	if err != nil {
		return nil, err
	}
	k.init = proc

	log.Infof("kernel booted, init pid=%d", proc.PID())
	return k, nil
}

// RegisterDevice installs factory under name, overwriting any previous
// registration - the same replace-on-register policy as elfload.Register,
// since both stand in for collaborators (real drivers) this simulation
// doesn't have.
func (k *Kernel) RegisterDevice(name string, factory DeviceFactory) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.devices[name] = factory
}

// Processes returns the kernel's process table, for callers that need to
// spawn additional top-level processes or inspect process state directly.
func (k *Kernel) Processes() *process.Table { return k.table }

// Init returns the boot (pid 1) process.
func (k *Kernel) Init() *process.Process { return k.init }

// Wait blocks until the init process exits.
func (k *Kernel) Wait() {
	k.mgr.Join(k.init.TID())
}

// Metrics returns the kernel's syscall-dispatch statistics.
func (k *Kernel) Metrics() *Metrics { return k.metrics }

// Dispatch performs the syscall named by frame's a7 register on behalf of
// p (internal/syscall.Dispatch) and records it in the kernel's metrics.
func (k *Kernel) Dispatch(p *process.Process, frame *syscall.TrapFrame) int64 {
	result := syscall.Dispatch(k, p, frame)
	k.metrics.recordSyscall(frame.A(7), result)
	return result
}

// OpenDevice implements syscall.Environment.
func (k *Kernel) OpenDevice(name string, instno int) (ioobj.Object, error) {
	k.mu.Lock()
	factory, ok := k.devices[name]
	k.mu.Unlock()
	if !ok {
		return nil, kerr.New("devopen", kerr.EBADFD, "no such device: "+name)
	}
	return factory(instno)
}

// OpenFile implements syscall.Environment.
func (k *Kernel) OpenFile(name string) (ioobj.Object, error) {
	return k.fsImage.OpenFile(name)
}

// NewPipe implements syscall.Environment.
func (k *Kernel) NewPipe() ioobj.Object { return pipe.New(k.mgr) }

// Log implements syscall.Environment.
func (k *Kernel) Log(msg string) { k.log.Infof("msgout: %s", msg) }

// Shutdown cancels the kernel's context and marks its metrics stopped.
// Nothing in the kernel consults that context, so syscalls, forks and
// spawns keep working afterwards. Already-running processes are not forcibly killed; Wait (or joining
// their pids individually) still applies.
func (k *Kernel) Shutdown() {
	k.cancel()
	k.metrics.Stop()
}
