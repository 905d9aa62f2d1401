package kernel

import (
	"sync"

	"github.com/rvos-edu/rv64kernel/internal/blockdev"
	"github.com/rvos-edu/rv64kernel/internal/fs"
)

// MockDevice is an in-memory blockdev.Device that tracks call counts, for
// tests exercising Boot and device-registration flows without a real
// block device - the same call-tracking MockBackend gave the teacher's
// own tests.
type MockDevice struct {
	*blockdev.Memory

	mu                    sync.Mutex
	readCalls, writeCalls int
}

// NewMockDevice allocates a zero-filled, call-tracking in-memory device.
func NewMockDevice(size int64) *MockDevice {
	return &MockDevice{Memory: blockdev.NewMemory(size)}
}

func (d *MockDevice) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	d.readCalls++
	d.mu.Unlock()
	return d.Memory.ReadAt(p, off)
}

func (d *MockDevice) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	d.writeCalls++
	d.mu.Unlock()
	return d.Memory.WriteAt(p, off)
}

// ReadCalls reports how many ReadAt calls this device has served.
func (d *MockDevice) ReadCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readCalls
}

// WriteCalls reports how many WriteAt calls this device has served.
func (d *MockDevice) WriteCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeCalls
}

// NewBootImage lays files onto a fresh in-memory block device in the
// sequential-file format internal/fs expects, for tests and tooling that
// need a throwaway root image without a real disk.
func NewBootImage(size int64, files map[string][]byte, order []string) (blockdev.Device, error) {
	dev := blockdev.NewMemory(size)
	if err := fs.WriteImage(dev, files, order); err != nil {
		return nil, err
	}
	return dev, nil
}
