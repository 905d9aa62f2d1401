// Package fs implements the read-only file system collaborator named in
// spec §6's boot entry ("a simple sequential-file image"): a flat,
// directory-less index of named byte ranges laid end to end on a block
// device, looked up once at fsopen time.
//
// The on-disk record layout (name-length byte, name bytes, an 8-byte
// little-endian length, then the file's bytes, repeated until a
// zero-length name sentinel or device end) is bespoke to this teaching
// kernel, so there is no ecosystem serialization library to reach for;
// encoding/binary is used the same manual, field-by-field way the
// teacher's internal/uapi/marshal.go hand-rolls its wire structs.
package fs

import (
	"encoding/binary"
	"sync"

	"github.com/rvos-edu/rv64kernel/internal/blockdev"
	"github.com/rvos-edu/rv64kernel/internal/constants"
	"github.com/rvos-edu/rv64kernel/internal/ioobj"
	"github.com/rvos-edu/rv64kernel/internal/kerr"
)

// Entry describes one file's extent within the image.
type Entry struct {
	Name   string
	Offset int64
	Length int64
}

// Image is a read-only sequential-file index over a block device.
type Image struct {
	dev     blockdev.Device
	entries []Entry
}

// Open scans dev from offset 0 and builds the file index.
func Open(dev blockdev.Device) (*Image, error) {
	entries, err := readIndex(dev)
	if err != nil {
		return nil, err
	}
	return &Image{dev: dev, entries: entries}, nil
}

func readIndex(dev blockdev.Device) ([]Entry, error) {
	var entries []Entry
	var offset int64
	for offset < dev.Size() {
		nameLen, err := readByte(dev, offset)
		if err != nil {
			return nil, err
		}
		if nameLen == 0 {
			break
		}
		offset++

		nameBuf := make([]byte, nameLen)
		if _, err := dev.ReadAt(nameBuf, offset); err != nil {
			return nil, err
		}
		offset += int64(nameLen)

		lenBuf := make([]byte, 8)
		if _, err := dev.ReadAt(lenBuf, offset); err != nil {
			return nil, err
		}
		offset += 8
		length := int64(binary.LittleEndian.Uint64(lenBuf))

		entries = append(entries, Entry{Name: string(nameBuf), Offset: offset, Length: length})
		offset += length
	}
	return entries, nil
}

func readByte(dev blockdev.Device, offset int64) (byte, error) {
	buf := make([]byte, 1)
	n, err := dev.ReadAt(buf, offset)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return buf[0], nil
}

// WriteImage serializes files (in order) onto dev in the sequential-file
// format readIndex expects - used by tests and by tooling that builds boot images.
func WriteImage(dev blockdev.Device, files map[string][]byte, order []string) error {
	var offset int64
	for _, name := range order {
		data, ok := files[name]
		if !ok {
			return kerr.New("fs_write_image", kerr.EINVAL, "name not present in files map: "+name)
		}
		if len(name) == 0 || len(name) > 255 {
			return kerr.New("fs_write_image", kerr.EINVAL, "name length out of range")
		}
		if _, err := dev.WriteAt([]byte{byte(len(name))}, offset); err != nil {
			return err
		}
		offset++
		if _, err := dev.WriteAt([]byte(name), offset); err != nil {
			return err
		}
		offset += int64(len(name))
		lenBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(lenBuf, uint64(len(data)))
		if _, err := dev.WriteAt(lenBuf, offset); err != nil {
			return err
		}
		offset += 8
		if _, err := dev.WriteAt(data, offset); err != nil {
			return err
		}
		offset += int64(len(data))
	}
	return nil
}

// Entries returns the image's file index.
func (img *Image) Entries() []Entry {
	return img.entries
}

// OpenFile looks up name and returns a read-only ioobj.Object windowed onto
// its extent. Errors with EBADFD if no such file exists (spec §3's
// descriptor-kind error taxonomy reused here: "of wrong kind" covers a
// missing name as well as a mistyped one).
func (img *Image) OpenFile(name string) (*File, error) {
	for _, e := range img.entries {
		if e.Name == name {
			return &File{dev: img.dev, name: e.Name, base: e.Offset, length: e.Length}, nil
		}
	}
	return nil, kerr.New("fsopen", kerr.EBADFD, "no such file: "+name)
}

// File is a read-only ioobj.Object over one file system entry's byte extent.
type File struct {
	mu     sync.Mutex
	dev    blockdev.Device
	name   string
	base   int64
	length int64
	pos    int64
}

// ProgramName implements elfload.Named so exec can resolve this file's
// registered user-program body without elfload depending on fs.
func (f *File) ProgramName() string { return f.name }

func (f *File) Read(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= f.length {
		return 0, nil
	}
	if remaining := f.length - f.pos; int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	n, err := f.dev.ReadAt(buf, f.base+f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *File) Write(buf []byte) (int, error) {
	return 0, kerr.New("write", kerr.ENOTSUP, "file system is read-only")
}

func (f *File) Close() error { return nil }

func (f *File) Ctl(cmd ioobj.Cmd, arg int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch cmd {
	case ioobj.CmdGetLen:
		return f.length, nil
	case ioobj.CmdSetPos:
		if arg < 0 || arg > f.length {
			return 0, kerr.New("ioctl", kerr.EINVAL, "seek out of range")
		}
		f.pos = arg
		return arg, nil
	case ioobj.CmdGetPos:
		return f.pos, nil
	case ioobj.CmdGetBlkSz:
		return int64(constants.DefaultLogicalBlockSize), nil
	default:
		return 0, kerr.New("ioctl", kerr.ENOTSUP, "command not supported by file system file")
	}
}
