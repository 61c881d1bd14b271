// Package mmapfile provides a growable, read-write memory-mapped file.
// Stores in the store/kv package keep one open for the lifetime of an index
// and replace it wholesale on rebuild or resize it by unmap-resize-remap.
package mmapfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File wraps an open file descriptor and its current memory mapping.
type File struct {
	f    *os.File
	data []byte
}

// Open opens path for read-write mmap access. If the file does not exist,
// it is created and truncated to initialSize before being mapped. If it
// already exists, initialSize is ignored and the file is mapped at its
// current size.
func Open(path string, initialSize int64) (*File, error) {
	_, err := os.Stat(path)
	create := os.IsNotExist(err)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mmapfile: open %s: %w", path, err)
	}

	if create {
		if err := f.Truncate(initialSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("mmapfile: truncate %s: %w", path, err)
		}
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmapfile: stat %s: %w", path, err)
	}

	size := fi.Size()
	if size == 0 {
		f.Close()
		return nil, fmt.Errorf("mmapfile: %s: empty file cannot be mapped", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmapfile: mmap %s: %w", path, err)
	}

	return &File{f: f, data: data}, nil
}

// Bytes returns the current mapped region. The slice is invalidated by any
// call to Resize; callers must not retain it across a Resize call.
func (m *File) Bytes() []byte {
	return m.data
}

// Size returns the current mapped size in bytes.
func (m *File) Size() int {
	return len(m.data)
}

// Resize unmaps, truncates the underlying file to newSize (growing or
// shrinking it), and remaps it. Any slice previously returned by Bytes
// becomes invalid after this call.
func (m *File) Resize(newSize int64) error {
	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("mmapfile: munmap: %w", err)
	}
	m.data = nil
	if err := m.f.Truncate(newSize); err != nil {
		return fmt.Errorf("mmapfile: truncate: %w", err)
	}
	data, err := unix.Mmap(int(m.f.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmapfile: remap: %w", err)
	}
	m.data = data
	return nil
}

// Sync flushes dirty pages to disk asynchronously.
func (m *File) Sync() error {
	if len(m.data) == 0 {
		return nil
	}
	if err := unix.Msync(m.data, unix.MS_ASYNC); err != nil {
		return fmt.Errorf("mmapfile: msync: %w", err)
	}
	return nil
}

// Close unmaps and closes the underlying file.
func (m *File) Close() error {
	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
		m.data = nil
	}
	if cerr := m.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Name returns the backing file's path.
func (m *File) Name() string {
	return m.f.Name()
}
