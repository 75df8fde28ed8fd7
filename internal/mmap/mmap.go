// Package mmap provides a read-write memory-mapped file abstraction
// used by the checkpoint file. Unlike a read-only view that is
// refreshed by remapping after some other process appends to the
// backing file, this Store is the sole owner and mutator of the
// region it maps.
package mmap

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrSizeMismatch is returned by Open when an existing file's size
// disagrees with the requested size.
var ErrSizeMismatch = errors.New("mmap: file size does not match requested size")

// Store is a fixed-size read-write memory mapping of a regular file.
// The file's size never changes after Open returns; growth is the
// caller's responsibility (truncate, then reopen).
type Store struct {
	file *os.File
	data []byte
}

// Open opens path (creating it with size zero-filled bytes if it does
// not exist) and maps the whole file read-write.
func Open(path string, size int64) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if fi.Size() == 0 {
		if err := allocate(f, size); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to allocate %s: %w", path, err)
		}
	} else if fi.Size() != size {
		f.Close()
		return nil, fmt.Errorf("%w: %s has size %d, expected %d", ErrSizeMismatch, path, fi.Size(), size)
	}

	if size == 0 {
		return &Store{file: f, data: nil}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}

	return &Store{file: f, data: data}, nil
}

// allocate writes size zero bytes to f in bounded chunks so we never
// hold a giant temporary buffer for large capacities.
func allocate(f *os.File, size int64) error {
	const chunk = 2 * 1024 * 1024
	buf := make([]byte, chunk)
	remaining := size
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// Bytes returns the mapped region. Callers must not retain slices of
// it beyond a Close.
func (s *Store) Bytes() []byte {
	return s.data
}

// Force flushes dirty pages to stable storage via msync, then fsyncs
// the file descriptor for good measure.
func (s *Store) Force() error {
	if len(s.data) == 0 {
		return nil
	}
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync failed: %w", err)
	}
	return s.file.Sync()
}

// Close unmaps the region and closes the file handle.
func (s *Store) Close() error {
	if len(s.data) > 0 {
		if err := unix.Munmap(s.data); err != nil {
			s.file.Close()
			return fmt.Errorf("munmap failed: %w", err)
		}
		s.data = nil
	}
	return s.file.Close()
}
