package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// maxFileSize is the spec's hard 32-bit ceiling (spec §3, §4.A): all file
// offsets saturate here and growth beyond it fails with ErrNoSpace.
const maxFileSize = int64(1)<<32 - 1

func pageSize() int {
	return os.Getpagesize()
}

// roundUpPage rounds n up to the next multiple of pageSize, with a floor of
// one page (spec invariant 4: filesz is a multiple of the OS page size and
// >= one page).
func roundUpPage(n int64, page int) int64 {
	p := int64(page)
	rounded := ((n + p - 1) / p) * p
	if rounded < p {
		return p
	}
	return rounded
}

// mmapFile maps the whole file (size bytes) read-write, shared.
func mmapFile(fd int, size int64) ([]byte, error) {
	data, err := unix.Mmap(int(fd), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return data, nil
}

// growFile extends the backing file to newSize and remaps it.
//
// Per spec §5: "the replacement protocol creates the new mapping before
// unmapping the old and rebases all index entries before returning control
// to any caller." Ftruncate must run before the larger mmap can be created
// (the kernel requires the file to already cover the requested window), so
// for growth the order is: extend file, map the bigger window, drop the old
// one. Because the Store's index stores file *offsets* rather than mapped
// pointers, there is nothing to rebase: an offset below the old file size
// means the same byte both before and after remapping.
func (s *Store) growFile(newSize int64) error {
	if newSize > maxFileSize {
		return ErrNoSpace
	}

	if err := unix.Ftruncate(s.fd, newSize); err != nil {
		return fmt.Errorf("ftruncate grow: %w", err)
	}

	newData, err := mmapFile(s.fd, newSize)
	if err != nil {
		return err
	}

	old := s.data
	s.data = newData
	s.fileSize = newSize

	if old != nil {
		_ = unix.Munmap(old)
	}

	return nil
}

// shrinkFile reduces the backing file to newSize and remaps it. The smaller
// mapping is created first (it is already a valid sub-window of the
// still-larger file), then the file is truncated down, then the old mapping
// is released - preserving the same "new mapping before unmapping the old"
// ordering as growFile.
func (s *Store) shrinkFile(newSize int64) error {
	newData, err := mmapFile(s.fd, newSize)
	if err != nil {
		return err
	}

	if err := unix.Ftruncate(s.fd, newSize); err != nil {
		_ = unix.Munmap(newData)
		return fmt.Errorf("ftruncate shrink: %w", err)
	}

	old := s.data
	s.data = newData
	s.fileSize = newSize

	if old != nil {
		_ = unix.Munmap(old)
	}

	return nil
}

func (s *Store) unmap() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}
