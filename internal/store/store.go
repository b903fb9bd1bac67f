package store

import (
	"bytes"
	"fmt"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/infod3/infod/pkg/fs"
)

// Info is a decoded key/value pair (spec §3).
type Info struct {
	Key   []byte
	Value []byte
}

// indexEntry is one sorted-index slot: a key and the file offset of its data
// record. Offsets are plain file positions, not mapped pointers, so remaps
// never require rebasing them (see mmap.go).
type indexEntry struct {
	key    []byte
	offset int64
}

// Store is an open, memory-mapped key/value file (spec §4.A). A Store is not
// safe for concurrent use from multiple goroutines: the service built on top
// of it (internal/mux, internal/session) is single-threaded by design
// (spec §5).
type Store struct {
	path string

	file *fs.Lock // holds both the open fd (via file.File().Fd()) and the flock
	fd   int

	data     []byte
	fileSize int64
	space    int64
	pageSize int

	index      []indexEntry
	generation uint64 // bumped on every Put/Del, used to invalidate iterators

	closed bool
}

// Open opens or creates the store file at path, taking an exclusive
// advisory lock, memory-mapping it, and rebuilding the sorted index from
// its contents (spec §4.A "File recovery on open").
func Open(path string) (*Store, error) {
	locker := fs.NewLocker(fs.NewReal())

	lock, err := locker.TryLock(path)
	if err != nil {
		if err == fs.ErrWouldBlock {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	f := lock.File()

	info, err := f.Stat()
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("store: stat %s: %w", path, err)
	}

	page := pageSize()
	size := info.Size()

	if size >= maxFileSize {
		_ = lock.Close()
		return nil, fmt.Errorf("store: open %s: %w", path, ErrTooLarge)
	}

	if size == 0 {
		size = int64(page)
		if err := unix.Ftruncate(int(f.Fd()), size); err != nil {
			_ = lock.Close()
			return nil, fmt.Errorf("store: initialize %s: %w", path, err)
		}
	} else if size%int64(page) != 0 {
		_ = lock.Close()
		return nil, fmt.Errorf("store: open %s: file size %d not page-aligned: %w", path, size, ErrCorrupt)
	}

	data, err := mmapFile(int(f.Fd()), size)
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("store: mmap %s: %w", path, err)
	}

	s := &Store{
		path:     path,
		file:     lock,
		fd:       int(f.Fd()),
		data:     data,
		fileSize: size,
		pageSize: page,
	}

	if err := s.recover(); err != nil {
		_ = s.unmap()
		_ = lock.Close()
		return nil, fmt.Errorf("store: recover %s: %w", path, err)
	}

	return s, nil
}

// Close unmaps the file and releases the advisory lock. Close is safe to
// call once; subsequent calls are no-ops.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	unmapErr := s.unmap()
	lockErr := s.file.Close()

	if unmapErr != nil {
		return unmapErr
	}
	return lockErr
}

// Get returns the Info for key, if present. The returned byte slices are
// views into the mmap and are valid only until the next Put or Del on this
// Store (spec §4.A).
func (s *Store) Get(key []byte) (Info, bool, error) {
	if s.closed {
		return Info{}, false, ErrClosed
	}

	idx, ok := s.find(key)
	if !ok {
		return Info{}, false, nil
	}

	e := s.index[idx]
	h, err := readRecordHeader(s.data, e.offset)
	if err != nil {
		return Info{}, false, err
	}

	_, value, _ := splitInfo(infoBytes(s.data, e.offset, h))
	return Info{Key: e.key, Value: value}, true, nil
}

// Changed describes the outcome of a Put.
type Changed int

const (
	Unchanged Changed = iota
	Created
	Replaced
)

// Put inserts or replaces the value for key. It returns Unchanged iff an
// existing entry already has byte-identical value (spec §4.A).
func (s *Store) Put(key, value []byte) (Changed, error) {
	if s.closed {
		return Unchanged, ErrClosed
	}

	if err := validateKey(key); err != nil {
		return Unchanged, err
	}

	newInfo := encodeInfo(key, value)
	if len(newInfo) > maxInfoSize {
		return Unchanged, ErrTooBig
	}

	idx, ok := s.find(key)
	if ok {
		e := s.index[idx]
		h, err := readRecordHeader(s.data, e.offset)
		if err != nil {
			return Unchanged, err
		}

		if bytes.Equal(infoBytes(s.data, e.offset, h), newInfo) {
			return Unchanged, nil
		}

		// realloc owns all index bookkeeping for the replace path (it may
		// delete the entry and re-insert it with a different offset), so
		// idx is not reused afterward.
		if _, err := s.realloc(idx, newInfo); err != nil {
			return Unchanged, err
		}

		s.generation++
		return Replaced, nil
	}

	off, err := s.allocate(dataRecordLen(len(newInfo)))
	if err != nil {
		return Unchanged, err
	}

	writeDataRecord(s.data, off, newInfo)
	s.insertIndex(cloneBytes(key), off)
	s.generation++

	return Created, nil
}

// Del removes key, reporting whether it was present (spec §4.A).
func (s *Store) Del(key []byte) (bool, error) {
	if s.closed {
		return false, ErrClosed
	}

	idx, ok := s.find(key)
	if !ok {
		return false, nil
	}

	e := s.index[idx]
	h, err := readRecordHeader(s.data, e.offset)
	if err != nil {
		return false, err
	}

	s.freeRecord(e.offset, h.total)
	s.index = append(s.index[:idx], s.index[idx+1:]...)
	s.generation++

	return true, nil
}

// Len returns the number of live entries.
func (s *Store) Len() int { return len(s.index) }

func validateKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if bytes.IndexByte(key, 0) >= 0 {
		return fmt.Errorf("%w: embedded NUL", ErrInvalidKey)
	}
	return nil
}

// find locates key in the sorted index via binary search.
func (s *Store) find(key []byte) (int, bool) {
	i := sort.Search(len(s.index), func(i int) bool {
		return bytes.Compare(s.index[i].key, key) >= 0
	})
	if i < len(s.index) && bytes.Equal(s.index[i].key, key) {
		return i, true
	}
	return i, false
}

// insertIndex inserts a new (key, offset) pair keeping the index sorted
// (spec invariant 1).
func (s *Store) insertIndex(key []byte, offset int64) {
	i := sort.Search(len(s.index), func(i int) bool {
		return bytes.Compare(s.index[i].key, key) >= 0
	})
	s.index = append(s.index, indexEntry{})
	copy(s.index[i+1:], s.index[i:])
	s.index[i] = indexEntry{key: key, offset: offset}
}

// reindexByKey re-sorts s.index by key; used after repack rebuilds offsets
// in file order rather than key order.
func (s *Store) reindexByKey() {
	sort.Slice(s.index, func(i, j int) bool {
		return bytes.Compare(s.index[i].key, s.index[j].key) < 0
	})
}
