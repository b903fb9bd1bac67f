package store

import (
	"bytes"
	"sort"

	"github.com/bits-and-blooms/bitset"
)

// recover scans the file from offset 0, rebuilding the sorted index and
// establishing the space tail (spec §4.A "File recovery on open").
//
// Duplicate keys are resolved by keeping the first occurrence in file-offset
// scan order (spec §4.A, §9 Open Question 3): which value "wins" is an
// artifact of allocation order, not of any meaningful recency - documented
// here rather than guessed at.
func (s *Store) recover() error {
	type scanned struct {
		key    []byte
		offset int64
	}

	var entries []scanned
	off := int64(0)

	for off < s.fileSize {
		h, err := readRecordHeader(s.data, off)
		if err != nil {
			// A header that can't even be parsed this far in is treated the
			// same as a declared size overflowing filesz: stop scanning and
			// discard everything from here on (spec §4.A edge cases).
			break
		}

		if off+int64(h.total) > s.fileSize {
			break
		}

		if !h.isGap {
			info := infoBytes(s.data, off, h)
			key, _, _ := splitInfo(info)
			entries = append(entries, scanned{key: cloneBytes(key), offset: off})
		}

		off += int64(h.total)
	}

	s.space = off

	// Stable sort by key: for equal keys this preserves scan (= file-offset)
	// order, so index 0 of each run is always the first-encountered copy.
	sort.SliceStable(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})

	superseded := bitset.New(uint(len(entries)))
	index := make([]indexEntry, 0, len(entries))

	for i := 0; i < len(entries); {
		j := i + 1
		for j < len(entries) && bytes.Compare(entries[j].key, entries[i].key) == 0 {
			superseded.Set(uint(j))
			j++
		}
		index = append(index, indexEntry{key: entries[i].key, offset: entries[i].offset})
		i = j
	}

	for i := range entries {
		if superseded.Test(uint(i)) {
			h, err := readRecordHeader(s.data, entries[i].offset)
			if err != nil {
				return err
			}
			s.freeRecord(entries[i].offset, h.total)
		}
	}

	s.index = index
	s.writeSentinelGap()

	return nil
}
