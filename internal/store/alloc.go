package store

import "fmt"

// slackPages is the hysteresis window kept beyond the rounded-up space tail
// before shrinkFile is invoked (spec §4.A Realloc: "keep up to 2 pages of
// slack").
const slackPages = 2

// allocate reserves needed bytes (already 8-byte aligned) at the space tail,
// repacking and growing the file as necessary (spec §4.A Allocation).
func (s *Store) allocate(needed int) (int64, error) {
	if off, ok := s.tryAllocAtTail(needed); ok {
		return off, nil
	}

	if err := s.repack(); err != nil {
		return 0, err
	}

	if off, ok := s.tryAllocAtTail(needed); ok {
		return off, nil
	}

	grow := int64(needed) - (s.fileSize - s.space)
	pages := (grow + int64(s.pageSize) - 1) / int64(s.pageSize)
	if pages < 1 {
		pages = 1
	}

	newSize := s.fileSize + pages*int64(s.pageSize)
	if newSize > maxFileSize {
		return 0, fmt.Errorf("allocate %d bytes: %w", needed, ErrNoSpace)
	}

	if err := s.growFile(newSize); err != nil {
		return 0, fmt.Errorf("allocate %d bytes: %w", needed, err)
	}

	if off, ok := s.tryAllocAtTail(needed); ok {
		return off, nil
	}

	return 0, fmt.Errorf("allocate %d bytes after grow: %w", needed, ErrNoSpace)
}

func (s *Store) tryAllocAtTail(needed int) (int64, bool) {
	if s.fileSize-s.space < int64(needed) {
		return 0, false
	}
	off := s.space
	s.space += int64(needed)
	s.writeSentinelGap()
	return off, true
}

// writeSentinelGap (re)writes the single gap record covering [space,
// fileSize), or does nothing if space == fileSize (spec invariant 3).
func (s *Store) writeSentinelGap() {
	if s.space >= s.fileSize {
		return
	}
	writeGapRecord(s.data, s.space, int(s.fileSize-s.space))
}

// repack compacts the file by sliding every data record between offset 0 and
// space down over interior gaps, then rebuilds the index from the new
// offsets (spec §4.A Repack).
func (s *Store) repack() error {
	cursor := int64(0)
	rebased := make([]indexEntry, 0, len(s.index))

	off := int64(0)
	for off < s.space {
		h, err := readRecordHeader(s.data, off)
		if err != nil {
			return err
		}

		if !h.isGap {
			info := infoBytes(s.data, off, h)
			key, _, _ := splitInfo(info)
			newOff := cursor
			if newOff != off {
				copy(s.data[newOff:newOff+int64(h.total)], s.data[off:off+int64(h.total)])
			}
			rebased = append(rebased, indexEntry{key: cloneBytes(key), offset: newOff})
			cursor += int64(h.total)
		}

		off += int64(h.total)
	}

	s.space = cursor
	s.index = rebased
	s.reindexByKey()
	s.writeSentinelGap()

	return nil
}

// realloc resizes the data record for an existing key at idx to hold
// newInfo, returning its (possibly new) offset (spec §4.A Realloc). realloc
// owns every s.index mutation this entails: callers must not also rewrite
// the index entry, since the relocate branch below deletes it and
// re-inserts it (at the same sorted position) with a new offset.
func (s *Store) realloc(idx int, newInfo []byte) (int64, error) {
	key := s.index[idx].key
	offset := s.index[idx].offset

	h, err := readRecordHeader(s.data, offset)
	if err != nil {
		return 0, err
	}

	oldTotal := h.total
	newTotal := dataRecordLen(len(newInfo))

	switch {
	case newTotal == oldTotal:
		writeDataRecord(s.data, offset, newInfo)
		return offset, nil

	case newTotal < oldTotal:
		writeDataRecord(s.data, offset, newInfo)
		gapOff := offset + int64(newTotal)
		gapSize := oldTotal - newTotal
		s.growGapAt(gapOff, gapSize)
		return offset, nil

	default:
		// newTotal > oldTotal: try to absorb a following gap in place.
		nextOff := offset + int64(oldTotal)
		if nextOff < s.space {
			nh, err := readRecordHeader(s.data, nextOff)
			if err == nil && nh.isGap && oldTotal+nh.total >= newTotal {
				writeDataRecord(s.data, offset, newInfo)
				remaining := oldTotal + nh.total - newTotal
				if remaining > 0 {
					s.writeGapAt(offset+int64(newTotal), remaining)
				}
				return offset, nil
			}
		}

		// The record can't grow in place: delete the index entry before
		// freeing and reallocating, since allocate may repack, which
		// rebuilds the index from the records still on disk and has no way
		// to know about a key whose record was just freed. Re-insert the
		// key at its new offset once allocation succeeds (spec §4.A
		// Realloc: "the index entry is deleted and re-inserted at the same
		// position after allocation").
		s.index = append(s.index[:idx], s.index[idx+1:]...)

		s.freeRecord(offset, oldTotal)
		newOff, err := s.allocate(newTotal)
		if err != nil {
			return 0, err
		}
		writeDataRecord(s.data, newOff, newInfo)
		s.insertIndex(key, newOff)
		return newOff, nil
	}
}

// freeRecord converts the record at off (of the given total length) into a
// gap, coalescing with an immediately following gap record if one exists,
// and retracting the space tail (with hysteresis shrink) if the freed region
// abuts it. A retraction also moves space back over any gaps directly before
// off, so space ends up at the end of the last data record.
func (s *Store) freeRecord(off int64, total int) {
	size := total
	nextOff := off + int64(total)

	if nextOff < s.space {
		if nh, err := readRecordHeader(s.data, nextOff); err == nil && nh.isGap {
			size += nh.total
		}
	}

	if off+int64(size) >= s.space {
		tail := int64(0)
		for p := int64(0); p < off; {
			h, err := readRecordHeader(s.data, p)
			if err != nil {
				tail = off
				break
			}
			p += int64(h.total)
			if !h.isGap {
				tail = p
			}
		}
		s.space = tail
		s.trimSlack()
		return
	}

	writeGapRecord(s.data, off, size)
}

// growGapAt writes a gap record at off, merging with any gap that
// immediately follows it, and retracts the space tail if it now abuts it.
func (s *Store) growGapAt(off int64, size int) {
	s.freeRecord(off, size)
}

// writeGapAt writes a plain gap header without attempting space retraction;
// used when the gap is known not to reach the tail.
func (s *Store) writeGapAt(off int64, size int) {
	writeGapRecord(s.data, off, size)
}

// trimSlack shrinks the backing file when the free tail beyond space exceeds
// slackPages worth of slop, per the realloc hysteresis rule.
func (s *Store) trimSlack() {
	minSize := roundUpPage(s.space, s.pageSize)
	keep := minSize + int64(slackPages)*int64(s.pageSize)

	if s.fileSize <= keep {
		s.writeSentinelGap()
		return
	}

	if err := s.shrinkFile(keep); err != nil {
		// Shrinking is an optimization, not correctness-critical: fall back
		// to leaving the file at its current size with the sentinel gap in
		// place, which still satisfies every store invariant.
		s.writeSentinelGap()
		return
	}

	s.writeSentinelGap()
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
