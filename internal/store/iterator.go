package store

// Iterator yields Infos in ascending key order (spec §4.A iter_first/
// iter_next). It is invalidated by any Put or Del on the Store it was
// created from; Next returns errIterInvalidated in that case and the caller
// must start a new iteration.
type Iterator struct {
	s          *Store
	generation uint64
	pos        int
}

// IterFirst starts a new iteration over the Store's current contents.
func (s *Store) IterFirst() *Iterator {
	return &Iterator{s: s, generation: s.generation, pos: 0}
}

// Next returns the next Info in ascending key order, or ok=false once the
// iteration is exhausted.
func (it *Iterator) Next() (info Info, ok bool, err error) {
	if it.generation != it.s.generation {
		return Info{}, false, errIterInvalidated
	}

	if it.pos >= len(it.s.index) {
		return Info{}, false, nil
	}

	e := it.s.index[it.pos]
	it.pos++

	h, err := readRecordHeader(it.s.data, e.offset)
	if err != nil {
		return Info{}, false, err
	}

	_, value, _ := splitInfo(infoBytes(it.s.data, e.offset, h))
	return Info{Key: e.key, Value: value}, true, nil
}
