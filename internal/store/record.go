package store

import "encoding/binary"

// Record layout (see spec §4.A, §6):
//
//	data record: u16 sz (native order, sz != 0), sz bytes of keyvalue, 0-7 pad bytes
//	gap  record: u16 0, u16 _reserved, u32 size (size >= 8, includes this 8-byte header)
//
// Records are always 8-byte aligned. The file uses native byte order because
// the file is never moved between machines (spec §6: "native byte order
// irrelevant - since files are not portable").
const (
	dataHeaderSize = 2
	gapHeaderSize  = 8
	minGapSize     = gapHeaderSize
	maxInfoSize    = 0xFFFF // sz fits in 16 bits
)

var nativeEndian = binary.NativeEndian

// align8 rounds n up to the next multiple of 8.
func align8(n int) int {
	return (n + 7) &^ 7
}

// dataRecordLen returns the total aligned on-disk length of a data record
// whose Info payload is infoLen bytes.
func dataRecordLen(infoLen int) int {
	return align8(dataHeaderSize + infoLen)
}

// recordHeader describes a decoded record at some file offset.
type recordHeader struct {
	isGap bool
	// infoSize is the Info payload length for a data record (0 for a gap).
	infoSize int
	// total is the full 8-byte-aligned on-disk length of the record,
	// header included.
	total int
}

// readRecordHeader decodes the record header at off. It never reads past
// len(data); callers must ensure off+gapHeaderSize (or +dataHeaderSize for a
// data record with a small sz) is in range, which recovery scanning does by
// checking bounds before calling this.
func readRecordHeader(data []byte, off int64) (recordHeader, error) {
	if off < 0 || off+dataHeaderSize > int64(len(data)) {
		return recordHeader{}, ErrCorrupt
	}

	sz := nativeEndian.Uint16(data[off:])
	if sz != 0 {
		return recordHeader{isGap: false, infoSize: int(sz), total: dataRecordLen(int(sz))}, nil
	}

	if off+gapHeaderSize > int64(len(data)) {
		return recordHeader{}, ErrCorrupt
	}

	size := nativeEndian.Uint32(data[off+4:])
	if size < minGapSize || int(size)%8 != 0 {
		return recordHeader{}, ErrCorrupt
	}

	return recordHeader{isGap: true, infoSize: 0, total: int(size)}, nil
}

// writeDataRecord writes a data record of keyvalue at off, zero-padding the
// alignment tail.
func writeDataRecord(data []byte, off int64, keyvalue []byte) {
	total := dataRecordLen(len(keyvalue))
	nativeEndian.PutUint16(data[off:], uint16(len(keyvalue)))
	copy(data[off+dataHeaderSize:], keyvalue)

	pad := data[off+dataHeaderSize+int64(len(keyvalue)) : off+int64(total)]
	for i := range pad {
		pad[i] = 0
	}
}

// writeGapRecord writes a gap record header of the given total size at off.
// size must be >= 8 and a multiple of 8.
func writeGapRecord(data []byte, off int64, size int) {
	nativeEndian.PutUint16(data[off:], 0)
	nativeEndian.PutUint16(data[off+2:], 0)
	nativeEndian.PutUint32(data[off+4:], uint32(size))
}

// infoBytes returns the view of the Info payload for a data record at off
// with the given decoded header.
func infoBytes(data []byte, off int64, h recordHeader) []byte {
	return data[off+dataHeaderSize : off+dataHeaderSize+int64(h.infoSize)]
}

// splitInfo splits an Info blob into key and value around the first NUL.
// A blob with no embedded NUL is key-only (used in transit, never stored).
func splitInfo(info []byte) (key, value []byte, hasValue bool) {
	for i, b := range info {
		if b == 0 {
			return info[:i], info[i+1:], true
		}
	}
	return info, nil, false
}

// encodeInfo builds the on-disk/wire Info blob for a key/value pair.
func encodeInfo(key, value []byte) []byte {
	buf := make([]byte, len(key)+1+len(value))
	n := copy(buf, key)
	buf[n] = 0
	copy(buf[n+1:], value)
	return buf
}
