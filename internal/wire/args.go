package wire

// Arg is one encodable field of an outbound PDU. This replaces the
// original printf-style "%c%s%*s" format-string interface (spec §9
// "printf-style variadic encoding") with a small typed DSL: there is no
// runtime format-string parsing or validation to get wrong.
type Arg struct {
	kind  argKind
	byte_ byte
	str   []byte
}

type argKind int

const (
	kindByte  argKind = iota // an integer field, e.g. a version number (%c)
	kindStr                  // NUL-terminated string (%s)
	kindBytes                // raw bytes with no terminator, only valid as the final arg (%*s)
)

// Byte encodes a one-byte integer field, such as HELLO's version number.
func Byte(b byte) Arg { return Arg{kind: kindByte, byte_: b} }

// Str encodes a NUL-terminated string (%s). s must not itself contain a NUL.
// Str's own terminator doubles as the key/value separator in WRITE and INFO
// PDUs: Str(key) followed by Bytes(value) yields exactly "<key>\0<value>".
func Str(s []byte) Arg { return Arg{kind: kindStr, str: s} }

// Bytes encodes a raw byte string with no terminator, used only as the
// final argument of a PDU (%*s). A WRITE or INFO PDU consisting of a single
// Bytes(key) arg (no Str, hence no embedded NUL at all) is the key-only
// form denoting deletion (spec §3 "Info").
func Bytes(b []byte) Arg { return Arg{kind: kindBytes, str: b} }

// encodedLen returns the number of payload bytes this arg contributes.
func (a Arg) encodedLen() int {
	switch a.kind {
	case kindByte:
		return 1
	case kindStr:
		return len(a.str) + 1
	default: // kindBytes
		return len(a.str)
	}
}

// appendTo appends the encoded bytes for a to buf.
func (a Arg) appendTo(buf []byte) []byte {
	switch a.kind {
	case kindByte:
		return append(buf, a.byte_)
	case kindStr:
		buf = append(buf, a.str...)
		return append(buf, 0)
	default: // kindBytes
		return append(buf, a.str...)
	}
}

// encodePayload concatenates args into a single PDU payload.
func encodePayload(args ...Arg) []byte {
	n := 0
	for _, a := range args {
		n += a.encodedLen()
	}
	buf := make([]byte, 0, n)
	for _, a := range args {
		buf = a.appendTo(buf)
	}
	return buf
}
