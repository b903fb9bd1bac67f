// Package wire implements the infod3 bidirectional wire-protocol codec
// (spec §4.B): translating between a PDU abstraction, (msg, payload), and
// one of three wire encodings - Binary, Framed, and Text - selected per
// connection.
//
// The codec is driven, not callback-recursive (spec §9 "Callback-heavy
// codec"): Recv decodes everything available in one pass and returns the
// decoded PDUs; Output builds outbound bytes for the caller to write.
// Nothing in this package ever calls back into its caller.
package wire

// Msg identifies a protocol data unit by its stable wire ID (spec §4.B).
type Msg byte

const (
	HELLO   Msg = 0x00
	SUB     Msg = 0x01
	UNSUB   Msg = 0x02
	GET     Msg = 0x03 // aka READ
	PUT     Msg = 0x04 // aka WRITE
	BEGIN   Msg = 0x05
	COMMIT  Msg = 0x06
	PING    Msg = 0x07
	VERSION Msg = 0x80
	INFO    Msg = 0x81
	PONG    Msg = 0x82
	ERROR   Msg = 0x83

	// EOF is a pseudo-message signaling "peer closed" and never appears on
	// the wire; Recv synthesizes it when fed a zero-length read.
	EOF Msg = 0xFF
)

// PDU is one protocol data unit: a (msg, payload) pair (spec GLOSSARY).
type PDU struct {
	Msg     Msg
	Payload []byte
}

// ProtoError is an ERROR PDU's payload in decoded form (spec §7). The code
// values are fixed, but only Text is carried in an ERROR payload.
type ProtoError struct {
	Code uint8
	Text string
}

// Error codes (spec §7).
const (
	ErrBadMsg   uint8 = 100
	ErrBadArg   uint8 = 101
	ErrTooBig   uint8 = 102
	ErrBadSeq   uint8 = 103
	ErrInternal uint8 = 255
)

func (e ProtoError) Error() string {
	return e.Text
}

// payload renders a ProtoError as an ERROR PDU payload: the human text only
// (spec table: ERROR 0x83 "%s" - human text). The numeric code is carried
// out of band by the session layer's logging, matching the wire table.
func (e ProtoError) payload() []byte {
	return []byte(e.Text)
}
