package wire

import (
	"encoding/binary"
	"errors"
)

// ErrTooBig is returned by the Binary/Framed encoders and decoders when a
// payload exceeds the protocol's length limits (spec §4.B "Failure
// semantics").
var ErrTooBig = errors.New("wire: payload too big")

// binaryMaxPayload is the largest payload len the 16-bit length prefix can
// express.
const binaryMaxPayload = 0xFFFF

// binaryMaxBuffer is the decoder's buffer ceiling: a 3-byte header plus the
// largest possible payload (spec §4.B "Binary decoder state machine").
const binaryMaxBuffer = binaryMaxPayload + 3

// binaryDecoder accumulates bytes into a growable buffer and delivers one
// PDU per complete frame: [msg:u8][len:u16 big-endian][payload:len bytes].
type binaryDecoder struct {
	buf []byte
}

// feed appends data to the internal buffer and delivers every complete PDU
// it now contains, in order, via deliver.
func (d *binaryDecoder) feed(data []byte, deliver func(msg Msg, payload []byte)) error {
	d.buf = append(d.buf, data...)

	for {
		if len(d.buf) < 3 {
			break
		}

		payloadLen := int(binary.BigEndian.Uint16(d.buf[1:3]))
		total := 3 + payloadLen

		if len(d.buf) < total {
			if total > binaryMaxBuffer {
				d.buf = nil
				return ErrTooBig
			}
			break
		}

		msg := Msg(d.buf[0])
		payload := make([]byte, payloadLen)
		copy(payload, d.buf[3:total])

		remaining := len(d.buf) - total
		copy(d.buf, d.buf[total:])
		d.buf = d.buf[:remaining]

		deliver(msg, payload)
	}

	return nil
}

// encodeBinary renders a PDU in Binary mode.
func encodeBinary(msg Msg, payload []byte) ([]byte, error) {
	if len(payload) > binaryMaxPayload {
		return nil, ErrTooBig
	}

	out := make([]byte, 3+len(payload))
	out[0] = byte(msg)
	binary.BigEndian.PutUint16(out[1:3], uint16(len(payload)))
	copy(out[3:], payload)

	return out, nil
}
