package wire

// Mode selects one of the three wire encodings a Codec speaks.
type Mode int

const (
	ModeBinary Mode = iota
	ModeFramed
	ModeText
)

// Codec translates between the PDU abstraction and wire bytes for one
// connection (spec §4.B). It is driven, not callback-recursive: Recv
// decodes everything available in data and returns the PDUs found, plus
// any bytes the codec itself needs written back (a Text-mode protocol
// error encodes to an outbound ERROR line); Output encodes one PDU to
// send.
type Codec struct {
	mode   Mode
	pinned bool
	bin    binaryDecoder
	txt    textDecoder
}

// NewCodec returns a Codec with no mode pinned yet; it is resolved by the
// first call to Recv or Output, unless SetMode pins it first (spec §4.B
// "Mode selection").
func NewCodec() *Codec {
	return &Codec{}
}

// SetMode pins the codec to an explicit mode, bypassing auto-detection.
// Used for the sequential-packet Unix listener, which always speaks
// Framed (spec §6 "Unix domain listener").
func (c *Codec) SetMode(m Mode) {
	c.mode = m
	c.pinned = true
}

// Mode reports the codec's current mode. Meaningless before the mode is
// pinned; callers that need to know should SetMode or call Recv/Output
// first.
func (c *Codec) Mode() Mode { return c.mode }

// Recv decodes data (one accumulated read) into zero or more PDUs.
// outbound holds bytes the codec must send back before anything else -
// currently only Text-mode protocol errors, rendered as outbound ERROR
// lines. A zero-length data signals the peer closed the connection and
// yields a single synthetic EOF PDU.
//
// err is non-nil only for a fatal decode failure (Binary buffer overflow,
// a malformed Framed datagram); the caller should close the connection.
// Text-mode protocol errors are not fatal and are reported via outbound
// instead.
func (c *Codec) Recv(data []byte) (pdus []PDU, outbound [][]byte, err error) {
	if len(data) == 0 {
		return []PDU{{Msg: EOF}}, nil, nil
	}

	if !c.pinned {
		c.pinMode(data[0])
	}

	switch c.mode {
	case ModeFramed:
		msg, payload, ferr := decodeFramed(data)
		if ferr != nil {
			return nil, nil, ferr
		}
		return []PDU{{Msg: msg, Payload: payload}}, nil, nil

	case ModeText:
		c.txt.feed(data,
			func(msg Msg, payload []byte) {
				pdus = append(pdus, PDU{Msg: msg, Payload: payload})
			},
			func(text string) {
				b, _ := encodeText(ERROR, Str([]byte(text)))
				outbound = append(outbound, b)
			},
		)
		return pdus, outbound, nil

	default: // ModeBinary
		berr := c.bin.feed(data, func(msg Msg, payload []byte) {
			pdus = append(pdus, PDU{Msg: msg, Payload: payload})
		})
		if berr != nil {
			return pdus, nil, berr
		}
		return pdus, nil, nil
	}
}

// Output encodes one PDU for transmission in the codec's current mode,
// pinning the mode to Binary first if nothing has pinned it yet (spec
// §4.B "Output before any input selects Binary by default").
func (c *Codec) Output(msg Msg, args ...Arg) ([]byte, error) {
	if !c.pinned {
		c.mode = ModeBinary
		c.pinned = true
	}

	switch c.mode {
	case ModeFramed:
		return encodeFramed(msg, encodePayload(args...))
	case ModeText:
		return encodeText(msg, args...)
	default:
		return encodeBinary(msg, encodePayload(args...))
	}
}

// pinMode auto-detects Text vs Binary from the first received byte (spec
// §4.B "Mode selection").
func (c *Codec) pinMode(lead byte) {
	if isTextLead(lead) {
		c.mode = ModeText
	} else {
		c.mode = ModeBinary
	}
	c.pinned = true
}

func isTextLead(b byte) bool {
	switch b {
	case 0x09, 0x0A, 0x0D, 0x20:
		return true
	}
	return b >= 0x40 && b <= 0x7E
}
