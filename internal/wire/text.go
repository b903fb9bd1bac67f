package wire

import (
	"bytes"
	"fmt"
)

// Text mode carries one PDU per line: a command word followed by arguments
// per that command's format string (spec §4.B "Text decoder state
// machine"). The states named in the spec (ERROR, BOL, CMD, ARGSP, INT,
// STRBEG, STR, QSTR, QOCT) are folded here into a line-at-a-time decoder:
// textDecoder.feed splits input into lines (BOL/CMD), and parseTextLine
// walks one line's tokens (ARGSP/INT/STR/STRBEG/QSTR/QOCT), returning a
// protocol error (ERROR) on any malformed input.

// textProtoError is a malformed-line condition that must produce an
// outbound ERROR PDU and otherwise be ignored (decoding resumes at the
// next line, i.e. back to BOL).
type textProtoError struct {
	text string
}

func (e *textProtoError) Error() string { return e.text }

func protoErrf(format string, args ...any) *textProtoError {
	return &textProtoError{text: fmt.Sprintf(format, args...)}
}

// textDecoder buffers partial lines across feed calls.
type textDecoder struct {
	buf []byte
}

// feed appends data and delivers one (msg, payload) per complete line via
// deliver. Lines that fail to parse invoke onProtoErr with the text for an
// outbound ERROR PDU instead of deliver; decoding continues with the next
// line regardless.
func (d *textDecoder) feed(data []byte, deliver func(msg Msg, payload []byte), onProtoErr func(text string)) {
	d.buf = append(d.buf, data...)

	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		d.buf = d.buf[i+1:]

		msg, payload, err := parseTextLine(line)
		if err != nil {
			onProtoErr(err.Error())
			continue
		}
		deliver(msg, payload)
	}
}

// parseTextLine decodes a single line (without its trailing newline) into a
// PDU.
func parseTextLine(line []byte) (Msg, []byte, error) {
	rest := bytes.TrimLeft(line, " \t")
	if len(rest) == 0 {
		return 0, nil, protoErrf("empty command")
	}

	word, rest := splitToken(rest)
	if len(word) > maxCommandWordLen {
		return 0, nil, protoErrf("command too long")
	}

	spec, ok := commandsByName[string(bytes.ToUpper(word))]
	if !ok {
		return 0, nil, protoErrf("unknown command %q", word)
	}

	var payload []byte
	var err error
	if spec.format == keyValueFormat {
		payload, err = decodeKeyValueArgs(rest)
	} else {
		payload, err = decodeArgs(spec.format, rest)
	}
	if err != nil {
		return 0, nil, err
	}

	return spec.msg, payload, nil
}

// decodeKeyValueArgs parses WRITE/INFO's two-shape argument: a bare key
// (delete form, no NUL anywhere in the resulting payload) or a key
// followed by a raw value (store form, "<key>\0<value>").
func decodeKeyValueArgs(rest []byte) ([]byte, error) {
	if len(rest) == 0 {
		return nil, protoErrf("missing argument")
	}

	key, remainder, err := parseToken(rest)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, protoErrf("missing argument")
	}

	remainder = bytes.TrimLeft(remainder, " \t")
	if len(remainder) == 0 {
		return key, nil
	}

	value, err := parseRestOfLine(remainder)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, len(key)+1+len(value))
	payload = append(payload, key...)
	payload = append(payload, 0)
	payload = append(payload, value...)
	return payload, nil
}

// splitToken splits off the leading whitespace-delimited token from s and
// returns it along with the remainder (with leading whitespace trimmed).
func splitToken(s []byte) (word, rest []byte) {
	i := bytes.IndexAny(s, " \t")
	if i < 0 {
		return s, nil
	}
	return s[:i], bytes.TrimLeft(s[i+1:], " \t")
}

// decodeArgs consumes rest according to format (see commandSpec.format) and
// returns the encoded payload bytes.
func decodeArgs(format string, rest []byte) ([]byte, error) {
	var payload []byte
	optional := false

	for i := 0; i < len(format); i++ {
		tok := format[i]

		if tok == '|' {
			optional = true
			continue
		}

		rest = bytes.TrimLeft(rest, " \t")
		if len(rest) == 0 {
			if optional {
				break
			}
			return nil, protoErrf("missing argument")
		}

		switch tok {
		case 'i':
			n, remainder, err := parseDecimalByte(rest)
			if err != nil {
				return nil, err
			}
			payload = append(payload, n)
			rest = remainder

		case 't':
			last := isLastStringToken(format, i)
			var s []byte
			var remainder []byte
			var err error
			if last {
				s, err = parseRestOfLine(rest)
				remainder = nil
			} else {
				s, remainder, err = parseToken(rest)
			}
			if err != nil {
				return nil, err
			}
			payload = append(payload, s...)
			payload = append(payload, 0)
			rest = remainder

		default:
			return nil, protoErrf("internal: bad format token %q", tok)
		}
	}

	rest = bytes.TrimLeft(rest, " \t")
	if len(rest) != 0 {
		return nil, protoErrf("unexpected argument")
	}

	return payload, nil
}

// isLastStringToken reports whether the format char at i is the final 't'
// (ignoring any trailing '|'), meaning it should consume the rest of the
// line verbatim rather than stop at the next whitespace.
func isLastStringToken(format string, i int) bool {
	for j := i + 1; j < len(format); j++ {
		if format[j] != '|' {
			return false
		}
	}
	return true
}

func parseDecimalByte(s []byte) (byte, []byte, error) {
	tok, rest := splitToken(s)
	if len(tok) == 0 {
		return 0, nil, protoErrf("missing integer argument")
	}
	var n int
	for _, c := range tok {
		if c < '0' || c > '9' {
			return 0, nil, protoErrf("invalid integer argument %q", tok)
		}
		n = n*10 + int(c-'0')
		if n > 255 {
			return 0, nil, protoErrf("integer argument out of range %q", tok)
		}
	}
	return byte(n), rest, nil
}

// parseToken reads one whitespace-delimited argument, honoring quoting
// (QSTR/QOCT) when it starts with `"`.
func parseToken(s []byte) (tok, rest []byte, err error) {
	if len(s) > 0 && s[0] == '"' {
		return parseQuoted(s)
	}
	i := bytes.IndexAny(s, " \t")
	if i < 0 {
		return s, nil, nil
	}
	return s[:i], bytes.TrimLeft(s[i+1:], " \t"), nil
}

// parseRestOfLine reads a STRBEG-style argument: the remainder of the line
// verbatim, trailing whitespace trimmed, unless it is quoted.
func parseRestOfLine(s []byte) ([]byte, error) {
	if len(s) > 0 && s[0] == '"' {
		tok, rest, err := parseQuoted(s)
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimLeft(rest, " \t")) != 0 {
			return nil, protoErrf("unexpected argument")
		}
		return tok, nil
	}
	return bytes.TrimRight(s, " \t"), nil
}

// parseQuoted parses a double-quoted string starting at s[0] == '"',
// honoring `\DDD` octal escapes (exactly three digits) and `\\`/`\"`.
func parseQuoted(s []byte) (tok, rest []byte, err error) {
	var out []byte
	i := 1
	for {
		if i >= len(s) {
			return nil, nil, protoErrf("unterminated quoted string")
		}
		c := s[i]
		switch {
		case c == '"':
			i++
			if i < len(s) && s[i] != ' ' && s[i] != '\t' {
				return nil, nil, protoErrf("garbage after quoted string")
			}
			return out, bytes.TrimLeft(s[i:], " \t"), nil

		case c == '\\':
			if i+1 >= len(s) {
				return nil, nil, protoErrf("unterminated escape")
			}
			switch s[i+1] {
			case '\\':
				out = append(out, '\\')
				i += 2
			case '"':
				out = append(out, '"')
				i += 2
			default:
				if i+3 >= len(s) {
					return nil, nil, protoErrf("truncated octal escape")
				}
				d1, d2, d3 := s[i+1], s[i+2], s[i+3]
				if !isOctalDigit(d1) || !isOctalDigit(d2) || !isOctalDigit(d3) {
					return nil, nil, protoErrf("invalid octal escape")
				}
				v := (int(d1-'0') << 6) | (int(d2-'0') << 3) | int(d3-'0')
				if v > 255 {
					return nil, nil, protoErrf("invalid octal escape")
				}
				out = append(out, byte(v))
				i += 4
			}

		default:
			out = append(out, c)
			i++
		}
	}
}

func isOctalDigit(c byte) bool { return c >= '0' && c <= '7' }

// encodeText renders a PDU as one Text-mode line, quoting each string/bytes
// arg iff it is empty, contains whitespace, starts with `"`, or contains a
// non-printable byte (spec §4.B "Output encoding").
func encodeText(msg Msg, args ...Arg) ([]byte, error) {
	spec, ok := commandsByMsg[msg]
	if !ok {
		return nil, fmt.Errorf("wire: no text command registered for msg %#x", byte(msg))
	}

	var line bytes.Buffer
	line.WriteString(spec.name)

	for _, a := range args {
		switch a.kind {
		case kindByte:
			line.WriteByte(' ')
			fmt.Fprintf(&line, "%d", a.byte_)
		case kindStr, kindBytes:
			line.WriteByte(' ')
			writeTextToken(&line, a.str)
		}
	}
	line.WriteByte('\n')

	return line.Bytes(), nil
}

func writeTextToken(buf *bytes.Buffer, s []byte) {
	if !needsQuoting(s) {
		buf.Write(s)
		return
	}

	buf.WriteByte('"')
	for _, c := range s {
		switch {
		case c == '"' || c == '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case c < 0x20 || c >= 0x7F:
			fmt.Fprintf(buf, "\\%03o", c)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}

func needsQuoting(s []byte) bool {
	if len(s) == 0 {
		return true
	}
	if s[0] == '"' {
		return true
	}
	for _, c := range s {
		if c == ' ' || c == '\t' || c < 0x20 || c >= 0x7F {
			return true
		}
	}
	return false
}
