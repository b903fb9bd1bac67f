// Package client is a thin infod3 wire-protocol client, the library behind
// cmd/infoctl (spec §1 "external interface, not a core subsystem"; spec
// MODULE INVENTORY "cmd/infoctl, internal/client").
package client

import (
	"bufio"
	"bytes"
	"fmt"
	"net"

	"github.com/infod3/infod/internal/wire"
)

// Client is a single connection to an infod3 daemon, speaking Binary mode
// (the default for any stream listener per spec §4.D "On accept").
type Client struct {
	conn   net.Conn
	dec    *wire.Codec
	buf    *bufio.Reader
	queued []wire.PDU // PDUs decoded from a read that yielded more than one
}

// Dial connects to addr (host:port for TCP, or a filesystem path for a Unix
// domain socket) and completes the HELLO/VERSION handshake.
func Dial(network, addr string) (*Client, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}

	c := &Client{conn: conn, dec: wire.NewCodec(), buf: bufio.NewReader(conn)}
	c.dec.SetMode(wire.ModeBinary)

	if _, err := c.Hello(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) sendRecv(msg wire.Msg, args ...wire.Arg) (wire.PDU, error) {
	out, err := c.dec.Output(msg, args...)
	if err != nil {
		return wire.PDU{}, err
	}
	if _, err := c.conn.Write(out); err != nil {
		return wire.PDU{}, fmt.Errorf("client: write: %w", err)
	}
	return c.recvOne()
}

// recvOne returns the next decoded PDU, reading from the connection until
// one is available. A single read may decode more than one PDU (e.g. two
// catch-up INFOs arriving in the same packet); any extra PDUs are queued
// for the next call rather than discarded.
func (c *Client) recvOne() (wire.PDU, error) {
	if len(c.queued) > 0 {
		pdu := c.queued[0]
		c.queued = c.queued[1:]
		return pdu, nil
	}

	chunk := make([]byte, 4096)
	for {
		n, err := c.buf.Read(chunk)
		if err != nil {
			return wire.PDU{}, fmt.Errorf("client: read: %w", err)
		}
		pdus, _, err := c.dec.Recv(chunk[:n])
		if err != nil {
			return wire.PDU{}, fmt.Errorf("client: decode: %w", err)
		}
		if len(pdus) == 0 {
			continue
		}
		c.queued = pdus[1:]
		return pdus[0], nil
	}
}

// Hello performs the HELLO/VERSION handshake, returning the daemon's
// reported version string.
func (c *Client) Hello() (string, error) {
	pdu, err := c.sendRecv(wire.HELLO)
	if err != nil {
		return "", err
	}
	if pdu.Msg != wire.VERSION || len(pdu.Payload) < 1 {
		return "", fmt.Errorf("client: unexpected hello reply %v", pdu.Msg)
	}
	return string(pdu.Payload[1:]), nil
}

// Ping sends PING(payload) and returns the echoed PONG payload.
func (c *Client) Ping(payload []byte) ([]byte, error) {
	pdu, err := c.sendRecv(wire.PING, wire.Bytes(payload))
	if err != nil {
		return nil, err
	}
	if pdu.Msg != wire.PONG {
		return nil, protoErr(pdu)
	}
	return pdu.Payload, nil
}

// Get reads key, returning (value, true) if present or (nil, false) if
// the key-only "info" comes back (spec §4.D "READ(key)").
func (c *Client) Get(key []byte) ([]byte, bool, error) {
	pdu, err := c.sendRecv(wire.GET, wire.Bytes(key))
	if err != nil {
		return nil, false, err
	}
	if pdu.Msg != wire.INFO {
		return nil, false, protoErr(pdu)
	}
	nul := bytes.IndexByte(pdu.Payload, 0)
	if nul < 0 {
		return nil, false, nil
	}
	return pdu.Payload[nul+1:], true, nil
}

// Put stores key=value (spec §4.D "WRITE(payload)" store form).
func (c *Client) Put(key, value []byte) error {
	pdu, err := c.sendRecv(wire.PUT, wire.Str(key), wire.Bytes(value))
	if err != nil {
		return err
	}
	if pdu.Msg == wire.ERROR {
		return protoErr(pdu)
	}
	return nil
}

// Delete removes key (spec §4.D "WRITE(payload)" delete form).
func (c *Client) Delete(key []byte) error {
	pdu, err := c.sendRecv(wire.PUT, wire.Bytes(key))
	if err != nil {
		return err
	}
	if pdu.Msg == wire.ERROR {
		return protoErr(pdu)
	}
	return nil
}

// Info is a decoded INFO payload: a key, paired with its value if present.
type Info struct {
	Key     []byte
	Value   []byte
	Present bool
}

// Sub subscribes to pattern and collects the catch-up INFOs (spec §4.D
// "SUB(pattern)"). It does not wait for further notifications; callers that
// want live updates should keep calling Recv.
func (c *Client) Sub(pattern []byte) ([]Info, error) {
	out, err := c.dec.Output(wire.SUB, wire.Bytes(pattern))
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(out); err != nil {
		return nil, fmt.Errorf("client: write: %w", err)
	}

	var infos []Info
	for {
		pdu, err := c.recvOne()
		if err != nil {
			return infos, err
		}
		if pdu.Msg == wire.ERROR {
			return infos, protoErr(pdu)
		}
		if pdu.Msg != wire.INFO {
			return infos, fmt.Errorf("client: unexpected sub reply %v", pdu.Msg)
		}
		info := decodeInfo(pdu.Payload)
		infos = append(infos, info)
		if len(c.queued) == 0 && !hasMore(c.buf) {
			return infos, nil
		}
	}
}

// Recv blocks for the next unsolicited INFO notification (from a prior
// Sub), decoding it.
func (c *Client) Recv() (Info, error) {
	pdu, err := c.recvOne()
	if err != nil {
		return Info{}, err
	}
	if pdu.Msg != wire.INFO {
		return Info{}, fmt.Errorf("client: unexpected notification %v", pdu.Msg)
	}
	return decodeInfo(pdu.Payload), nil
}

func decodeInfo(payload []byte) Info {
	nul := bytes.IndexByte(payload, 0)
	if nul < 0 {
		return Info{Key: payload}
	}
	return Info{Key: payload[:nul], Value: payload[nul+1:], Present: true}
}

// hasMore reports whether the read buffer already holds unconsumed bytes,
// used by Sub to decide whether more catch-up INFOs are already in flight
// without blocking on the network for a notification that may never come.
func hasMore(r *bufio.Reader) bool {
	return r.Buffered() > 0
}

func protoErr(pdu wire.PDU) error {
	return wire.ProtoError{Code: wire.ErrInternal, Text: string(pdu.Payload)}
}
