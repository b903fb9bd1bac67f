package client

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/infod3/infod/internal/wire"
)

// fakeServer accepts exactly one connection and runs handle against it in
// its own goroutine, returning the listener address to dial.
func fakeServer(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()

	return ln.Addr().String()
}

// recvBinaryPDU reads and decodes exactly one Binary-mode PDU from conn.
func recvBinaryPDU(t *testing.T, conn net.Conn) wire.PDU {
	t.Helper()
	dec := wire.NewCodec()
	dec.SetMode(wire.ModeBinary)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		pdus, _, err := dec.Recv(buf[:n])
		require.NoError(t, err)
		if len(pdus) > 0 {
			return pdus[0]
		}
	}
}

func sendBinaryPDU(t *testing.T, conn net.Conn, msg wire.Msg, args ...wire.Arg) {
	t.Helper()
	enc := wire.NewCodec()
	enc.SetMode(wire.ModeBinary)
	b, err := enc.Output(msg, args...)
	require.NoError(t, err)
	_, err = conn.Write(b)
	require.NoError(t, err)
}

func TestDialPerformsHandshake(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		pdu := recvBinaryPDU(t, conn)
		require.Equal(t, wire.HELLO, pdu.Msg)
		sendBinaryPDU(t, conn, wire.VERSION, wire.Byte(0), wire.Bytes([]byte("infod3")))
	})

	c, err := Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()
}

func TestPing(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		recvBinaryPDU(t, conn) // HELLO
		sendBinaryPDU(t, conn, wire.VERSION, wire.Byte(0), wire.Bytes([]byte("infod3")))

		pdu := recvBinaryPDU(t, conn)
		require.Equal(t, wire.PING, pdu.Msg)
		sendBinaryPDU(t, conn, wire.PONG, wire.Bytes(pdu.Payload))
	})

	c, err := Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	reply, err := c.Ping([]byte("hi"))
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), reply)
}

func TestGetPresentAndAbsent(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		recvBinaryPDU(t, conn)
		sendBinaryPDU(t, conn, wire.VERSION, wire.Byte(0), wire.Bytes([]byte("infod3")))

		pdu := recvBinaryPDU(t, conn)
		require.Equal(t, wire.GET, pdu.Msg)
		require.Equal(t, []byte("present"), pdu.Payload)
		sendBinaryPDU(t, conn, wire.INFO, wire.Str([]byte("present")), wire.Bytes([]byte("value")))

		pdu = recvBinaryPDU(t, conn)
		require.Equal(t, wire.GET, pdu.Msg)
		require.Equal(t, []byte("absent"), pdu.Payload)
		sendBinaryPDU(t, conn, wire.INFO, wire.Bytes([]byte("absent")))
	})

	c, err := Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	value, ok, err := c.Get([]byte("present"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("value"), value)

	value, ok, err = c.Get([]byte("absent"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, value)
}

func TestPutAndDelete(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		recvBinaryPDU(t, conn)
		sendBinaryPDU(t, conn, wire.VERSION, wire.Byte(0), wire.Bytes([]byte("infod3")))

		pdu := recvBinaryPDU(t, conn)
		require.Equal(t, wire.PUT, pdu.Msg)
		require.Equal(t, append([]byte("k\x00"), []byte("v")...), pdu.Payload)
		sendBinaryPDU(t, conn, wire.PONG) // daemon sends nothing on success; simulate a harmless ack

		pdu = recvBinaryPDU(t, conn)
		require.Equal(t, wire.PUT, pdu.Msg)
		require.Equal(t, []byte("k"), pdu.Payload)
		sendBinaryPDU(t, conn, wire.PONG)
	})

	c, err := Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put([]byte("k"), []byte("v")))
	require.NoError(t, c.Delete([]byte("k")))
}

func TestPutPropagatesProtocolError(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		recvBinaryPDU(t, conn)
		sendBinaryPDU(t, conn, wire.VERSION, wire.Byte(0), wire.Bytes([]byte("infod3")))

		recvBinaryPDU(t, conn)
		sendBinaryPDU(t, conn, wire.ERROR, wire.Bytes([]byte("write: no space")))
	})

	c, err := Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	err = c.Put([]byte("k"), []byte("v"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no space")
}

func TestSubCollectsCatchUp(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		recvBinaryPDU(t, conn)
		sendBinaryPDU(t, conn, wire.VERSION, wire.Byte(0), wire.Bytes([]byte("infod3")))

		pdu := recvBinaryPDU(t, conn)
		require.Equal(t, wire.SUB, pdu.Msg)

		// Send both catch-up INFOs back-to-back in one write so the
		// client's buffered-bytes heuristic sees them as already in
		// flight rather than blocking for a notification.
		enc := wire.NewCodec()
		enc.SetMode(wire.ModeBinary)
		out1, _ := enc.Output(wire.INFO, wire.Str([]byte("a")), wire.Bytes([]byte("1")))
		out2, _ := enc.Output(wire.INFO, wire.Str([]byte("b")), wire.Bytes([]byte("2")))
		_, err := conn.Write(append(out1, out2...))
		require.NoError(t, err)
	})

	c, err := Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	infos, err := c.Sub([]byte("*"))
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, []byte("a"), infos[0].Key)
	require.Equal(t, []byte("1"), infos[0].Value)
	require.Equal(t, []byte("b"), infos[1].Key)
	require.Equal(t, []byte("2"), infos[1].Value)
}
