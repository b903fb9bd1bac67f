package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/infod3/infod/internal/store"
	"github.com/infod3/infod/internal/wire"
)

// harness wires a Manager to a real Store plus a pair of connected sockets
// per accepted Session, so requests can be written on the peer end and
// replies read back, all without a live mux event loop.
type harness struct {
	t   *testing.T
	mgr *Manager
	req *wire.Codec // encodes requests in Binary mode, as a client would
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "infod3.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	req := wire.NewCodec()
	req.SetMode(wire.ModeBinary)

	return &harness{t: t, mgr: NewManager(st, zap.NewNop()), req: req}
}

// connect accepts a fresh session over a socketpair and returns the peer fd
// a test writes requests to / reads replies from, plus the Session.
func (h *harness) connect() (peer int, sess *Session) {
	h.t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(h.t, err)
	h.t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	require.NoError(h.t, unix.SetNonblock(fds[0], true))
	require.NoError(h.t, unix.SetNonblock(fds[1], true))

	data := h.mgr.OnAccept(nil, fds[0], KindStream)
	sess = data.(*Session)
	return fds[1], sess
}

// roundTrip writes a request PDU on peer, drives OnReady once through
// pumpAndRead, and returns the decoded reply PDUs read back from peer.
func (h *harness) roundTrip(peer int, msg wire.Msg, args ...wire.Arg) []wire.PDU {
	h.t.Helper()
	b, err := h.req.Output(msg, args...)
	require.NoError(h.t, err)
	_, err = unix.Write(peer, b)
	require.NoError(h.t, err)

	return h.pumpAndRead(peer)
}

// pumpAndRead drives OnReady once on every session registered on the manager
// (tests only ever have one or two), then reads the replies waiting on peer.
func (h *harness) pumpAndRead(peer int) []wire.PDU {
	h.t.Helper()
	for _, sess := range h.mgr.sessions {
		ret := h.mgr.OnReady(nil, sess, sess.fd)
		require.GreaterOrEqual(h.t, ret, 0, "session should not be closed")
	}
	return h.readReplies(peer)
}

func (h *harness) readReplies(peer int) []wire.PDU {
	h.t.Helper()
	buf := make([]byte, 64*1024)
	n, err := unix.Read(peer, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil
		}
		require.NoError(h.t, err)
	}

	replyCodec := wire.NewCodec()
	replyCodec.SetMode(wire.ModeBinary)
	pdus, _, err := replyCodec.Recv(buf[:n])
	require.NoError(h.t, err)
	return pdus
}

func TestHelloRepliesVersion(t *testing.T) {
	h := newHarness(t)
	peer, _ := h.connect()

	pdus := h.roundTrip(peer, wire.HELLO)
	require.Len(t, pdus, 1)
	require.Equal(t, wire.VERSION, pdus[0].Msg)
	require.Equal(t, append([]byte{0}, []byte("infod3")...), pdus[0].Payload)
}

func TestPingPong(t *testing.T) {
	h := newHarness(t)
	peer, _ := h.connect()

	pdus := h.roundTrip(peer, wire.PING, wire.Bytes([]byte("abc")))
	require.Len(t, pdus, 1)
	require.Equal(t, wire.PONG, pdus[0].Msg)
	require.Equal(t, []byte("abc"), pdus[0].Payload)
}

func TestReadMissingKeyReturnsKeyOnlyInfo(t *testing.T) {
	h := newHarness(t)
	peer, _ := h.connect()

	pdus := h.roundTrip(peer, wire.GET, wire.Bytes([]byte("nope")))
	require.Len(t, pdus, 1)
	require.Equal(t, wire.INFO, pdus[0].Msg)
	require.Equal(t, []byte("nope"), pdus[0].Payload)
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	h := newHarness(t)
	peer, _ := h.connect()

	pdus := h.roundTrip(peer, wire.PUT, wire.Str([]byte("k")), wire.Bytes([]byte("v")))
	require.Empty(t, pdus, "a successful write with no subscribers produces no reply")

	pdus = h.roundTrip(peer, wire.GET, wire.Bytes([]byte("k")))
	require.Len(t, pdus, 1)
	require.Equal(t, wire.INFO, pdus[0].Msg)
	require.Equal(t, append([]byte("k\x00"), []byte("v")...), pdus[0].Payload)
}

func TestWriteDeleteOfAbsentKeyIsSilent(t *testing.T) {
	h := newHarness(t)
	peer, _ := h.connect()

	pdus := h.roundTrip(peer, wire.PUT, wire.Bytes([]byte("ghost")))
	require.Empty(t, pdus)
}

func TestWriteDeleteOfPresentKeyFansOut(t *testing.T) {
	h := newHarness(t)
	writerPeer, _ := h.connect()
	subPeer, _ := h.connect()

	h.roundTrip(writerPeer, wire.PUT, wire.Str([]byte("k")), wire.Bytes([]byte("v")))
	pdus := h.roundTrip(subPeer, wire.SUB, wire.Bytes([]byte("*")))
	require.Len(t, pdus, 1, "catch-up should report the existing key")
	require.Equal(t, wire.INFO, pdus[0].Msg)

	pdus = h.roundTrip(writerPeer, wire.PUT, wire.Bytes([]byte("k")))
	require.Empty(t, pdus, "the writer itself gets no reply from its own write")

	replies := h.readReplies(subPeer)
	require.Len(t, replies, 1)
	require.Equal(t, wire.INFO, replies[0].Msg)
	require.Equal(t, []byte("k"), replies[0].Payload)
}

func TestSubCatchUpThenNotifiedOnWrite(t *testing.T) {
	h := newHarness(t)
	subPeer, _ := h.connect()
	writerPeer, _ := h.connect()

	pdus := h.roundTrip(subPeer, wire.SUB, wire.Bytes([]byte("a*")))
	require.Empty(t, pdus, "no existing keys yet")

	h.roundTrip(writerPeer, wire.PUT, wire.Str([]byte("abc")), wire.Bytes([]byte("1")))

	replies := h.readReplies(subPeer)
	require.Len(t, replies, 1)
	require.Equal(t, wire.INFO, replies[0].Msg)
	require.Equal(t, append([]byte("abc\x00"), []byte("1")...), replies[0].Payload)
}

func TestSubInvalidPatternRepliesBadArg(t *testing.T) {
	h := newHarness(t)
	peer, _ := h.connect()

	pdus := h.roundTrip(peer, wire.SUB, wire.Bytes([]byte("(")))
	require.Len(t, pdus, 1)
	require.Equal(t, wire.ERROR, pdus[0].Msg)
}

func TestSubTooManySubscriptionsRepliesTooBig(t *testing.T) {
	h := newHarness(t)
	peer, sess := h.connect()

	for i := 0; i < DefaultMaxSubs; i++ {
		sess.subs = append(sess.subs, subscription{pattern: "x"})
	}

	pdus := h.roundTrip(peer, wire.SUB, wire.Bytes([]byte("*")))
	require.Len(t, pdus, 1)
	require.Equal(t, wire.ERROR, pdus[0].Msg)
}

func TestUnsubRemovesSubscriptionSilently(t *testing.T) {
	h := newHarness(t)
	peer, sess := h.connect()

	h.roundTrip(peer, wire.SUB, wire.Bytes([]byte("*")))
	require.Len(t, sess.subs, 1)

	pdus := h.roundTrip(peer, wire.UNSUB, wire.Bytes([]byte("*")))
	require.Empty(t, pdus)
	require.Empty(t, sess.subs)

	pdus = h.roundTrip(peer, wire.UNSUB, wire.Bytes([]byte("never-subscribed")))
	require.Empty(t, pdus, "unsub of an absent pattern is not an error")
}

func TestCommitWithoutBeginRepliesBadSeq(t *testing.T) {
	h := newHarness(t)
	peer, _ := h.connect()

	pdus := h.roundTrip(peer, wire.COMMIT)
	require.Len(t, pdus, 1)
	require.Equal(t, wire.ERROR, pdus[0].Msg)
}

func TestBeginCommitBuffersAndReplays(t *testing.T) {
	h := newHarness(t)
	peer, sess := h.connect()

	require.Empty(t, h.roundTrip(peer, wire.BEGIN))
	require.Equal(t, 1, sess.begins)

	require.Empty(t, h.roundTrip(peer, wire.PUT, wire.Str([]byte("k")), wire.Bytes([]byte("v"))))
	require.Len(t, sess.txnBuf, 1, "writes issued mid-transaction are buffered, not applied yet")

	_, _, err := sess.mgr.store.Get([]byte("k"))
	require.NoError(t, err)

	pdus := h.roundTrip(peer, wire.COMMIT)
	require.Empty(t, pdus)
	require.Equal(t, 0, sess.begins)
	require.Empty(t, sess.txnBuf)

	pdus = h.roundTrip(peer, wire.GET, wire.Bytes([]byte("k")))
	require.Len(t, pdus, 1)
	require.Equal(t, append([]byte("k\x00"), []byte("v")...), pdus[0].Payload)
}

func TestNestedBeginRequiresBalancedCommits(t *testing.T) {
	h := newHarness(t)
	peer, sess := h.connect()

	h.roundTrip(peer, wire.BEGIN)
	h.roundTrip(peer, wire.BEGIN)
	require.Equal(t, 2, sess.begins)

	pdus := h.roundTrip(peer, wire.PUT, wire.Str([]byte("k")), wire.Bytes([]byte("v")))
	require.Empty(t, pdus)

	pdus = h.roundTrip(peer, wire.COMMIT)
	require.Empty(t, pdus, "inner commit just decrements, no replay yet")
	require.Equal(t, 1, sess.begins)

	info, ok, err := sess.mgr.store.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok, "buffered write must not be visible before the outer commit")
	_ = info

	pdus = h.roundTrip(peer, wire.COMMIT)
	require.Empty(t, pdus)
	require.Equal(t, 0, sess.begins)

	_, ok, err = sess.mgr.store.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTransactionBufferOverflowRepliesTooBigAndRetainsBuffer(t *testing.T) {
	h := newHarness(t)
	peer, sess := h.connect()

	h.roundTrip(peer, wire.BEGIN)
	for i := 0; i < DefaultMaxBufCmd; i++ {
		pdus := h.roundTrip(peer, wire.PING, wire.Bytes([]byte("x")))
		require.Empty(t, pdus)
	}
	require.Len(t, sess.txnBuf, DefaultMaxBufCmd)

	pdus := h.roundTrip(peer, wire.PING, wire.Bytes([]byte("overflow")))
	require.Len(t, pdus, 1)
	require.Equal(t, wire.ERROR, pdus[0].Msg)
	require.Len(t, sess.txnBuf, DefaultMaxBufCmd, "overflow buffer is retained for the eventual commit")
}

func TestOnCloseRemovesSessionFromFanOut(t *testing.T) {
	h := newHarness(t)
	_, sess := h.connect()
	require.Len(t, h.mgr.sessions, 1)

	h.mgr.OnClose(nil, sess, nil)
	require.Empty(t, h.mgr.sessions)
}

func TestFramedListenerPinsFramedMode(t *testing.T) {
	h := newHarness(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})

	data := h.mgr.OnAccept(nil, fds[0], KindFramed)
	sess := data.(*Session)
	require.Equal(t, wire.ModeFramed, sess.codec.Mode())
}
