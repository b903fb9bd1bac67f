// Package session implements per-connection state and the command dispatch
// logic described in spec §4.D: HELLO/PING/READ/WRITE/SUB/UNSUB/BEGIN/COMMIT
// handling, subscription catch-up, transactional buffering, and fan-out on
// write. It is the glue between internal/wire (codec), internal/match
// (subscription patterns), internal/store (the data), and internal/mux (the
// event loop that drives it).
package session

import (
	"bytes"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/infod3/infod/internal/match"
	"github.com/infod3/infod/internal/mux"
	"github.com/infod3/infod/internal/store"
	"github.com/infod3/infod/internal/wire"
)

// Defaults for the per-session caps (spec §3 "Session": "a list of active
// subscriptions (capped, default 16), a transactional command buffer
// (capped, default 32 entries)").
const (
	DefaultMaxSubs   = 16
	DefaultMaxBufCmd = 32
)

// ListenerKind tells Manager.OnAccept which codec mode to attach (spec §4.D
// "On accept: attach a Codec in Binary mode by default, Framed if the
// listener is the sequential-packet local socket").
type ListenerKind int

const (
	KindStream ListenerKind = iota
	KindFramed
)

// Manager owns the store and the set of live sessions; it is the thing
// wired up as a mux.Context's upcalls (spec §4.D "insert into the global
// session list").
type Manager struct {
	store     *store.Store
	log       *zap.Logger
	maxSubs   int
	maxBufCmd int
	sessions  []*Session
}

// NewManager returns a Manager bound to store s, with the default caps.
func NewManager(s *store.Store, log *zap.Logger) *Manager {
	return &Manager{
		store:     s,
		log:       log.Named("session"),
		maxSubs:   DefaultMaxSubs,
		maxBufCmd: DefaultMaxBufCmd,
	}
}

// subscription is one attached SUB pattern.
type subscription struct {
	pattern string
}

// Session is one connection's state (spec §3 "Session").
type Session struct {
	id    uuid.UUID
	fd    int
	codec *wire.Codec
	mgr   *Manager
	log   *zap.Logger

	subs []subscription

	begins int
	txnBuf []wire.PDU
}

// OnAccept is a mux.Context.OnAccept upcall: it allocates a Session for a
// newly accepted fd, attaching a Codec whose mode depends on the listener
// kind.
func (mgr *Manager) OnAccept(_ *mux.Mux, fd int, listener any) any {
	kind, _ := listener.(ListenerKind)

	codec := wire.NewCodec()
	if kind == KindFramed {
		codec.SetMode(wire.ModeFramed)
	}

	id := uuid.New()
	sess := &Session{
		id:    id,
		fd:    fd,
		codec: codec,
		mgr:   mgr,
		log:   mgr.log.With(zap.String("session", id.String())),
	}

	mgr.sessions = append(mgr.sessions, sess)
	return sess
}

// OnReady is a mux.Context.OnReady upcall: it reads whatever is available
// on fd, decodes it, and dispatches every resulting PDU (spec §4.D "On
// receive of decoded PDU").
func (mgr *Manager) OnReady(_ *mux.Mux, conn any, fd int) int {
	sess := conn.(*Session)

	buf := make([]byte, 64*1024)
	n, err := unix.Read(fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return 1
		}
		return -1
	}
	if n == 0 {
		return 0 // peer closed
	}

	pdus, outbound, err := sess.codec.Recv(buf[:n])
	if err != nil {
		return -1
	}
	for _, ob := range outbound {
		if werr := sess.write(ob); werr != nil {
			return -1
		}
	}

	for _, pdu := range pdus {
		if pdu.Msg == wire.EOF {
			return 0
		}
		if derr := sess.dispatch(pdu); derr != nil {
			return -1
		}
	}
	return 1
}

// OnClose is a mux.Context.OnClose upcall: it drops the session from the
// global list so fan-out and catch-up stop considering it.
func (mgr *Manager) OnClose(_ *mux.Mux, conn any, _ any) {
	sess, ok := conn.(*Session)
	if !ok || sess == nil {
		return
	}
	for i, s := range mgr.sessions {
		if s == sess {
			mgr.sessions = append(mgr.sessions[:i], mgr.sessions[i+1:]...)
			break
		}
	}
}

// OnError logs a mux-reported condition.
func (mgr *Manager) OnError(_ *mux.Mux, msg string) {
	mgr.log.Warn("multiplexer error", zap.String("detail", msg))
}

// write sends b on the session's own fd. Every write failure, a full send
// buffer included, is reported as errSendFailed; callers decide whether that
// closes just this connection (own reply) or merely schedules a close
// (fan-out).
func (s *Session) write(b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(s.fd, b)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return errSendFailed
			}
			return errSendFailed
		}
		b = b[n:]
	}
	return nil
}

func (s *Session) send(msg wire.Msg, args ...wire.Arg) error {
	b, err := s.codec.Output(msg, args...)
	if err != nil {
		return errSendFailed
	}
	return s.write(b)
}

// sendError replies with an ERROR PDU. The wire payload carries only the
// human text (spec §7 table); the numeric code is logged locally rather
// than sent, matching ProtoError's doc comment on why it isn't encoded.
func (s *Session) sendError(code uint8, text string) error {
	s.log.Debug("protocol error", zap.Uint8("code", code), zap.String("text", text))
	return s.send(wire.ERROR, wire.Bytes([]byte(text)))
}

// dispatch is the top-level entry point for one decoded PDU: it intercepts
// transactional buffering (spec §4.D "Transactional buffering") before
// handing non-buffered commands to execute.
func (s *Session) dispatch(pdu wire.PDU) error {
	if s.begins > 0 {
		return s.bufferOrReplay(pdu)
	}
	return s.execute(pdu)
}

// bufferOrReplay implements the nested-BEGIN counter and the bounded FIFO
// (spec §4.D "Transactional buffering"). BEGIN and COMMIT are intercepted
// here rather than buffered themselves, mirroring the original dispatcher's
// split between the transaction-tracking layer and the replay path.
func (s *Session) bufferOrReplay(pdu wire.PDU) error {
	switch pdu.Msg {
	case wire.BEGIN:
		s.begins++
		return nil

	case wire.COMMIT:
		s.begins--
		if s.begins > 0 {
			return nil
		}
		replay := s.txnBuf
		s.txnBuf = nil
		for _, p := range replay {
			if err := s.execute(p); err != nil {
				return err
			}
		}
		return nil
	}

	if len(s.txnBuf) >= s.mgr.maxBufCmd {
		return s.sendError(wire.ErrTooBig, "commit buffer overflow")
	}
	s.txnBuf = append(s.txnBuf, pdu)
	return nil
}

// execute runs one non-buffered command (spec §4.D "On receive of decoded
// PDU").
func (s *Session) execute(pdu wire.PDU) error {
	switch pdu.Msg {
	case wire.HELLO:
		return s.send(wire.VERSION, wire.Byte(0), wire.Bytes([]byte("infod3")))

	case wire.PING:
		return s.send(wire.PONG, wire.Bytes(pdu.Payload))

	case wire.GET:
		return s.handleRead(pdu.Payload)

	case wire.PUT:
		return s.handleWrite(pdu.Payload)

	case wire.SUB:
		return s.handleSub(pdu.Payload)

	case wire.UNSUB:
		return s.handleUnsub(pdu.Payload)

	case wire.BEGIN:
		s.begins = 1
		return nil

	case wire.COMMIT:
		return s.sendError(wire.ErrBadSeq, "commit: no begin")

	default:
		return s.sendError(wire.ErrBadMsg, "unexpected message")
	}
}

// handleRead implements READ(key) (spec §4.D).
func (s *Session) handleRead(key []byte) error {
	if bytes.IndexByte(key, 0) >= 0 {
		return s.sendError(wire.ErrBadArg, "read: invalid key")
	}

	info, ok, err := s.mgr.store.Get(key)
	if err != nil {
		return s.sendError(wire.ErrInternal, err.Error())
	}
	if !ok {
		return s.send(wire.INFO, wire.Bytes(key))
	}
	return s.send(wire.INFO, wire.Str(info.Key), wire.Bytes(info.Value))
}

// handleWrite implements WRITE(payload): a payload with no embedded NUL
// deletes; one NUL splits into key and value (spec §3 "Info", §4.D "WRITE").
// Ephemeral keys ("key!\0value", Open Question 1 of spec.md) are left
// unimplemented, same as spec.md's own conclusion: a bare WRITE/PUT never
// carries TTL semantics here.
func (s *Session) handleWrite(payload []byte) error {
	nul := bytes.IndexByte(payload, 0)

	if nul < 0 {
		deleted, err := s.mgr.store.Del(payload)
		if err != nil {
			return s.sendError(wire.ErrInternal, err.Error())
		}
		if !deleted {
			return nil
		}
		s.mgr.fanOut(payload)
		return nil
	}

	key, value := payload[:nul], payload[nul+1:]
	changed, err := s.mgr.store.Put(key, value)
	if err != nil {
		if errors.Is(err, store.ErrInvalidKey) || errors.Is(err, store.ErrTooBig) {
			return s.sendError(wire.ErrBadArg, err.Error())
		}
		return s.sendError(wire.ErrInternal, err.Error())
	}
	if changed == store.Unchanged {
		return nil
	}
	s.mgr.fanOut(payload)
	return nil
}

// handleSub implements SUB(pattern): cap check, pattern validation, attach,
// then catch-up (spec §4.D "SUB(pattern)").
func (s *Session) handleSub(pattern []byte) error {
	if len(s.subs) >= s.mgr.maxSubs {
		return s.sendError(wire.ErrTooBig, "sub: too many subscriptions")
	}
	if bytes.IndexByte(pattern, 0) >= 0 || !match.Valid(string(pattern)) {
		return s.sendError(wire.ErrBadArg, "sub: invalid pattern")
	}

	s.subs = append(s.subs, subscription{pattern: string(pattern)})

	it := s.mgr.store.IterFirst()
	for {
		info, ok, err := it.Next()
		if err != nil {
			return s.sendError(wire.ErrInternal, err.Error())
		}
		if !ok {
			break
		}
		kv := keyValue(info)
		if !match.Match(string(pattern), string(kv)) {
			continue
		}
		if err := s.send(wire.INFO, wire.Bytes(kv)); err != nil {
			return err
		}
	}
	return nil
}

// handleUnsub implements UNSUB(pattern): exact-match removal, no error if
// absent (spec §4.D "UNSUB(pattern)").
func (s *Session) handleUnsub(pattern []byte) error {
	p := string(pattern)
	for i, sub := range s.subs {
		if sub.pattern == p {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	return nil
}

// keyValue renders a store.Info as the "<key>\0<value>" blob that both
// INFO payloads and pattern matching operate over.
func keyValue(info store.Info) []byte {
	kv := make([]byte, 0, len(info.Key)+1+len(info.Value))
	kv = append(kv, info.Key...)
	kv = append(kv, 0)
	kv = append(kv, info.Value...)
	return kv
}

// fanOut walks every session's subscriptions and forwards payload (the raw
// WRITE payload, key-only or key\0value) to every match (spec §4.D
// "Fan-out on write"). A full send buffer schedules that one session for
// close via shutdown_read without interrupting fan-out to the rest.
func (mgr *Manager) fanOut(payload []byte) {
	blob := string(payload)
	for _, sess := range mgr.sessions {
		matched := false
		for _, sub := range sess.subs {
			if match.Match(sub.pattern, blob) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if err := sess.send(wire.INFO, wire.Bytes(payload)); err != nil {
			if serr := mux.ShutdownRead(sess.fd); serr != nil {
				mgr.log.Warn("shutdown_read failed",
					zap.String("session", sess.id.String()), zap.Error(serr))
			}
		}
	}
}
