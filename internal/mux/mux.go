// Package mux implements the single-threaded, poll-driven connection
// multiplexer (spec §4.C): it owns a set of listener and connection file
// descriptors, drives a poll-style wait loop, dispatches readiness to
// per-fd callbacks, and enforces a soft connection cap via backpressure.
//
// There are no threads here (spec §5 "single-threaded cooperative"): Poll
// is the only call that blocks, and every callback must return promptly.
package mux

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// increment is the fixed growth step for the internal tables (spec §4.C
// "internal tables grow by a fixed increment (16)").
const increment = 16

// Context supplies the multiplexer's upcalls and configuration (spec §4.C
// "Public contract").
type Context struct {
	// MaxSockets caps the number of simultaneously active sockets
	// (listeners + connections). 0 means unlimited.
	MaxSockets int

	// OnAccept is invoked after a listener fd becomes ready and is
	// accepted, or when AddFD registers an already-accepted fd. It
	// returns the per-connection state the multiplexer will hand back
	// on every subsequent callback for this fd.
	OnAccept func(m *Mux, fd int, listener any) any

	// OnReady is invoked when a connection fd is readable. Returning 1
	// keeps the connection open; 0 closes it in an orderly way; -1
	// closes it and reports the condition via OnError.
	OnReady func(m *Mux, conn any, fd int) int

	// OnClose is invoked once a connection fd has been closed, whether
	// via OnReady's 0/-1 return or Free.
	OnClose func(m *Mux, conn any, listener any)

	// OnListenerClose is invoked once a listener fd has been closed,
	// during Free.
	OnListenerClose func(m *Mux, listener any)

	// OnError reports internal errors (accept/close failures, OnReady
	// returning -1). If nil, nothing is logged.
	OnError func(m *Mux, msg string)
}

// socket is one fd's bookkeeping, parallel to pollfds by index.
type socket struct {
	data       any
	listener   any
	isListener bool
}

// Mux is a poll-driven multiplexer instance (spec §4.C). sockets and
// pollfds are parallel, index-aligned tables sized explicitly in fixed
// increments with shrink hysteresis (spec §4.C "internal tables grow by a
// fixed increment (16) and shrink with a one-slot hysteresis"), rather
// than left to Go slice append's own (different) growth policy.
type Mux struct {
	ctx     *Context
	n       int // active fd count; also len(sockets)==len(pollfds)==n
	sockets []socket
	pollfds []unix.PollFd
}

// New returns a Mux with no registered fds.
func New(ctx *Context) *Mux {
	return &Mux{ctx: ctx}
}

// Len reports the number of currently registered fds (listeners plus
// connections).
func (m *Mux) Len() int { return m.n }

// resize grows or shrinks the backing tables to hold n active fds,
// rounding n up to the next multiple of increment first. When n is below
// the current capacity, one extra slot is counted before rounding, so the
// tables only shrink once the fd count is a full slot below the smaller
// size: a count moving back and forth across a bucket boundary by one
// never reallocates (spec §4.C "shrink with a one-slot hysteresis to avoid
// thrash").
func (m *Mux) resize(n int) {
	cap_ := cap(m.pollfds)
	if n < cap_ {
		n++ // one slot of shrink hysteresis
	}
	if n%increment != 0 {
		n += increment - n%increment
	}
	if cap_ == n {
		return
	}

	newSockets := make([]socket, m.n, n)
	copy(newSockets, m.sockets)
	m.sockets = newSockets

	newPollfds := make([]unix.PollFd, m.n, n)
	copy(newPollfds, m.pollfds)
	m.pollfds = newPollfds
}

func (m *Mux) reportError(format string, args ...any) {
	if m.ctx.OnError != nil {
		m.ctx.OnError(m, fmt.Sprintf(format, args...))
	}
}

// listenerEnable toggles every listener fd's poll interest, implementing
// the soft connection cap (spec §4.C "backpressure").
func (m *Mux) listenerEnable(enable bool) {
	for i := range m.sockets {
		if !m.sockets[i].isListener {
			continue
		}
		if enable {
			m.pollfds[i].Events = unix.POLLIN
		} else {
			m.pollfds[i].Revents = 0
			m.pollfds[i].Events = 0
		}
	}
}

// addSocket registers a new non-blocking fd and returns its index.
func (m *Mux) addSocket(fd int) (int, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return -1, err
	}

	m.resize(m.n + 1)

	i := m.n
	m.pollfds = m.pollfds[:m.n+1]
	m.sockets = m.sockets[:m.n+1]
	m.pollfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	m.sockets[i] = socket{}
	m.n++

	if m.ctx.MaxSockets != 0 && m.n >= m.ctx.MaxSockets {
		m.listenerEnable(false)
	}

	return i, nil
}

// delSocket closes and removes the fd at index i, preserving the
// "swap with last" packing the original server used (order among the
// remaining fds is not otherwise significant).
func (m *Mux) delSocket(i int) {
	fd := int(m.pollfds[i].Fd)
	sock := m.sockets[i]

	if err := unix.Close(fd); err != nil {
		m.reportError("close fd %d: %v", fd, err)
	}
	if m.ctx.OnClose != nil {
		m.ctx.OnClose(m, sock.data, sock.listener)
	}

	last := m.n - 1
	if i < last {
		m.pollfds[i] = m.pollfds[last]
		m.sockets[i] = m.sockets[last]
	}
	m.n--
	m.pollfds = m.pollfds[:m.n]
	m.sockets = m.sockets[:m.n]
	m.resize(m.n)

	if m.ctx.MaxSockets != 0 && m.n == m.ctx.MaxSockets-1 {
		m.listenerEnable(true)
	}
}

// AddListener registers fd as a listening socket; fds accepted on it are
// auto-added as connections via OnAccept.
func (m *Mux) AddListener(fd int, listener any) error {
	i, err := m.addSocket(fd)
	if err != nil {
		return err
	}
	m.sockets[i].isListener = true
	m.sockets[i].listener = listener
	return nil
}

// AddFD registers an already-accepted fd as a connection, invoking
// OnAccept to obtain its connection state.
func (m *Mux) AddFD(fd int, listener any) error {
	if _, err := m.addSocket(fd); err != nil {
		return err
	}

	if m.ctx.OnAccept != nil {
		data := m.ctx.OnAccept(m, fd, listener)
		// Anything may have happened in the upcall (it may add or
		// remove fds); relocate fd by value before writing back.
		for i := range m.pollfds {
			if int(m.pollfds[i].Fd) == fd {
				m.sockets[i].data = data
				m.sockets[i].listener = listener
				break
			}
		}
	}
	return nil
}

func (m *Mux) accept(listenFd int, listener any) {
	fd, _, err := unix.Accept(listenFd)
	if err != nil {
		m.reportError("accept: %v", err)
		return
	}
	if err := m.AddFD(fd, listener); err != nil {
		if cerr := unix.Close(fd); cerr != nil {
			m.reportError("close: %v", cerr)
		}
	}
}

// Poll runs one iteration: wait up to timeoutMillis (-1 blocks forever)
// for readiness, then dispatch. It returns the number of ready fds, 0 if
// there were none to wait on or none became ready, or -1 on a poll error.
func (m *Mux) Poll(timeoutMillis int) (int, error) {
	if len(m.pollfds) == 0 {
		return 0, nil
	}

	n, err := unix.Poll(m.pollfds, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return -1, err
	}
	if n <= 0 {
		return n, nil
	}

	i := 0
	for i < len(m.pollfds) {
		revents := m.pollfds[i].Revents
		if revents == 0 {
			i++
			continue
		}
		m.pollfds[i].Revents = 0

		if m.sockets[i].isListener {
			m.accept(int(m.pollfds[i].Fd), m.sockets[i].listener)
			i++
			continue
		}

		fd := int(m.pollfds[i].Fd)
		ret := m.ctx.OnReady(m, m.sockets[i].data, fd)
		if ret > 0 {
			i++
			continue
		}
		if ret < 0 {
			m.reportError("on_ready fd %d: error", fd)
		}
		m.delSocket(i)
		// Do not advance i: delSocket moved the last fd into slot i.
	}

	return n, nil
}

// ShutdownRead half-closes the read side of fd, provoking a future
// readiness event (a zero-length read) that leads to an orderly close
// (spec §4.C "shutdown_read").
func ShutdownRead(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_RD)
}

// Free closes every connection first, then every listener, invoking
// OnClose/OnListenerClose for each (spec §4.C "free").
func (m *Mux) Free() {
	for i := range m.sockets {
		if m.sockets[i].isListener {
			continue
		}
		fd := int(m.pollfds[i].Fd)
		if err := unix.Close(fd); err != nil {
			m.reportError("close fd %d: %v", fd, err)
		}
		if m.ctx.OnClose != nil {
			m.ctx.OnClose(m, m.sockets[i].data, m.sockets[i].listener)
		}
	}

	for i := range m.sockets {
		if !m.sockets[i].isListener {
			continue
		}
		fd := int(m.pollfds[i].Fd)
		if err := unix.Close(fd); err != nil {
			m.reportError("close fd %d: %v", fd, err)
		}
		if m.ctx.OnListenerClose != nil {
			m.ctx.OnListenerClose(m, m.sockets[i].listener)
		}
	}

	m.sockets = nil
	m.pollfds = nil
	m.n = 0
}
