package main

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// bindTCP binds addr (host:port) on the given address family and returns
// the listening fd, ready to hand to mux.AddListener. net.Listen does the
// address resolution and socket options; File() hands back a dup'd,
// blocking fd that mux will set non-blocking itself.
func bindTCP(addr string, family int) (int, error) {
	network := "tcp4"
	if family == unix.AF_INET6 {
		network = "tcp6"
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		return -1, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return -1, fmt.Errorf("listen %s %s: unexpected listener type", network, addr)
	}

	f, err := tcpLn.File()
	_ = ln.Close()
	if err != nil {
		return -1, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	return dupAndClose(f)
}

// bindUnixSeqpacket binds a SOCK_SEQPACKET Unix domain socket at path (spec
// §6 "Unix domain listener": "speaks Framed mode"). net.Listen has no
// seqpacket support, so this one is built directly on golang.org/x/sys/unix.
func bindUnixSeqpacket(path string) (int, error) {
	_ = os.Remove(path) // stale socket from a prior run

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return -1, fmt.Errorf("socket %s: %w", path, err)
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", path, err)
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", path, err)
	}

	return fd, nil
}

// dupAndClose returns a unix.Dup of f's fd as a plain int, then closes f,
// which also closes f's own fd; only the returned duplicate stays open.
func dupAndClose(f *os.File) (int, error) {
	fd := int(f.Fd())
	newFd, err := unix.Dup(fd)
	_ = f.Close()
	if err != nil {
		return -1, err
	}
	return newFd, nil
}
