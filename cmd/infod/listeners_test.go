package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBindTCPEphemeralPort(t *testing.T) {
	fd, err := bindTCP("127.0.0.1:0", unix.AF_INET)
	require.NoError(t, err)
	defer unix.Close(fd)

	var sa unix.Sockaddr
	sa, err = unix.Getsockname(fd)
	require.NoError(t, err)
	_, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)
}

func TestBindUnixSeqpacketCreatesListeningSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "infod3.sock")

	fd, err := bindUnixSeqpacket(path)
	require.NoError(t, err)
	defer unix.Close(fd)

	clientFd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	require.NoError(t, err)
	defer unix.Close(clientFd)

	require.NoError(t, unix.Connect(clientFd, &unix.SockaddrUnix{Name: path}))
}

func TestBindUnixSeqpacketRemovesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "infod3.sock")

	fd1, err := bindUnixSeqpacket(path)
	require.NoError(t, err)
	unix.Close(fd1)

	fd2, err := bindUnixSeqpacket(path)
	require.NoError(t, err)
	defer unix.Close(fd2)
}
