// Package netsetup holds the socket plumbing the demo daemon needs that
// the write engine itself never touches: listener construction, raw-fd
// extraction, and non-blocking mode. Failures here are infrastructure
// failures, not engine failures, so they're wrapped with
// github.com/pkg/errors instead of writeq.Error.
package netsetup

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Listen opens a non-blocking TCP listener on addr.
func Listen(addr string) (*net.TCPListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "netsetup: resolve %q", addr)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "netsetup: listen %q", addr)
	}
	return ln, nil
}

// ConnFD extracts the raw fd of conn for direct unix.Write/Writev/Sendfile
// use by the engine's closures. The *net.TCPConn itself keeps using its
// own internal poller for readiness; this fd is read-only borrowed for the
// write-side syscalls.
func ConnFD(conn *net.TCPConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, errors.Wrap(err, "netsetup: SyscallConn")
	}
	var fd int
	err = raw.Control(func(f uintptr) {
		fd = int(f)
	})
	if err != nil {
		return -1, errors.Wrap(err, "netsetup: Control")
	}
	return fd, nil
}

// ListenerFD extracts the raw fd backing ln, for registering with an
// epoll instance.
func ListenerFD(ln *net.TCPListener) (int, error) {
	raw, err := ln.SyscallConn()
	if err != nil {
		return -1, errors.Wrap(err, "netsetup: SyscallConn")
	}
	var fd int
	err = raw.Control(func(f uintptr) {
		fd = int(f)
	})
	if err != nil {
		return -1, errors.Wrap(err, "netsetup: Control")
	}
	return fd, nil
}

// SetNonblock marks fd non-blocking, required before handing it to raw
// unix.Read/Write/Writev/Sendfile calls driven by an epoll loop.
func SetNonblock(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return errors.Wrapf(err, "netsetup: SetNonblock fd=%d", fd)
	}
	return nil
}
