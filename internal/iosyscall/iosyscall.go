// Package iosyscall is the thin boundary between the write engine's
// caller-supplied closures and the actual kernel calls (write, writev,
// sendfile). Keeping it as its own small interface lets the engine's tests
// substitute Stub instead of touching a real file descriptor.
package iosyscall

import "golang.org/x/sys/unix"

// Syscalls is the kernel-facing surface a running engine is wired to. The
// root writeq package never imports golang.org/x/sys/unix or this package;
// it takes caller-supplied closures, which cmd/writeqd builds on top of
// this interface.
type Syscalls interface {
	// Write attempts a single contiguous write to fd.
	Write(fd int, p []byte) (n int, err error)
	// Writev attempts a scatter write to fd.
	Writev(fd int, iovs []unix.Iovec) (n int, err error)
	// Sendfile transfers count bytes from inFD to outFD starting at
	// *offset, advancing *offset by the amount actually transferred.
	Sendfile(outFD, inFD int, offset *int64, count int) (n int, err error)
	// IovMax returns the platform's writev vector-count limit.
	IovMax() int
}

// Unix is the real Syscalls implementation, backed directly by
// golang.org/x/sys/unix.
type Unix struct{}

var _ Syscalls = Unix{}

func (Unix) Write(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

func (Unix) Writev(fd int, iovs []unix.Iovec) (int, error) {
	return unix.Writev(fd, iovs)
}

func (Unix) Sendfile(outFD, inFD int, offset *int64, count int) (int, error) {
	return unix.Sendfile(outFD, inFD, offset, count)
}

// IovMax reports the platform's writev vector limit. golang.org/x/sys/unix
// does not expose a portable sysconf(_SC_IOV_MAX) wrapper, and the real
// value is pinned by the kernel ABI (1024 on every Linux architecture since
// before io_uring existed), so this is a constant rather than a runtime
// probe.
func (Unix) IovMax() int {
	return unix.UIO_MAXIOV
}
