package iosyscall

import "golang.org/x/sys/unix"

// Stub is a test double for Syscalls. Each field defaults to a handler
// that panics if called unexpectedly; tests set only the ones their
// scenario needs.
type Stub struct {
	WriteFunc    func(fd int, p []byte) (int, error)
	WritevFunc   func(fd int, iovs []unix.Iovec) (int, error)
	SendfileFunc func(outFD, inFD int, offset *int64, count int) (int, error)
	IovMaxValue  int
}

var _ Syscalls = (*Stub)(nil)

func (s *Stub) Write(fd int, p []byte) (int, error) {
	if s.WriteFunc == nil {
		panic("iosyscall: Stub.Write called with no WriteFunc set")
	}
	return s.WriteFunc(fd, p)
}

func (s *Stub) Writev(fd int, iovs []unix.Iovec) (int, error) {
	if s.WritevFunc == nil {
		panic("iosyscall: Stub.Writev called with no WritevFunc set")
	}
	return s.WritevFunc(fd, iovs)
}

func (s *Stub) Sendfile(outFD, inFD int, offset *int64, count int) (int, error) {
	if s.SendfileFunc == nil {
		panic("iosyscall: Stub.Sendfile called with no SendfileFunc set")
	}
	return s.SendfileFunc(outFD, inFD, offset, count)
}

func (s *Stub) IovMax() int {
	if s.IovMaxValue == 0 {
		return 1024
	}
	return s.IovMaxValue
}
