package main

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/relaypoint/writeq"
	"github.com/relaypoint/writeq/internal/bufpool"
	"github.com/relaypoint/writeq/internal/gather"
	"github.com/relaypoint/writeq/internal/interfaces"
	"github.com/relaypoint/writeq/internal/iosyscall"
	"github.com/relaypoint/writeq/internal/logging"
	"github.com/relaypoint/writeq/internal/netsetup"
	"github.com/relaypoint/writeq/internal/pending"
)

// readChunk is the size each read(2) call pulls off a connection before
// handing it to the connection's Engine as one queued buffer item.
const readChunk = 64 * 1024

// conn bundles one accepted connection with the Engine draining its
// outbound queue. It is single-threaded: every method here only ever runs
// from the Server's one event-loop goroutine.
type conn struct {
	fd     int
	tcp    *net.TCPConn
	engine *writeq.Engine
	pool   *bufpool.Pool
	sys    iosyscall.Syscalls
}

func newConn(tcp *net.TCPConn, cfg writeq.Config, pool *bufpool.Pool, sys iosyscall.Syscalls) (*conn, error) {
	fd, err := netsetup.ConnFD(tcp)
	if err != nil {
		return nil, err
	}
	if err := netsetup.SetNonblock(fd); err != nil {
		return nil, err
	}
	return &conn{
		fd:     fd,
		tcp:    tcp,
		engine: writeq.New(cfg),
		pool:   pool,
		sys:    sys,
	}, nil
}

// onReadable pulls whatever the socket has buffered and echoes it back by
// queueing it on the engine, exercising Add/MarkFlushCheckpoint the way
// any real producer of outbound data would.
func (c *conn) onReadable() (closed bool, err error) {
	checkout := c.pool.Get(readChunk)

	raw, err := c.tcp.SyscallConn()
	if err != nil {
		return false, errors.Wrap(err, "writeqd: SyscallConn")
	}
	var readN int
	var readErr error
	ctlErr := raw.Read(func(fd uintptr) (done bool) {
		readN, readErr = unix.Read(int(fd), checkout.Bytes()[:readChunk])
		return true
	})
	if ctlErr != nil {
		checkout.Release()
		return false, errors.Wrap(ctlErr, "writeqd: raw read")
	}
	if readErr == unix.EAGAIN {
		checkout.Release()
		return false, nil
	}
	if readErr != nil {
		checkout.Release()
		return false, errors.Wrap(readErr, "writeqd: read")
	}
	if readN == 0 {
		checkout.Release()
		return true, nil
	}

	checkout.Truncate(readN)
	c.engine.Add(pending.NewBufferItem(checkout, &releasingHandle{checkout: checkout}))
	c.engine.MarkFlushCheckpoint(nil)
	return false, nil
}

// releasingHandle returns checkout to its pool once the engine is done
// with it, success or failure, so the pool actually sees reuse instead of
// a fresh miss on every read.
type releasingHandle struct {
	checkout *bufpool.Checkout
}

func (h *releasingHandle) Succeed() { h.checkout.Release() }
func (h *releasingHandle) Fail(error) { h.checkout.Release() }

var _ interfaces.CompletionHandle = (*releasingHandle)(nil)

// onWritable drains as much of the engine's queue as one Trigger call
// allows, over the real write/writev/sendfile syscalls. This demo never
// queues a file-region item itself (onReadable only ever produces buffer
// items), but the fileOp closure is wired to the real Sendfile syscall
// regardless, so a caller embedding this engine for file serving gets
// zero-copy transfer for free rather than a stub that needs replacing.
func (c *conn) onWritable() error {
	outcome, _, err := c.engine.Trigger(
		func(p []byte) (int, bool, error) {
			n, werr := c.sys.Write(c.fd, p)
			return classifyWrite(n, werr)
		},
		func(vecs []gather.Vec) (int64, bool, error) {
			iovs := make([]unix.Iovec, len(vecs))
			for i, v := range vecs {
				iovs[i].SetLen(int(v.Len))
				iovs[i].Base = v.Base
			}
			n, werr := c.sys.Writev(c.fd, iovs)
			nn, wb, werr2 := classifyWrite(n, werr)
			return int64(nn), wb, werr2
		},
		func(fd uintptr, begin, end int64) (int64, bool, error) {
			offset := begin
			n, werr := c.sys.Sendfile(c.fd, int(fd), &offset, int(end-begin))
			nn, wb, werr2 := classifyWrite(n, werr)
			return int64(nn), wb, werr2
		},
	)
	if err != nil {
		if writeq.IsFatal(err) {
			c.engine.FailAll(err, true)
		}
		return err
	}
	_ = outcome
	return nil
}

func classifyWrite(n int, err error) (int, bool, error) {
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return n, true, nil
	}
	if err != nil {
		return n, false, err
	}
	return n, false, nil
}

// Server owns one epoll instance and every connection registered on it.
// Per the doc comment on cmd/writeqd in SPEC_FULL.md, this loop is a demo
// harness, not the production scheduler the engine itself stays agnostic
// of.
type Server struct {
	listenAddr string
	cfg        writeq.Config
	pool       *bufpool.Pool
	sys        iosyscall.Syscalls
	logger     *logging.Logger

	epfd  int
	conns map[int]*conn
}

func newServer(fc fileConfig, logger *logging.Logger) (*Server, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, errors.Wrap(err, "writeqd: EpollCreate1")
	}
	sys := iosyscall.Unix{}

	vectorLimitCount := fc.Engine.VectorLimitCount
	if vectorLimitCount == 0 {
		vectorLimitCount = sys.IovMax()
	}

	return &Server{
		listenAddr: fc.Server.ListenAddr,
		cfg: writeq.Config{
			WriteSpinCount:   fc.Engine.WriteSpinCount,
			Watermark:        writeq.Watermark{Low: fc.Engine.WatermarkLow, High: fc.Engine.WatermarkHigh},
			VectorLimitCount: vectorLimitCount,
			Logger:           logger,
		},
		pool:  bufpool.New(),
		sys:   sys,
		epfd:  epfd,
		conns: make(map[int]*conn),
	}, nil
}

// Run opens the listener and drives the accept + epoll loops until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := netsetup.Listen(s.listenAddr)
	if err != nil {
		return err
	}
	defer ln.Close()

	lnFD, err := netsetup.ListenerFD(ln)
	if err != nil {
		return err
	}
	if err := addEpoll(s.epfd, lnFD, unix.EPOLLIN); err != nil {
		return err
	}

	s.logger.Infof("writeqd: listening on %s", s.listenAddr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		tcp, err := ln.AcceptTCP()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return errors.Wrap(err, "writeqd: accept")
		}
		c, err := newConn(tcp, s.cfg, s.pool, s.sys)
		if err != nil {
			s.logger.Warnf("writeqd: connection setup failed: %v", err)
			tcp.Close()
			continue
		}
		s.conns[c.fd] = c
		if err := addEpoll(s.epfd, c.fd, unix.EPOLLIN|unix.EPOLLOUT); err != nil {
			s.logger.Warnf("writeqd: epoll register failed: %v", err)
			tcp.Close()
			delete(s.conns, c.fd)
		}
	}
}

// Poll runs the epoll wait/dispatch loop until ctx is cancelled; meant to
// run concurrently with Run under one errgroup.
func (s *Server) Poll(ctx context.Context) error {
	events := make([]unix.EpollEvent, 64)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := unix.EpollWait(s.epfd, events, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "writeqd: EpollWait")
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			c, ok := s.conns[fd]
			if !ok {
				continue
			}
			if events[i].Events&unix.EPOLLIN != 0 {
				closed, rerr := c.onReadable()
				if rerr != nil {
					s.logger.Warnf("writeqd: read error fd=%d: %v", fd, rerr)
					s.dropConn(c)
					continue
				}
				if closed {
					s.dropConn(c)
					continue
				}
			}
			if events[i].Events&unix.EPOLLOUT != 0 {
				if werr := c.onWritable(); werr != nil {
					s.logger.Warnf("writeqd: write error fd=%d: %v", fd, werr)
					s.dropConn(c)
				}
			}
		}
	}
}

func (s *Server) dropConn(c *conn) {
	unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	delete(s.conns, c.fd)
	c.tcp.Close()
}

func addEpoll(epfd, fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.Wrapf(err, "writeqd: EpollCtl add fd=%d", fd)
	}
	return nil
}
