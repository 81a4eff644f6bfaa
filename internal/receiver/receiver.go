// Package receiver implements the single Receiver thread: it
// demultiplexes responses from every handed-off connection, performs
// length-prefixed framing, recognizes server error frames, and
// orchestrates orderly teardown.
package receiver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/gsauthof/tcploadgen/internal/affinity"
	"github.com/gsauthof/tcploadgen/internal/wire"
)

const maxEpollEvents = 16

// Receiver owns an epoll set containing the pipe's read side and every
// active connection it has been handed. It is the sole component that
// calls close() on connection fds after handoff (invariant).
type Receiver struct {
	Cfg wire.ReceiverConfig

	PipeReadFD int

	Affinity bool
	Core     int

	ReceiveCount uint64

	connFDs map[int]struct{}

	log *slog.Logger
}

// Run pins the calling goroutine to its own OS thread, applies affinity
// if configured, then runs the receive loop to completion. Any failure
// closes the pipe read end, which causes EPOLLERR to fire on every
// sender's liveness watcher.
func (r *Receiver) Run() error {
	runtime.LockOSThread()

	if r.log == nil {
		r.log = slog.Default().With("component", "receiver")
	}
	if r.connFDs == nil {
		r.connFDs = make(map[int]struct{})
	}

	if r.Affinity {
		if err := affinity.SetCPU(r.Core); err != nil {
			return r.fail(err)
		}
	}

	if err := r.run(); err != nil {
		return r.fail(err)
	}
	return nil
}

func (r *Receiver) fail(err error) error {
	unix.Close(r.PipeReadFD)
	r.log.Error("receiver failed", "error", err)
	return err
}

func (r *Receiver) run() error {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("receiver: epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, r.PipeReadFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(r.PipeReadFD),
	}); err != nil {
		return fmt.Errorf("receiver: epoll_ctl(pipe): %w", err)
	}

	buf := make([]byte, wire.MaxFrameSize)
	events := make([]unix.EpollEvent, maxEpollEvents)

	for {
		n, err := unix.EpollWait(epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("receiver: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)

			if fd == r.PipeReadFD {
				done, err := r.handlePipeReadable(epfd)
				if err != nil {
					return err
				}
				if done {
					return nil
				}
				continue
			}

			if ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
				if r.closeConn(fd, "peer shut down") {
					return nil
				}
				continue
			}

			if ev.Events&unix.EPOLLIN != 0 {
				_, err := r.Cfg.ReceiveNext(fd, buf)
				if err != nil {
					if errors.Is(err, wire.ErrEarlyEOF) {
						if r.closeConn(fd, "EOF") {
							return nil
						}
						continue
					}
					return fmt.Errorf("receiver: framing error on fd %d: %w", fd, err)
				}
				r.ReceiveCount++
			}
		}
	}
}

// handlePipeReadable dispatches a pipe-readable event: a new connection
// fd handoff, or (on a zero-length read) a failing sender's pipe
// closure, which triggers closing every live connection and an orderly
// exit.
func (r *Receiver) handlePipeReadable(epfd int) (done bool, err error) {
	var b [4]byte
	n, err := unix.Read(r.PipeReadFD, b[:])
	if err != nil {
		return false, fmt.Errorf("receiver: reading pipe: %w", err)
	}
	if n == 0 {
		r.log.Error("pipe closed by a failing sender, closing all connections")
		for fd := range r.connFDs {
			r.log.Info("closing connection", "fd", fd)
			unix.Close(fd)
		}
		return true, nil
	}
	if n != 4 {
		return false, fmt.Errorf("receiver: short read on pipe (%d bytes)", n)
	}

	connFD := int(binary.LittleEndian.Uint32(b[:]))
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, connFD, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP,
		Fd:     int32(connFD),
	}); err != nil {
		return false, fmt.Errorf("receiver: epoll_ctl(conn %d): %w", connFD, err)
	}
	r.connFDs[connFD] = struct{}{}
	r.log.Info("accepted connection handoff", "fd", connFD)
	return false, nil
}

// closeConn removes fd from the live set and closes it, reporting
// whether that leaves no connections (in which case the receiver exits
// normally).
func (r *Receiver) closeConn(fd int, reason string) (empty bool) {
	delete(r.connFDs, fd)
	r.log.Info("closing connection", "fd", fd, "reason", reason)
	unix.Close(fd)
	return len(r.connFDs) == 0
}
