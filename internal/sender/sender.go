// Package sender implements the per-core Sender: session startup
// (connect, prelude, handoff, timerfd arming) followed by the
// timerfd-driven main-flow emit loop.
package sender

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/gsauthof/tcploadgen/internal/affinity"
	"github.com/gsauthof/tcploadgen/internal/session"
	"github.com/gsauthof/tcploadgen/internal/template"
	"github.com/gsauthof/tcploadgen/internal/wire"
)

// Config is the slice of configuration shared read-only across every
// Sender: the global Variable Store and its declaration table, plus the
// write end of the pipe used to hand connection fds off to the Receiver.
type Config struct {
	Vars     template.Store
	VarDecls template.VarDecls

	ReceiverPipeFD int
}

// Sender owns every Session pinned to one CPU core: their connections,
// timerfds, and the two Flows (each a private copy, since substitution
// mutates packet payloads in place).
type Sender struct {
	Cfg         *Config
	ReceiverCfg wire.ReceiverConfig

	PreludeFlow template.Flow
	MainFlow    template.Flow

	Sessions []*session.Session

	Host string
	Port string

	Core        int
	Affinity    bool
	SchedPolicy affinity.Policy
	Priority    uint32 // parsed, intentionally unused by the core

	SendBudget uint64

	SendCount        uint64
	MissedTimerCount uint64

	log *slog.Logger

	connFiles []*os.File // pins dup'd fds against the os.File finalizer
}

// maxEpollEvents bounds one epoll_wait batch's stack-allocated
// epoll_event array.
const maxEpollEvents = 16

// Run pins the calling goroutine to its own OS thread, applies the
// configured affinity/scheduling policy, then runs the sender to
// completion. On any failure it closes the receiver pipe write end to
// trigger cascade teardown across every other sender and the receiver,
// and returns the error.
func (s *Sender) Run() error {
	runtime.LockOSThread()

	if s.log == nil {
		s.log = slog.Default().With("core", s.Core)
	}

	if s.Affinity {
		if err := affinity.SetCPU(s.Core); err != nil {
			return s.fail(err)
		}
	}
	if err := affinity.Apply(s.SchedPolicy); err != nil {
		return s.fail(err)
	}

	if err := s.run(); err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *Sender) fail(err error) error {
	unix.Close(s.Cfg.ReceiverPipeFD)
	s.log.Error("sender failed", "error", err)
	return err
}

func (s *Sender) run() error {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("sender: epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, s.Cfg.ReceiverPipeFD, &unix.EpollEvent{
		Events: unix.EPOLLERR,
		Fd:     int32(s.Cfg.ReceiverPipeFD),
	}); err != nil {
		return fmt.Errorf("sender: epoll_ctl(pipe): %w", err)
	}

	sessionsByTFD := make(map[int]*session.Session, len(s.Sessions))

	for _, sess := range s.Sessions {
		if err := s.startSession(epfd, sess); err != nil {
			return err
		}
		sessionsByTFD[sess.TimerFD] = sess
	}

	return s.emitLoop(epfd, sessionsByTFD)
}

// startSession connects, runs the prelude, hands the connection fd to
// the receiver, then arms the session's timerfd and registers it with
// the sender's epoll set.
func (s *Sender) startSession(epfd int, sess *session.Session) error {
	fd, f, err := connectRaw(s.Host, s.Port)
	if err != nil {
		return fmt.Errorf("sender: couldn't connect to %s:%s: %w", s.Host, s.Port, err)
	}
	s.connFiles = append(s.connFiles, f)
	sess.ConnFD = fd

	if err := login(fd, s.PreludeFlow, &s.Cfg.VarDecls, &s.Cfg.Vars, &sess.Vars, s.ReceiverCfg); err != nil {
		return fmt.Errorf("sender: prelude failed on core %d: %w", s.Core, err)
	}

	if err := handoff(s.Cfg.ReceiverPipeFD, fd); err != nil {
		return fmt.Errorf("sender: handoff failed: %w", err)
	}
	s.log.Info("session connected and handed off", "fd", fd)

	tfd, err := unix.TimerfdCreate(unix.CLOCK_REALTIME, 0)
	if err != nil {
		return fmt.Errorf("sender: timerfd_create: %w", err)
	}
	sess.TimerFD = tfd

	spec := &unix.ItimerSpec{
		Interval: unix.NsecToTimespec(int64(sess.IntervalNS)),
		Value: unix.Timespec{
			Sec:  nextMinuteEpoch(),
			Nsec: int64(sess.StartOffNS),
		},
	}
	if err := unix.TimerfdSettime(tfd, unix.TFD_TIMER_ABSTIME, spec, nil); err != nil {
		return fmt.Errorf("sender: timerfd_settime: %w", err)
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, tfd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(tfd),
	}); err != nil {
		return fmt.Errorf("sender: epoll_ctl(timerfd): %w", err)
	}

	return nil
}

// emitLoop runs the timerfd-driven main-flow send loop, plus the
// receiver-pipe liveness check.
func (s *Sender) emitLoop(epfd int, sessionsByTFD map[int]*session.Session) error {
	events := make([]unix.EpollEvent, maxEpollEvents)

	for {
		n, err := unix.EpollWait(epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("sender: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := events[i]

			if int(ev.Fd) == s.Cfg.ReceiverPipeFD {
				return ErrReceiverTerminated
			}

			sess, ok := sessionsByTFD[int(ev.Fd)]
			if !ok {
				continue
			}

			count, err := readTimerExpirations(sess.TimerFD)
			if err != nil {
				return fmt.Errorf("sender: reading timerfd: %w", err)
			}
			if count != 1 {
				s.log.Warn("timer expired more than once", "core", s.Core, "count", count)
				s.MissedTimerCount++
			}

			if s.SendCount >= s.SendBudget {
				s.shutdownSessions()
				return nil
			}

			if err := s.sendNext(sess); err != nil {
				return err
			}
		}
	}
}

// sendNext selects the session's next main-flow packet, mutates it in
// place, writes it, and advances the cursor.
func (s *Sender) sendNext(sess *session.Session) error {
	p := &s.MainFlow[int(sess.FlowPos)%len(s.MainFlow)]
	sess.FlowPos++

	if err := p.ApplyVariables(&s.Cfg.VarDecls, &s.Cfg.Vars, &sess.Vars); err != nil {
		return fmt.Errorf("sender: apply_variables: %w", err)
	}
	if err := wire.WriteAll(sess.ConnFD, p.Payload[:p.PayloadSize]); err != nil {
		return fmt.Errorf("sender: write: %w", err)
	}
	s.SendCount++
	return nil
}

// shutdownSessions issues shutdown(RDWR) on every session connection
// without closing them: closing here would silently
// drop the fd from the receiver's epoll set without a final wake-up.
func (s *Sender) shutdownSessions() {
	for _, sess := range s.Sessions {
		s.log.Info("shutting down connection", "fd", sess.ConnFD)
		if err := unix.Shutdown(sess.ConnFD, unix.SHUT_RDWR); err != nil {
			s.log.Warn("shutdown failed", "fd", sess.ConnFD, "error", err)
		}
	}
}

// login drives the prelude flow synchronously: apply variables, write
// the packet, then block for its response and check the answer tag.
func login(fd int, flow template.Flow, decls *template.VarDecls, global, local *template.Store, rcfg wire.ReceiverConfig) error {
	buf := make([]byte, wire.MaxFrameSize)
	for i := range flow {
		p := &flow[i]
		if err := p.ApplyVariables(decls, global, local); err != nil {
			return err
		}
		if err := wire.WriteAll(fd, p.Payload[:p.PayloadSize]); err != nil {
			return err
		}
		tag, err := rcfg.ReceiveNext(fd, buf)
		if err != nil {
			return err
		}
		if tag != p.AnswerTag {
			return unexpectedTagError(tag, p.AnswerTag)
		}
	}
	return nil
}

// connectRaw dials host:port and returns the raw, blocking-mode
// duplicate file descriptor that (*net.TCPConn).File() produces. The
// original net.Conn is closed immediately afterwards; the returned
// *os.File must be kept alive for as long as fd is in use, to keep its
// finalizer from closing the duplicate out from under us.
func connectRaw(host, port string) (int, *os.File, error) {
	conn, err := net.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return -1, nil, err
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return -1, nil, fmt.Errorf("sender: dialed connection is not TCP")
	}
	f, err := tcpConn.File()
	conn.Close()
	if err != nil {
		return -1, nil, err
	}
	return int(f.Fd()), f, nil
}

// handoff transfers sole ownership of fd to the receiver by writing its
// number across the shared pipe.
func handoff(pipeFD, connFD int) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(connFD))
	return wire.WriteAll(pipeFD, b[:])
}

// readTimerExpirations reads the 8-byte expiration counter off a
// timerfd.
func readTimerExpirations(tfd int) (uint64, error) {
	var b [8]byte
	n, err := unix.Read(tfd, b[:])
	if err != nil {
		return 0, err
	}
	if n != 8 {
		return 0, fmt.Errorf("sender: short read on timerfd (%d bytes)", n)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// nextMinuteEpoch computes the whole-minute wall-clock boundary (in
// seconds since the epoch) a timerfd should be armed against, between 2
// and 62 seconds ahead: next_minute = (now_sec + 62) / 60 * 60.
func nextMinuteEpoch() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &ts); err != nil {
		// clock_gettime(CLOCK_REALTIME) cannot fail on a sane kernel;
		// fall back to 0 rather than propagate an error from a pure
		// time-source query.
		return 0
	}
	x := ts.Sec + 62
	return x / 60 * 60
}
