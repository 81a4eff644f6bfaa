package receiver

import (
	"io"
	"log/slog"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/gsauthof/tcploadgen/internal/wire"
)

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newTestReceiver(pipeReadFD int) *Receiver {
	return &Receiver{
		Cfg: wire.ReceiverConfig{
			Len:      wire.Field{Off: 0, Size: 2},
			Tag:      wire.Field{Off: 2, Size: 2},
			ErrorTag: 255,
		},
		PipeReadFD: pipeReadFD,
		connFDs:    make(map[int]struct{}),
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestHandlePipeReadableRegistersHandoff(t *testing.T) {
	pr, pw := socketpair(t)
	connA, connB := socketpair(t)
	defer unix.Close(connB)

	r := newTestReceiver(pr)
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		t.Fatalf("epoll_create1: %v", err)
	}
	defer unix.Close(epfd)

	if err := handoffFD(pw, connA); err != nil {
		t.Fatalf("handoffFD: %v", err)
	}

	done, err := r.handlePipeReadable(epfd)
	if err != nil {
		t.Fatalf("handlePipeReadable: %v", err)
	}
	if done {
		t.Fatal("expected done=false on a handoff")
	}
	if _, ok := r.connFDs[connA]; !ok {
		t.Errorf("expected connA registered in connFDs")
	}
}

func TestHandlePipeReadableClosureClosesAllConns(t *testing.T) {
	pr, pw := socketpair(t)
	connA, connB := socketpair(t)
	defer unix.Close(connB)

	r := newTestReceiver(pr)
	r.connFDs[connA] = struct{}{}

	unix.Close(pw) // simulate a failing sender closing its pipe write end

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		t.Fatalf("epoll_create1: %v", err)
	}
	defer unix.Close(epfd)

	done, err := r.handlePipeReadable(epfd)
	if err != nil {
		t.Fatalf("handlePipeReadable: %v", err)
	}
	if !done {
		t.Fatal("expected done=true after the pipe closes")
	}
	if _, err := unix.FcntlInt(uintptr(connA), unix.F_GETFD, 0); err != unix.EBADF {
		t.Errorf("expected connA closed, fcntl(F_GETFD) error = %v", err)
	}
}

func TestCloseConnReportsEmpty(t *testing.T) {
	pr, _ := socketpair(t)
	connA, connB := socketpair(t)
	defer unix.Close(connB)

	r := newTestReceiver(pr)
	r.connFDs[connA] = struct{}{}

	if empty := r.closeConn(connA, "test"); !empty {
		t.Error("expected closeConn to report the connection set empty")
	}
	if _, ok := r.connFDs[connA]; ok {
		t.Error("expected connA removed from connFDs")
	}
}

// handoffFD mirrors internal/sender's handoff helper, which is
// unexported and so cannot be called from this package.
func handoffFD(pipeFD, connFD int) error {
	b := []byte{
		byte(connFD),
		byte(connFD >> 8),
		byte(connFD >> 16),
		byte(connFD >> 24),
	}
	return wire.WriteAll(pipeFD, b)
}
