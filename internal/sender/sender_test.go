package sender

import (
	"net"
	"strconv"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/gsauthof/tcploadgen/internal/session"
	"github.com/gsauthof/tcploadgen/internal/template"
	"github.com/gsauthof/tcploadgen/internal/wire"
)

// mockServer accepts exactly one connection, reads a frame of exactly
// wantLen bytes off it and replies with a (len,tag) response frame
// carrying answerTag.
func mockServer(t *testing.T, wantLen int, answerTag uint32) (host, port string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		buf := make([]byte, wantLen)
		n := 0
		for n < wantLen {
			m, err := c.Read(buf[n:])
			if err != nil {
				return
			}
			n += m
		}

		resp := make([]byte, 4)
		resp[0], resp[1] = 4, 0
		resp[2] = byte(answerTag)
		resp[3] = byte(answerTag >> 8)
		c.Write(resp)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", strconv.Itoa(addr.Port)
}

func testRCFG() wire.ReceiverConfig {
	return wire.ReceiverConfig{
		Len:      wire.Field{Off: 0, Size: 2},
		Tag:      wire.Field{Off: 2, Size: 2},
		ErrorTag: 255,
	}
}

func TestConnectRawAndLogin(t *testing.T) {
	flow := template.Flow{
		{PayloadSize: 4, AnswerTag: 7},
	}
	host, port := mockServer(t, 4, 7)

	fd, f, err := connectRaw(host, port)
	if err != nil {
		t.Fatalf("connectRaw: %v", err)
	}
	defer f.Close()

	var decls template.VarDecls
	var global, local template.Store

	if err := login(fd, flow, &decls, &global, &local, testRCFG()); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestLoginRejectsUnexpectedAnswerTag(t *testing.T) {
	flow := template.Flow{
		{PayloadSize: 4, AnswerTag: 7},
	}
	host, port := mockServer(t, 4, 99) // server answers with the wrong tag

	fd, f, err := connectRaw(host, port)
	if err != nil {
		t.Fatalf("connectRaw: %v", err)
	}
	defer f.Close()

	var decls template.VarDecls
	var global, local template.Store

	err = login(fd, flow, &decls, &global, &local, testRCFG())
	if err == nil {
		t.Fatal("expected an unexpected-tag error")
	}
}

func TestHandoffWritesConnFDAcrossPipe(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	const fakeConnFD = 42
	if err := handoff(fds[0], fakeConnFD); err != nil {
		t.Fatalf("handoff: %v", err)
	}

	var b [4]byte
	n, err := unix.Read(fds[1], b[:])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 4 {
		t.Fatalf("read %d bytes, want 4", n)
	}
	got := int(b[0]) | int(b[1])<<8 | int(b[2])<<16 | int(b[3])<<24
	if got != fakeConnFD {
		t.Errorf("handed off fd = %d, want %d", got, fakeConnFD)
	}
}

func TestSendNextAdvancesFlowPosAndAppliesVariables(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var decls template.VarDecls
	decls.Sizes[8] = 1
	decls.Offs[8] = 0

	var local template.Store
	local.Set(0, []byte{0x05})

	s := &Sender{
		Cfg: &Config{VarDecls: decls},
		MainFlow: template.Flow{
			{PayloadSize: 1, Vars: [8]template.SlotRef{9}},
			{PayloadSize: 1, Vars: [8]template.SlotRef{9}},
		},
	}
	sess := &session.Session{ConnFD: fds[0], Vars: local}

	if err := s.sendNext(sess); err != nil {
		t.Fatalf("sendNext: %v", err)
	}
	if sess.FlowPos != 1 {
		t.Errorf("FlowPos = %d, want 1", sess.FlowPos)
	}
	if s.SendCount != 1 {
		t.Errorf("SendCount = %d, want 1", s.SendCount)
	}

	var got [1]byte
	if _, err := unix.Read(fds[1], got[:]); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got[0] != 0x05 {
		t.Errorf("sent byte = %x, want 05", got[0])
	}

	if err := s.sendNext(sess); err != nil {
		t.Fatalf("sendNext (2nd): %v", err)
	}
	if sess.FlowPos != 2 {
		t.Errorf("FlowPos = %d, want 2", sess.FlowPos)
	}
}
