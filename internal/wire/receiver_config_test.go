package wire

import (
	"testing"

	"golang.org/x/sys/unix"
)

// socketpair returns two connected, blocking AF_UNIX stream fds for
// exercising ReceiveNext without a real network listener.
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

func testReceiverConfig() ReceiverConfig {
	return ReceiverConfig{
		Len:         Field{Off: 0, Size: 2},
		Tag:         Field{Off: 2, Size: 2},
		ErrorTag:    255,
		ErrorMsgLen: Field{Off: 4, Size: 2},
		ErrorMsgOff: 8,
	}
}

// encodeFrame builds a (total_len, tag, body) frame per the Fields
// above: [0:2)=len [2:4)=tag [4:)=body.
func encodeFrame(tag uint16, body []byte) []byte {
	total := 4 + len(body)
	buf := make([]byte, total)
	buf[0] = byte(total)
	buf[1] = byte(total >> 8)
	buf[2] = byte(tag)
	buf[3] = byte(tag >> 8)
	copy(buf[4:], body)
	return buf
}

func TestReceiveNextRoundTrip(t *testing.T) {
	a, b := socketpair(t)
	cfg := testReceiverConfig()

	frame := encodeFrame(42, []byte("hello world"))
	if err := WriteAll(a, frame); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	buf := make([]byte, MaxFrameSize)
	tag, err := cfg.ReceiveNext(b, buf)
	if err != nil {
		t.Fatalf("ReceiveNext: %v", err)
	}
	if tag != 42 {
		t.Errorf("tag = %d, want 42", tag)
	}
}

func TestReceiveNextServerError(t *testing.T) {
	a, b := socketpair(t)
	cfg := testReceiverConfig()

	// error_msg_off=8, so pad the body with 4 bytes before "hello".
	body := append([]byte{0, 0, 0, 0}, []byte("hello")...)
	msgLen := uint16(len("hello"))
	// error_msg_len sits at [4:6) = 5 and the message at [8:13).
	total := 4 + len(body)
	frame := make([]byte, total)
	frame[0] = byte(total)
	frame[1] = byte(total >> 8)
	frame[2] = byte(cfg.ErrorTag)
	frame[3] = byte(cfg.ErrorTag >> 8)
	frame[4] = byte(msgLen)
	frame[5] = byte(msgLen >> 8)
	copy(frame[8:], "hello")

	if err := WriteAll(a, frame); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	buf := make([]byte, MaxFrameSize)
	_, err := cfg.ReceiveNext(b, buf)
	var serr *ServerError
	if err == nil {
		t.Fatal("expected ServerError, got nil")
	}
	if se, ok := err.(*ServerError); !ok {
		t.Fatalf("expected *ServerError, got %T: %v", err, err)
	} else {
		serr = se
	}
	if serr.Msg != "hello" {
		t.Errorf("message = %q, want %q", serr.Msg, "hello")
	}
}

func TestReceiveNextEarlyEOF(t *testing.T) {
	a, b := socketpair(t)
	cfg := testReceiverConfig()
	unix.Close(a) // close the write side immediately: b sees EOF

	buf := make([]byte, MaxFrameSize)
	_, err := cfg.ReceiveNext(b, buf)
	if err != ErrEarlyEOF {
		t.Fatalf("expected ErrEarlyEOF, got %v", err)
	}
}

func TestReceiveNextMessageTooLong(t *testing.T) {
	a, b := socketpair(t)
	cfg := testReceiverConfig()

	buf := make([]byte, 16) // deliberately small buffer
	header := []byte{0xFF, 0xFF, 0, 0}
	if err := WriteAll(a, header); err != nil {
		t.Fatal(err)
	}

	_, err := cfg.ReceiveNext(b, buf)
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestReceiveNextMessageTooShort(t *testing.T) {
	a, b := socketpair(t)
	cfg := testReceiverConfig()

	// total_len == len.off+len.size exactly (2): a frame must be longer
	// than its length prefix, so <= len.off+len.size is invalid.
	header := []byte{2, 0, 0, 0}
	if err := WriteAll(a, header); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, MaxFrameSize)
	_, err := cfg.ReceiveNext(b, buf)
	if err == nil {
		t.Fatal("expected an error")
	}
}
