package wire

import "fmt"

// MaxFrameSize is the monolithic per-connection read buffer size. Frames
// larger than this are a framing error. Not configurable: callers must
// size their buffers to this constant.
const MaxFrameSize = 64 * 1024

// ReceiverConfig describes how to frame and demultiplex response frames
// on every session connection. Immutable once built by internal/config.
type ReceiverConfig struct {
	Len Field
	Tag Field

	ErrorTag uint32

	ErrorMsgLen Field
	ErrorMsgOff uint32
}

// ReceiveNext reads exactly one length-prefixed frame from fd into buf
// (which must be at least MaxFrameSize bytes) and returns its tag.
//
// Steps:
//  1. read len.off+len.size bytes
//  2. decode total_len
//  3. bounds-check total_len
//  4. read the remaining total_len-len.off-len.size bytes
//  5. decode tag
//  6. if tag == error_tag, decode and raise the embedded message
func (c ReceiverConfig) ReceiveNext(fd int, buf []byte) (uint32, error) {
	head := int(c.Len.Off + c.Len.Size)
	n, err := readFull(fd, buf[:head])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrEarlyEOF
	}
	if n != head {
		return 0, ErrShortRead
	}

	totalLen64, err := c.Len.ReadUint(buf[:head])
	if err != nil {
		return 0, err
	}
	totalLen := uint32(totalLen64)

	if uint64(totalLen) > uint64(len(buf)) {
		return 0, fmt.Errorf("%w: %d > buffer size %d", ErrMessageTooLong, totalLen, len(buf))
	}
	if totalLen <= uint32(head) {
		return 0, fmt.Errorf("%w: %d <= header size %d", ErrMessageTooShort, totalLen, head)
	}

	rest := int(totalLen) - head
	m, err := readFull(fd, buf[head:int(totalLen)])
	if err != nil {
		return 0, err
	}
	if m != rest {
		return 0, ErrIncompleteMessage
	}

	frame := buf[:totalLen]
	tag64, err := c.Tag.ReadUint(frame)
	if err != nil {
		return 0, err
	}
	tag := uint32(tag64)

	if tag == c.ErrorTag {
		msgLen64, err := c.ErrorMsgLen.ReadUint(frame)
		if err != nil {
			return 0, err
		}
		msgLen := uint32(msgLen64)
		end := uint64(c.ErrorMsgOff) + uint64(msgLen)
		if end > uint64(len(frame)) {
			return 0, fmt.Errorf("wire: error message out of bounds (off=%d len=%d frame=%d)", c.ErrorMsgOff, msgLen, len(frame))
		}
		return 0, &ServerError{Msg: string(frame[c.ErrorMsgOff:end])}
	}

	return tag, nil
}
