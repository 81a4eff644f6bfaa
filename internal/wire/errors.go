package wire

import (
	"errors"
	"fmt"
)

// Framing error kinds. Each is fatal for the thread that observes it,
// except ErrEarlyEOF on the receiver's main-flow read path, which is
// handled as an orderly connection close.
var (
	ErrEarlyEOF          = errors.New("wire: early EOF")
	ErrShortRead         = errors.New("wire: short read")
	ErrMessageTooLong    = errors.New("wire: message too long")
	ErrMessageTooShort   = errors.New("wire: message too short")
	ErrIncompleteMessage = errors.New("wire: incomplete message")
)

// ServerError is raised when a frame's tag equals the configured
// error_tag. It carries the message the server embedded in the frame.
type ServerError struct {
	Msg string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("wire: received error: %s", e.Msg)
}
