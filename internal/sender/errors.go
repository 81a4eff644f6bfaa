package sender

import (
	"errors"
	"fmt"
)

// ErrUnexpectedTag is returned when a prelude packet's response tag
// does not match the packet's configured AnswerTag.
var ErrUnexpectedTag = errors.New("sender: unexpected answer tag")

// ErrReceiverTerminated is returned by the emit loop when the receiver
// pipe's liveness watcher fires.
var ErrReceiverTerminated = errors.New("sender: receiver terminated early")

func unexpectedTagError(got, want uint32) error {
	return fmt.Errorf("%w: got %d, expected %d", ErrUnexpectedTag, got, want)
}
