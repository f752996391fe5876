package mutex

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation signals that the local queue is inconsistent with a
// release. It is a logic bug, not a network failure, and stops the process.
var ErrProtocolViolation = errors.New("mutex: protocol violation")

// ViolationError carries the state that exposed a protocol violation.
type ViolationError struct {
	Op      string   // "release" or "remote release"
	Head    *Message // nil when the queue was empty
	Message Message  // the offending release
}

func (e *ViolationError) Error() string {
	head := "empty queue"
	if e.Head != nil {
		head = "head " + e.Head.String()
	}
	return fmt.Sprintf("%v: inconsistent %s %v with %s", ErrProtocolViolation, e.Op, e.Message, head)
}

func (e *ViolationError) Unwrap() error {
	return ErrProtocolViolation
}
