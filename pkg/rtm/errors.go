package rtm

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected fails a quest issued while no gate connection is
	// established. Delivered through the continuation, never thrown.
	ErrNotConnected = errors.New("rtm: not connected")

	// ErrTimeout resolves a quest whose deadline passed without an answer.
	ErrTimeout = errors.New("rtm: quest timed out")

	// ErrConnectionLost resolves quests that were in flight when their
	// connection was torn down.
	ErrConnectionLost = errors.New("rtm: connection lost")

	// ErrPingTimeout closes a connection whose server keep-alive went stale.
	ErrPingTimeout = errors.New("rtm: ping timeout")

	// ErrAuthFailed is a terminal authentication rejection (bad token). The
	// session will not reconnect.
	ErrAuthFailed = errors.New("rtm: authentication failed")

	// ErrClientDestroyed rejects operations on a destroyed client.
	ErrClientDestroyed = errors.New("rtm: client destroyed")
)

// AnswerError is an application-level error status carried by an answer
// frame. It fails only the quest it answers; the connection stays up.
type AnswerError struct {
	Code    int
	Message string
}

func (e *AnswerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rtm: answer error (code %d)", e.Code)
	}
	return fmt.Sprintf("rtm: answer error (code %d): %s", e.Code, e.Message)
}
