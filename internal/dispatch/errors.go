package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/vicebridge/internal/protocol"
)

var (
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("timed out waiting for monitor response")
	// ErrDisconnected is matched by every *DisconnectedError.
	ErrDisconnected = errors.New("disconnected from monitor")
)

// TimeoutError is returned to the caller whose command got no correlated
// response in time. The connection stays open.
type TimeoutError struct {
	RequestID uint32
	Command   protocol.CommandType
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s (request %d) got no response within %s", e.Command, e.RequestID, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// DisconnectedError faults every request outstanding when a socket session
// ends. Cause is the I/O error, framing error or context error behind it.
type DisconnectedError struct {
	Cause error
}

func (e *DisconnectedError) Error() string {
	if e.Cause == nil {
		return ErrDisconnected.Error()
	}
	return fmt.Sprintf("%s: %v", ErrDisconnected, e.Cause)
}

func (e *DisconnectedError) Is(target error) bool { return target == ErrDisconnected }

func (e *DisconnectedError) Unwrap() error { return e.Cause }

func sessionFatal(err error) bool {
	return errors.Is(err, ErrDisconnected)
}
