// internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection is matched by every ConnectionError.
	ErrConnection = errors.New("serial connection failed")
	// ErrAlreadyOpen is returned by Open while a handle is held.
	ErrAlreadyOpen = errors.New("transport already open")
	// ErrNotOpen is returned when no handle was ever opened.
	ErrNotOpen = errors.New("transport not open")
	// ErrDisconnected is returned after the link dropped, until Open is called again.
	ErrDisconnected = errors.New("transport disconnected")
	// ErrClosed resolves reads interrupted by Close.
	ErrClosed = errors.New("transport closed")
	// ErrTimeout is returned when no terminator arrived before the deadline.
	ErrTimeout = errors.New("read timed out")
	// ErrIO wraps write failures and short writes.
	ErrIO = errors.New("serial i/o error")

	// ErrUnsupportedCommand is returned for commands missing from the dialect.
	ErrUnsupportedCommand = errors.New("command not supported by dialect")
	// ErrInvalidParameter is returned for out-of-range or missing parameters.
	ErrInvalidParameter = errors.New("invalid command parameter")
)

// ConnectionError reports a port that is missing or cannot be opened.
type ConnectionError struct {
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to open serial port %s: %v", e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}
