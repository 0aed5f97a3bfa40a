// pkg/driver/errors.go
package driver

import "errors"

// Client error classes. Wrapped errors keep the transport or device cause.
var (
	ErrBusy               = errors.New("request already pending")
	ErrTimeout            = errors.New("device did not respond")
	ErrTransport          = errors.New("transport failure")
	ErrDeviceRejected     = errors.New("device rejected command")
	ErrMalformedLine      = errors.New("malformed response line")
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrInvalidCommand     = errors.New("invalid command")
	ErrClientClosed       = errors.New("client closed")
)

// IsRetryable reports whether a failed request may succeed if repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport)
}
