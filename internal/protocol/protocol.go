// internal/protocol/protocol.go
package protocol

import (
	"context"
	"time"
)

// Transport is a byte-level link to a single device. Every blocking call
// takes a context and returns when it is cancelled.
type Transport interface {
	// Connection lifecycle
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	// Data communication
	Write(ctx context.Context, data []byte) error
	ReadUntil(ctx context.Context, terminator byte, timeout time.Duration) ([]byte, error)
	Discard() error

	// Health and diagnostics
	Stats() TransportStats
}

// TransportStats provides transport-level statistics
type TransportStats struct {
	BytesWritten int64     `json:"bytes_written"`
	BytesRead    int64     `json:"bytes_read"`
	Opens        int64     `json:"opens"`
	Disconnects  int64     `json:"disconnects"`
	ErrorCount   int64     `json:"error_count"`
	LastActivity time.Time `json:"last_activity"`
	IsConnected  bool      `json:"is_connected"`
}
