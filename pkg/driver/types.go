// pkg/driver/types.go
package driver

import (
	"time"

	"github.com/google/uuid"

	"matrix-service/internal/protocol"
)

// ResponseSet is the outcome of a resolved request
type ResponseSet struct {
	RequestID uuid.UUID            `json:"request_id"`
	Command   protocol.CommandName `json:"command"`
	// Lines holds every decoded line received for the request, echoes included.
	Lines []string `json:"lines"`
	// Value is the captured state report value.
	Value string `json:"value,omitempty"`
	// Known is false when the command resolved without a state report:
	// an acknowledged actuation, or a query answered with standby.
	Known    bool          `json:"known"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// RequestState is the position of a request in its lifecycle
type RequestState string

const (
	StateIdle             RequestState = "IDLE"
	StateSent             RequestState = "SENT"
	StateAwaitingResponse RequestState = "AWAITING_RESPONSE"
	StateResolved         RequestState = "RESOLVED"
	StateTimedOut         RequestState = "TIMED_OUT"
	StateRejected         RequestState = "REJECTED"
)

// ClientStats contains command client counters
type ClientStats struct {
	State         RequestState `json:"state"`
	Requests      int64        `json:"requests"`
	Failures      int64        `json:"failures"`
	Retries       int64        `json:"retries"`
	BusyRejected  int64        `json:"busy_rejected"`
	LastError     string       `json:"last_error,omitempty"`
	LastRequestAt time.Time    `json:"last_request_at"`
}
