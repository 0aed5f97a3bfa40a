// pkg/driver/interfaces.go
package driver

import (
	"context"

	"matrix-service/internal/model"
	"matrix-service/internal/protocol"
)

// MatrixDriver is the command client contract. Implementations allow one
// outstanding request and fail others with ErrBusy.
type MatrixDriver interface {
	// Raw command path
	Send(ctx context.Context, cmd protocol.Command) (*ResponseSet, error)
	Supports(name protocol.CommandName) bool

	// State queries
	QueryPower(ctx context.Context) (model.PowerState, error)
	// QueryInput returns 0 when the device is in standby.
	QueryInput(ctx context.Context) (int, error)
	// QueryAudioOutput and QueryMultiview return nil when the device is in standby.
	QueryAudioOutput(ctx context.Context) (*int, error)
	QueryMultiview(ctx context.Context) (*int, error)

	// Cleanup
	Close() error
}
