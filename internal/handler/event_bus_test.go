package handler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrix-service/internal/handler"
	"matrix-service/internal/model"
)

func TestEventBusFanOut(t *testing.T) {
	t.Parallel()

	bus := handler.NewEventBus(nil)
	a, cancelA := bus.Subscribe()
	b, cancelB := bus.Subscribe()
	defer cancelB()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Start(ctx) }()

	bus.SnapshotChanged(model.Snapshot{Input: 2})
	assert.Equal(t, 2, (<-a).Snapshot.Input)
	assert.Equal(t, 2, (<-b).Snapshot.Input)

	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, bus.SubscriberCount())

	stop()
	require.NoError(t, <-done)
	_, open = <-b
	assert.False(t, open)
}

func TestEventBusPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	bus := handler.NewEventBus(nil)
	for range 1000 {
		bus.Publish(model.NewCommandEvent("power_on", nil))
	}
}
