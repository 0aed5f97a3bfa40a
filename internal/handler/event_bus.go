// internal/handler/event_bus.go
package handler

import (
	"context"

	"go.uber.org/zap"

	"matrix-service/internal/model"
	"matrix-service/internal/service"
	"matrix-service/internal/syncutil"
)

const (
	eventQueueSize      = 256
	subscriberQueueSize = 64
)

// EventBus fans matrix events out to subscribers. It observes the
// coordinator and never blocks it: when a queue is full the event is
// dropped for that queue.
type EventBus struct {
	subscribers map[int]chan model.MatrixEvent
	nextID      int
	events      chan model.MatrixEvent
	mutex       syncutil.RWMutex
	logger      *zap.Logger
}

var _ service.Observer = (*EventBus)(nil)

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subscribers: make(map[int]chan model.MatrixEvent),
		events:      make(chan model.MatrixEvent, eventQueueSize),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes published events until ctx is done, then closes every
// subscriber channel.
func (eb *EventBus) Start(ctx context.Context) error {
	defer eb.closeSubscribers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-eb.events:
			eb.distributeEvent(event)
		}
	}
}

// SnapshotChanged publishes a snapshot.changed event.
func (eb *EventBus) SnapshotChanged(snapshot model.Snapshot) {
	eb.Publish(model.NewSnapshotEvent(snapshot))
}

// Publish queues an event without blocking
func (eb *EventBus) Publish(event model.MatrixEvent) {
	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
		)
	}
}

// Subscribe returns a channel receiving every event published from now on,
// and a function that cancels the subscription.
func (eb *EventBus) Subscribe() (<-chan model.MatrixEvent, func()) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	eb.nextID++
	id := eb.nextID
	subscriber := make(chan model.MatrixEvent, subscriberQueueSize)
	eb.subscribers[id] = subscriber

	return subscriber, func() { eb.unsubscribe(id) }
}

// SubscriberCount returns the number of active subscriptions
func (eb *EventBus) SubscriberCount() int {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return len(eb.subscribers)
}

func (eb *EventBus) unsubscribe(id int) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if subscriber, ok := eb.subscribers[id]; ok {
		delete(eb.subscribers, id)
		close(subscriber)
	}
}

// distributeEvent hands an event to every subscriber with room for it
func (eb *EventBus) distributeEvent(event model.MatrixEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for id, subscriber := range eb.subscribers {
		select {
		case subscriber <- event:
		default:
			eb.logger.Debug("Subscriber is slow, dropping event",
				zap.Int("subscriber", id),
				zap.String("event_type", string(event.EventType)),
			)
		}
	}
}

func (eb *EventBus) closeSubscribers() {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	for id, subscriber := range eb.subscribers {
		delete(eb.subscribers, id)
		close(subscriber)
	}
}
