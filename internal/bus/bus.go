package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Topic names for the streams the engine publishes to.
const (
	// TopicTaskEvents carries every task lifecycle event.
	TopicTaskEvents = "task-events"

	// TopicReminders carries fired reminder notifications.
	TopicReminders = "reminders"

	// TopicTaskUpdates mirrors task-events for synchronization collaborators.
	TopicTaskUpdates = "task-updates"
)

// Common bus errors.
var (
	// ErrDelivery is returned when a publish fails at the transport layer.
	// Callers must retry with the same event; consumers deduplicate by
	// (task_id, sequence_id), so republication is safe.
	ErrDelivery = errors.New("event delivery failed")

	// ErrClosed is returned when operating on a closed bus.
	ErrClosed = errors.New("event bus is closed")
)

// Message is one event as carried on a topic.
type Message struct {
	// ID is the bus-assigned identifier of this message, used for logging
	// and acknowledgement. It is not the event's deduplication key.
	ID string

	// Key groups messages into an ordering domain. All task events use the
	// task ID as key; ordering is only guaranteed between messages that
	// share a key.
	Key string

	// Payload is the JSON-encoded event.
	Payload json.RawMessage

	// PublishedAt is when the message was committed to the topic.
	PublishedAt time.Time
}

// Delivery is one at-least-once delivery of a message to a subscriber group.
// Exactly one of Ack or Nack must be called; until then the group's stream
// does not advance.
type Delivery struct {
	Message

	// Attempt counts deliveries of this message to this group, starting at 1.
	Attempt int

	ack  func()
	nack func()
}

// NewDelivery builds a delivery with the given acknowledgement callbacks.
// Transport implementations outside this package use it to wire their own
// ack and redelivery behavior.
func NewDelivery(message Message, attempt int, ack, nack func()) Delivery {
	return Delivery{
		Message: message,
		Attempt: attempt,
		ack:     ack,
		nack:    nack,
	}
}

// Ack acknowledges the delivery; the message will not be redelivered to this
// group.
func (d Delivery) Ack() {
	if d.ack != nil {
		d.ack()
	}
}

// Nack rejects the delivery; the message will be redelivered to this group.
func (d Delivery) Nack() {
	if d.nack != nil {
		d.nack()
	}
}

// EventBus is the ordered, durable publish/subscribe primitive.
// Version: 1.0
type EventBus interface {
	// Publish commits the payload to the topic durably before returning.
	// Returns an error wrapping ErrDelivery on transport failure; the caller
	// must retry with the same event.
	Publish(ctx context.Context, topic, key string, payload any) error

	// Subscribe returns a channel of deliveries for the given subscriber
	// group. Messages sharing a key arrive in publication order; deliveries
	// repeat until acknowledged. A group resumes from its last acknowledged
	// position, never from the beginning of the topic.
	Subscribe(ctx context.Context, topic, group string) (<-chan Delivery, error)

	// Close releases transport resources and stops all subscriptions.
	Close() error
}

// Encode marshals a payload for publication. Split out so implementations
// share identical wire behavior.
func Encode(payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}
	return raw, nil
}
