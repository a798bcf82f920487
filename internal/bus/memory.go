package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// MemoryBus is an in-process EventBus. Every topic is an append-only log and
// every subscriber group owns a cursor into it, so delivery to one group never
// waits on another group's processing. Unacknowledged messages are redelivered
// with the same per-key ordering guarantees as the Redis implementation.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string]*memoryTopic
	logger *slog.Logger
	closed bool

	// RedeliverDelay is the pause before a nacked message is offered again.
	// Kept short by default so tests exercising redelivery stay fast.
	RedeliverDelay time.Duration
}

// NewMemoryBus creates an in-process event bus.
func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	return &MemoryBus{
		topics:         make(map[string]*memoryTopic),
		logger:         logger.With("component", "memory_bus"),
		RedeliverDelay: 10 * time.Millisecond,
	}
}

type memoryTopic struct {
	mu      sync.Mutex
	entries []Message
	groups  map[string]*memoryGroup
}

type memoryGroup struct {
	cursor int
	notify chan struct{}
}

// Publish appends the payload to the topic log and wakes every subscriber
// group. The append is the in-memory analog of a durable commit.
func (b *MemoryBus) Publish(ctx context.Context, topic, key string, payload any) error {
	raw, err := Encode(payload)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrDelivery, ErrClosed)
	}
	t := b.topic(topic)
	b.mu.Unlock()

	t.mu.Lock()
	msg := Message{
		ID:          strconv.Itoa(len(t.entries)),
		Key:         key,
		Payload:     raw,
		PublishedAt: time.Now().UTC(),
	}
	t.entries = append(t.entries, msg)
	groups := make([]*memoryGroup, 0, len(t.groups))
	for _, g := range t.groups {
		groups = append(groups, g)
	}
	t.mu.Unlock()

	for _, g := range groups {
		select {
		case g.notify <- struct{}{}:
		default:
		}
	}

	b.logger.Debug("published message",
		"topic", topic,
		"key", key,
		"message_id", msg.ID)

	return nil
}

// Subscribe registers the group on the topic (starting at the beginning of
// the log for a new group, so projections are rebuildable by replay) and
// starts a delivery goroutine that blocks on Ack/Nack per message.
func (b *MemoryBus) Subscribe(ctx context.Context, topic, group string) (<-chan Delivery, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	t := b.topic(topic)
	b.mu.Unlock()

	t.mu.Lock()
	g, ok := t.groups[group]
	if !ok {
		g = &memoryGroup{notify: make(chan struct{}, 1)}
		t.groups[group] = g
	}
	t.mu.Unlock()

	out := make(chan Delivery)
	go b.deliver(ctx, t, g, topic, group, out)

	return out, nil
}

// Close stops accepting publishes. Subscription goroutines exit with their
// contexts.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *MemoryBus) topic(name string) *memoryTopic {
	t, ok := b.topics[name]
	if !ok {
		t = &memoryTopic{groups: make(map[string]*memoryGroup)}
		b.topics[name] = t
	}
	return t
}

// deliver feeds the group's cursor position to out, one message at a time,
// advancing only on Ack. Sequential delivery per group preserves per-key
// publication order.
func (b *MemoryBus) deliver(
	ctx context.Context,
	t *memoryTopic,
	g *memoryGroup,
	topic, group string,
	out chan<- Delivery,
) {
	defer close(out)

	attempt := 0
	for {
		t.mu.Lock()
		var msg Message
		ready := g.cursor < len(t.entries)
		if ready {
			msg = t.entries[g.cursor]
		}
		t.mu.Unlock()

		if !ready {
			select {
			case <-ctx.Done():
				return
			case <-g.notify:
				continue
			}
		}

		attempt++
		result := make(chan bool, 1)
		delivery := Delivery{
			Message: msg,
			Attempt: attempt,
			ack:     func() { result <- true },
			nack:    func() { result <- false },
		}

		select {
		case <-ctx.Done():
			return
		case out <- delivery:
		}

		select {
		case <-ctx.Done():
			return
		case acked := <-result:
			if acked {
				t.mu.Lock()
				g.cursor++
				t.mu.Unlock()
				attempt = 0
				continue
			}
			b.logger.Debug("message nacked, redelivering",
				"topic", topic,
				"group", group,
				"message_id", msg.ID,
				"attempt", attempt)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.RedeliverDelay):
			}
		}
	}
}
