package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/taskpulse/taskpulse/internal/bus"
)

const (
	// consumerName identifies this process inside a consumer group. A stable
	// name lets a restarted process reclaim its own unacknowledged entries.
	consumerName = "primary"

	// readBlock bounds how long one XREADGROUP call blocks before the loop
	// re-checks for shutdown.
	readBlock = 5 * time.Second

	// defaultRedeliverDelay spaces out local redeliveries after a Nack.
	defaultRedeliverDelay = time.Second
)

// StreamBus implements the bus.EventBus interface on Redis Streams. Each topic
// is one stream; each subscriber group is one consumer group, so groups track
// independent positions and every group sees every message. Entries stay in
// the group's pending list until acknowledged, which gives at-least-once
// delivery across process restarts.
type StreamBus struct {
	client *redis.Client
	logger *slog.Logger

	// RedeliverDelay is the pause before a nacked delivery is retried.
	RedeliverDelay time.Duration

	mu      sync.Mutex
	closed  bool
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// NewStreamBus creates a Redis Streams implementation of the event bus.
// If logger is nil, a default logger will be used.
func NewStreamBus(client *redis.Client, logger *slog.Logger) *StreamBus {
	if client == nil {
		panic("client cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &StreamBus{
		client:         client,
		logger:         logger.With(slog.String("component", "stream_bus")),
		RedeliverDelay: defaultRedeliverDelay,
	}
}

// Ensure StreamBus implements bus.EventBus interface
var _ bus.EventBus = (*StreamBus)(nil)

// Publish implements bus.EventBus.Publish. XADD appends to the stream and
// Redis persists it before replying, so a nil return means the event is
// durably committed.
func (b *StreamBus) Publish(ctx context.Context, topic, key string, payload any) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: %w", bus.ErrDelivery, bus.ErrClosed)
	}

	raw, err := bus.Encode(payload)
	if err != nil {
		return err
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			"key":     key,
			"payload": string(raw),
		},
	}).Err()
	if err != nil {
		b.logger.Error("failed to publish event",
			"topic", topic,
			"key", key,
			"error", err)
		return fmt.Errorf("%w: topic %s: %v", bus.ErrDelivery, topic, err)
	}

	return nil
}

// Subscribe implements bus.EventBus.Subscribe. The consumer group is created
// at the start of the stream, so a group subscribing for the first time
// replays the full history; an existing group resumes from its last
// acknowledged position.
func (b *StreamBus) Subscribe(ctx context.Context, topic, group string) (<-chan bus.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, bus.ErrClosed
	}

	err := b.client.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("failed to create consumer group %s on %s: %w", group, topic, err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancels = append(b.cancels, cancel)

	ch := make(chan bus.Delivery)
	b.wg.Add(1)
	go b.consume(loopCtx, topic, group, ch)

	return ch, nil
}

// Close implements bus.EventBus.Close
func (b *StreamBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancels := b.cancels
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	b.wg.Wait()

	return b.client.Close()
}

// consume reads the group's stream sequentially and hands each entry to the
// subscriber one at a time, so per-key order is preserved within the group.
// The first pass reads ID "0" to recover entries this consumer received but
// never acknowledged before a restart.
func (b *StreamBus) consume(ctx context.Context, topic, group string, ch chan<- bus.Delivery) {
	defer b.wg.Done()
	defer close(ch)

	logger := b.logger.With("topic", topic, "group", group)
	cursor := "0"

	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumerName,
			Streams:  []string{topic, cursor},
			Count:    16,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				if ctx.Err() != nil {
					return
				}
				cursor = ">"
				continue
			}
			logger.Error("failed to read from stream", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		delivered := 0
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				delivered++
				if !b.deliver(ctx, topic, group, msg, ch) {
					return
				}
			}
		}

		// An empty backlog read means recovery is complete; switch to new
		// entries.
		if cursor == "0" && delivered == 0 {
			cursor = ">"
		}
	}
}

// deliver sends one entry and blocks until it is acknowledged. A Nack
// redelivers the same entry after RedeliverDelay with an incremented attempt
// counter. Returns false when the subscription is shutting down.
func (b *StreamBus) deliver(
	ctx context.Context,
	topic, group string,
	msg redis.XMessage,
	ch chan<- bus.Delivery,
) bool {
	message := decodeMessage(msg)
	result := make(chan bool, 1)

	for attempt := 1; ; attempt++ {
		delivery := bus.NewDelivery(message, attempt,
			func() { result <- true },
			func() { result <- false },
		)

		select {
		case ch <- delivery:
		case <-ctx.Done():
			return false
		}

		select {
		case acked := <-result:
			if acked {
				if err := b.client.XAck(ctx, topic, group, msg.ID).Err(); err != nil {
					b.logger.Error("failed to ack message",
						"topic", topic,
						"group", group,
						"message_id", msg.ID,
						"error", err)
				}
				return true
			}
		case <-ctx.Done():
			return false
		}

		select {
		case <-time.After(b.RedeliverDelay):
		case <-ctx.Done():
			return false
		}
	}
}

func decodeMessage(msg redis.XMessage) bus.Message {
	message := bus.Message{
		ID:          msg.ID,
		PublishedAt: streamIDTime(msg.ID),
	}

	if key, ok := msg.Values["key"].(string); ok {
		message.Key = key
	}
	if payload, ok := msg.Values["payload"].(string); ok {
		message.Payload = []byte(payload)
	}

	return message
}

// streamIDTime extracts the publication time from a stream entry ID, which
// Redis forms as "<unix-ms>-<seq>".
func streamIDTime(id string) time.Time {
	msPart, _, _ := strings.Cut(id, "-")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
