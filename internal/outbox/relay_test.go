package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskpulse/taskpulse/internal/bus"
	"github.com/taskpulse/taskpulse/internal/mocks"
	"github.com/taskpulse/taskpulse/internal/store"
)

// recordingBus captures publishes and can be told to fail the first N
// attempts.
type recordingBus struct {
	mu        sync.Mutex
	published []publication
	failures  int
}

type publication struct {
	topic   string
	key     string
	payload json.RawMessage
}

func (b *recordingBus) Publish(ctx context.Context, topic, key string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures > 0 {
		b.failures--
		return fmt.Errorf("%w: transport down", bus.ErrDelivery)
	}

	raw, err := bus.Encode(payload)
	if err != nil {
		return err
	}

	b.published = append(b.published, publication{topic: topic, key: key, payload: raw})
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, topic, group string) (<-chan bus.Delivery, error) {
	return nil, errors.New("not implemented")
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) onTopic(topic string) []publication {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []publication
	for _, p := range b.published {
		if p.topic == topic {
			matched = append(matched, p)
		}
	}
	return matched
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enqueue(t *testing.T, outbox *mocks.MockOutboxStore, taskID uuid.UUID, seq int64) *store.OutboxEntry {
	t.Helper()

	now := time.Now().UTC()
	entry := &store.OutboxEntry{
		ID:         uuid.New(),
		TaskID:     taskID,
		SequenceID: seq,
		Payload:    json.RawMessage(fmt.Sprintf(`{"sequence_id":%d}`, seq)),
		Status:     store.OutboxStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, outbox.Enqueue(context.Background(), entry))
	return entry
}

func newRelay(outbox *mocks.MockOutboxStore, eventBus bus.EventBus, maxAttempts int) *Relay {
	config := DefaultConfig()
	config.MaxAttempts = maxAttempts
	config.Backoff = time.Millisecond
	return NewRelay(outbox, eventBus, nil, config, discardLogger())
}

func TestDrain(t *testing.T) {
	t.Parallel()

	t.Run("publishes to both topics in sequence order", func(t *testing.T) {
		t.Parallel()

		outboxStore := mocks.NewMockOutboxStore()
		eventBus := &recordingBus{}
		taskID := uuid.New()
		enqueue(t, outboxStore, taskID, 2)
		enqueue(t, outboxStore, taskID, 1)

		relay := newRelay(outboxStore, eventBus, 3)
		require.NoError(t, relay.Drain(context.Background()))

		taskEvents := eventBus.onTopic(bus.TopicTaskEvents)
		require.Len(t, taskEvents, 2)
		assert.JSONEq(t, `{"sequence_id":1}`, string(taskEvents[0].payload))
		assert.JSONEq(t, `{"sequence_id":2}`, string(taskEvents[1].payload))
		assert.Equal(t, taskID.String(), taskEvents[0].key)

		assert.Len(t, eventBus.onTopic(bus.TopicTaskUpdates), 2)

		pending, err := outboxStore.ListPending(context.Background(), 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("retries transient failures within one cycle", func(t *testing.T) {
		t.Parallel()

		outboxStore := mocks.NewMockOutboxStore()
		eventBus := &recordingBus{failures: 2}
		enqueue(t, outboxStore, uuid.New(), 1)

		relay := newRelay(outboxStore, eventBus, 5)
		require.NoError(t, relay.Drain(context.Background()))

		assert.Len(t, eventBus.onTopic(bus.TopicTaskEvents), 1)

		pending, err := outboxStore.ListPending(context.Background(), 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("dead-letters after the attempt budget", func(t *testing.T) {
		t.Parallel()

		outboxStore := mocks.NewMockOutboxStore()
		eventBus := &recordingBus{failures: 1000}
		entry := enqueue(t, outboxStore, uuid.New(), 1)

		relay := newRelay(outboxStore, eventBus, 3)
		require.NoError(t, relay.Drain(context.Background()))

		dead, err := outboxStore.ListDead(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, entry.ID, dead[0].ID)
		assert.Equal(t, 3, dead[0].Attempts)
		assert.NotEmpty(t, dead[0].LastError)

		pending, err := outboxStore.ListPending(context.Background(), 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("failure blocks later entries of the same task only", func(t *testing.T) {
		t.Parallel()

		outboxStore := mocks.NewMockOutboxStore()
		stuckTask := uuid.New()
		otherTask := uuid.New()
		enqueue(t, outboxStore, stuckTask, 1)
		enqueue(t, outboxStore, stuckTask, 2)
		enqueue(t, outboxStore, otherTask, 1)

		// Fails every attempt for the first entry (2 attempts x 2 topics is
		// more than the 4 failures only when ordering puts stuckTask first;
		// fail enough for one entry's full budget regardless).
		eventBus := &recordingBus{failures: 2}

		relay := newRelay(outboxStore, eventBus, 2)
		require.NoError(t, relay.Drain(context.Background()))

		// The stuck task's first entry burned its budget; its second entry
		// must not have been published out of order.
		for _, p := range eventBus.onTopic(bus.TopicTaskEvents) {
			if p.key == stuckTask.String() {
				assert.JSONEq(t, `{"sequence_id":1}`, string(p.payload),
					"sequence 2 published before sequence 1")
			}
		}
	})

	t.Run("budget counts attempts from previous cycles", func(t *testing.T) {
		t.Parallel()

		outboxStore := mocks.NewMockOutboxStore()
		eventBus := &recordingBus{failures: 1000}
		entry := enqueue(t, outboxStore, uuid.New(), 1)

		// Three attempts already burned in earlier cycles leave one attempt
		// in a budget of four.
		require.NoError(t, outboxStore.MarkFailed(context.Background(), entry.ID, 3, "transport down"))

		relay := newRelay(outboxStore, eventBus, 4)
		require.NoError(t, relay.Drain(context.Background()))

		dead, err := outboxStore.ListDead(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, 4, dead[0].Attempts)
	})
}

func TestRelayLifecycle(t *testing.T) {
	t.Parallel()

	outboxStore := mocks.NewMockOutboxStore()
	eventBus := &recordingBus{}
	enqueue(t, outboxStore, uuid.New(), 1)

	config := DefaultConfig()
	config.PollInterval = 10 * time.Millisecond
	config.Backoff = time.Millisecond
	relay := NewRelay(outboxStore, eventBus, nil, config, discardLogger())

	relay.Start()
	defer relay.Stop()

	require.Eventually(t, func() bool {
		return len(eventBus.onTopic(bus.TopicTaskEvents)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
