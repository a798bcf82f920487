package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testPayload struct {
	Value int `json:"value"`
}

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBus(testLogger())
	defer func() { _ = b.Close() }()

	ch, err := b.Subscribe(ctx, "topic-a", "group-1")
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Publish(ctx, "topic-a", "key-1", testPayload{Value: i}))
	}

	for i := 1; i <= 3; i++ {
		d := receive(t, ch)
		var p testPayload
		require.NoError(t, json.Unmarshal(d.Payload, &p))
		assert.Equal(t, i, p.Value, "messages must arrive in publication order")
		assert.Equal(t, "key-1", d.Key)
		assert.Equal(t, 1, d.Attempt)
		d.Ack()
	}
}

func TestMemoryBus_NackRedelivers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBus(testLogger())
	b.RedeliverDelay = time.Millisecond
	defer func() { _ = b.Close() }()

	ch, err := b.Subscribe(ctx, "topic-a", "group-1")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "topic-a", "key-1", testPayload{Value: 1}))
	require.NoError(t, b.Publish(ctx, "topic-a", "key-1", testPayload{Value: 2}))

	first := receive(t, ch)
	first.Nack()

	redelivered := receive(t, ch)
	var p testPayload
	require.NoError(t, json.Unmarshal(redelivered.Payload, &p))
	assert.Equal(t, 1, p.Value, "nacked message must be redelivered before later ones")
	assert.Equal(t, 2, redelivered.Attempt)
	redelivered.Ack()

	next := receive(t, ch)
	require.NoError(t, json.Unmarshal(next.Payload, &p))
	assert.Equal(t, 2, p.Value)
	next.Ack()
}

func TestMemoryBus_IndependentGroups(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBus(testLogger())
	defer func() { _ = b.Close() }()

	slow, err := b.Subscribe(ctx, "topic-a", "slow-group")
	require.NoError(t, err)
	fast, err := b.Subscribe(ctx, "topic-a", "fast-group")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "topic-a", "key-1", testPayload{Value: 1}))
	require.NoError(t, b.Publish(ctx, "topic-a", "key-1", testPayload{Value: 2}))

	// The fast group drains both messages while the slow group never acks.
	_ = receive(t, slow)

	for i := 1; i <= 2; i++ {
		d := receive(t, fast)
		var p testPayload
		require.NoError(t, json.Unmarshal(d.Payload, &p))
		assert.Equal(t, i, p.Value)
		d.Ack()
	}
}

func TestMemoryBus_NewGroupReplaysFromBeginning(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBus(testLogger())
	defer func() { _ = b.Close() }()

	require.NoError(t, b.Publish(ctx, "topic-a", "key-1", testPayload{Value: 1}))

	ch, err := b.Subscribe(ctx, "topic-a", "late-group")
	require.NoError(t, err)

	d := receive(t, ch)
	var p testPayload
	require.NoError(t, json.Unmarshal(d.Payload, &p))
	assert.Equal(t, 1, p.Value)
	d.Ack()
}

func TestMemoryBus_ResubscribeResumesFromLastAck(t *testing.T) {
	t.Parallel()

	b := NewMemoryBus(testLogger())
	defer func() { _ = b.Close() }()

	subCtx, cancelSub := context.WithCancel(context.Background())
	ch, err := b.Subscribe(subCtx, "topic-a", "group-1")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "topic-a", "key-1", testPayload{Value: 1}))
	require.NoError(t, b.Publish(ctx, "topic-a", "key-1", testPayload{Value: 2}))

	d := receive(t, ch)
	d.Ack()
	cancelSub()

	// Simulated reconnect: the group picks up at the first unacknowledged
	// message, not at the beginning of the topic.
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	ch2, err := b.Subscribe(ctx2, "topic-a", "group-1")
	require.NoError(t, err)

	d2 := receive(t, ch2)
	var p testPayload
	require.NoError(t, json.Unmarshal(d2.Payload, &p))
	assert.Equal(t, 2, p.Value)
	d2.Ack()
}

func TestMemoryBus_PublishAfterClose(t *testing.T) {
	t.Parallel()

	b := NewMemoryBus(testLogger())
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), "topic-a", "key-1", testPayload{Value: 1})
	assert.ErrorIs(t, err, ErrDelivery)
}
