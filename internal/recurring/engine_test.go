package recurring

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskpulse/taskpulse/internal/bus"
	"github.com/taskpulse/taskpulse/internal/domain"
	"github.com/taskpulse/taskpulse/internal/domain/recur"
	"github.com/taskpulse/taskpulse/internal/service"
	"github.com/taskpulse/taskpulse/internal/store"
)

// fakeCreator records successor creation calls.
type fakeCreator struct {
	mu      sync.Mutex
	created []createdCall
	notify  chan struct{}
}

type createdCall struct {
	ownerID string
	input   service.TaskInput
}

func newFakeCreator() *fakeCreator {
	return &fakeCreator{notify: make(chan struct{}, 16)}
}

func (f *fakeCreator) Create(
	ctx context.Context,
	ownerID string,
	input service.TaskInput,
) (*domain.Task, error) {
	f.mu.Lock()
	f.created = append(f.created, createdCall{ownerID: ownerID, input: input})
	f.mu.Unlock()
	f.notify <- struct{}{}

	return domain.NewTask(ownerID, input.Title, input.Description,
		input.DueAt, input.Priority, input.Tags, input.Recurrence)
}

func (f *fakeCreator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeCreator) last() createdCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[len(f.created)-1]
}

func (f *fakeCreator) waitForCreate(t *testing.T) {
	t.Helper()
	select {
	case <-f.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for successor creation")
	}
}

type engineFixture struct {
	engine  *Engine
	bus     *bus.MemoryBus
	kv      *store.MemoryKV
	creator *fakeCreator
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()

	memBus := bus.NewMemoryBus(discardLogger())
	kv := store.NewMemoryKV()
	creator := newFakeCreator()

	engine := NewEngine(memBus, kv, creator, &recur.Calculator{}, nil,
		Config{MaxAttempts: 3}, discardLogger())
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(engine.Stop)

	return &engineFixture{engine: engine, bus: memBus, kv: kv, creator: creator}
}

// completedEvent builds a completed-task event carrying a recurrence.
func completedEvent(
	t *testing.T,
	seq int64,
	dueAt time.Time,
	pattern *domain.RecurringPattern,
) *domain.TaskEvent {
	t.Helper()

	task, err := domain.NewTask("user-1", "water plants", "", &dueAt,
		domain.PriorityMedium, []string{"home"}, pattern)
	require.NoError(t, err)
	task.Complete(time.Now().UTC())

	event, err := domain.NewTaskEvent(domain.EventTaskCompleted, task, seq)
	require.NoError(t, err)
	return event
}

func publish(t *testing.T, f *engineFixture, event *domain.TaskEvent) {
	t.Helper()
	require.NoError(t, f.bus.Publish(context.Background(),
		bus.TopicTaskEvents, event.TaskID.String(), event))
}

func TestEngine(t *testing.T) {
	t.Parallel()

	t.Run("creates successor from completed recurring task", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		dueAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
		event := completedEvent(t, 2, dueAt, &domain.RecurringPattern{
			PatternType: domain.PatternDaily,
			Interval:    1,
		})
		publish(t, f, event)

		f.creator.waitForCreate(t)

		call := f.creator.last()
		assert.Equal(t, "user-1", call.ownerID)
		assert.Equal(t, "water plants", call.input.Title)
		require.NotNil(t, call.input.DueAt)
		assert.Equal(t, dueAt.AddDate(0, 0, 1), *call.input.DueAt)
		require.NotNil(t, call.input.Recurrence, "successor keeps the recurrence rule")
	})

	t.Run("monthly overflow clamps to last day of month", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		dueAt := time.Date(2026, 1, 31, 8, 0, 0, 0, time.UTC)
		event := completedEvent(t, 1, dueAt, &domain.RecurringPattern{
			PatternType: domain.PatternMonthly,
			Interval:    1,
		})
		publish(t, f, event)

		f.creator.waitForCreate(t)

		call := f.creator.last()
		require.NotNil(t, call.input.DueAt)
		assert.Equal(t, time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC), *call.input.DueAt)
	})

	t.Run("redelivered event creates no duplicate", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		dueAt := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
		event := completedEvent(t, 3, dueAt, &domain.RecurringPattern{
			PatternType: domain.PatternWeekly,
			Interval:    1,
		})

		publish(t, f, event)
		f.creator.waitForCreate(t)

		// The relay republishes after an ambiguous failure; same identity,
		// same payload.
		publish(t, f, event)

		time.Sleep(200 * time.Millisecond)
		assert.Equal(t, 1, f.creator.count())
	})

	t.Run("expired pattern produces no successor", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		dueAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		endAt := time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)
		expired := completedEvent(t, 1, dueAt, &domain.RecurringPattern{
			PatternType: domain.PatternWeekly,
			Interval:    1,
			EndAt:       &endAt,
		})
		publish(t, f, expired)

		// A later unrelated event confirms the expired one was consumed.
		follow := completedEvent(t, 1, dueAt, &domain.RecurringPattern{
			PatternType: domain.PatternDaily,
			Interval:    1,
		})
		publish(t, f, follow)

		f.creator.waitForCreate(t)
		assert.Equal(t, 1, f.creator.count())
		assert.Equal(t, dueAt.AddDate(0, 0, 1), *f.creator.last().input.DueAt)
	})

	t.Run("ignores non-completed and non-recurring events", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		dueAt := time.Now().UTC().Add(time.Hour)
		task, err := domain.NewTask("user-1", "plain", "", &dueAt,
			domain.PriorityLow, nil, nil)
		require.NoError(t, err)

		created, err := domain.NewTaskEvent(domain.EventTaskCreated, task, 1)
		require.NoError(t, err)
		publish(t, f, created)

		task.Complete(time.Now().UTC())
		completed, err := domain.NewTaskEvent(domain.EventTaskCompleted, task, 2)
		require.NoError(t, err)
		publish(t, f, completed)

		time.Sleep(200 * time.Millisecond)
		assert.Zero(t, f.creator.count())
	})

	t.Run("poison event is skipped after its budget", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		require.NoError(t, f.bus.Publish(context.Background(),
			bus.TopicTaskEvents, "poison", "not a task event"))

		// The stream must keep flowing past the poison message.
		dueAt := time.Now().UTC().Add(24 * time.Hour)
		event := completedEvent(t, 1, dueAt, &domain.RecurringPattern{
			PatternType: domain.PatternDaily,
			Interval:    1,
		})
		publish(t, f, event)

		f.creator.waitForCreate(t)
		assert.Equal(t, 1, f.creator.count())
	})
}
