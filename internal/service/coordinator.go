// Package service implements the task coordinator, the single entry point
// for task mutations. Every mutation runs in one database transaction that
// changes the task row, advances the task's sequence counter, and records the
// resulting event in the outbox; reminder orchestration happens after commit.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/taskpulse/taskpulse/internal/domain"
	"github.com/taskpulse/taskpulse/internal/scheduler"
	"github.com/taskpulse/taskpulse/internal/store"
)

// TxRunner executes fn inside a database transaction. Production wiring
// closes over store.RunInTransaction; tests substitute a pass-through.
type TxRunner func(ctx context.Context, fn store.TxFn) error

// ReminderScheduler is the slice of the scheduler the coordinator drives.
// Version: 1.0
type ReminderScheduler interface {
	// Schedule registers a reminder for the task, replacing any prior one.
	Schedule(ctx context.Context, taskID uuid.UUID, ownerID, title string, dueAt time.Time) (uuid.UUID, error)

	// CancelForTask cancels the task's scheduled reminder, if any.
	CancelForTask(ctx context.Context, taskID uuid.UUID) error
}

// TaskInput carries the caller-controlled fields of a task mutation.
type TaskInput struct {
	Title       string
	Description string
	DueAt       *time.Time
	Priority    domain.Priority
	Tags        []string
	Recurrence  *domain.RecurringPattern
}

// TaskCoordinator owns the task lifecycle. A per-task mutex serializes
// concurrent mutations of the same task, which combined with the per-task
// sequence counter yields a strictly increasing, gapless event sequence.
type TaskCoordinator struct {
	tasks     store.TaskStore
	outbox    store.OutboxStore
	reminders ReminderScheduler
	runTx     TxRunner
	logger    *slog.Logger
	locks     *keyedMutex
}

// NewTaskCoordinator creates the coordinator. If logger is nil, a default
// logger will be used.
func NewTaskCoordinator(
	tasks store.TaskStore,
	outbox store.OutboxStore,
	reminders ReminderScheduler,
	runTx TxRunner,
	logger *slog.Logger,
) *TaskCoordinator {
	if tasks == nil {
		panic("tasks cannot be nil")
	}
	if outbox == nil {
		panic("outbox cannot be nil")
	}
	if reminders == nil {
		panic("reminders cannot be nil")
	}
	if runTx == nil {
		panic("runTx cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &TaskCoordinator{
		tasks:     tasks,
		outbox:    outbox,
		reminders: reminders,
		runTx:     runTx,
		logger:    logger.With(slog.String("component", "task_coordinator")),
		locks:     newKeyedMutex(),
	}
}

// Create makes a new pending task, records its created event, and schedules
// a reminder when the task has a due time. A due time too close for the
// reminder lead is not an error: the task is created and the reminder
// skipped.
func (c *TaskCoordinator) Create(ctx context.Context, ownerID string, input TaskInput) (*domain.Task, error) {
	task, err := domain.NewTask(ownerID, input.Title, input.Description,
		normalizeDue(input.DueAt), input.Priority, input.Tags, input.Recurrence)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	unlock := c.locks.Lock(task.ID)
	defer unlock()

	err = c.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		tasks := c.tasks.WithTx(tx)
		if err := tasks.Create(ctx, task); err != nil {
			return err
		}
		return c.recordEvent(ctx, tx, tasks, domain.EventTaskCreated, task)
	})
	if err != nil {
		return nil, err
	}

	c.scheduleReminder(ctx, task)

	c.logger.Info("task created",
		"task_id", task.ID,
		"owner_id", ownerID)

	return task, nil
}

// Update replaces the task's caller-controlled fields and records an updated
// event. The reminder follows the due time: moved when it changes, cancelled
// when the due time is removed.
func (c *TaskCoordinator) Update(
	ctx context.Context,
	ownerID string,
	taskID uuid.UUID,
	input TaskInput,
) (*domain.Task, error) {
	unlock := c.locks.Lock(taskID)
	defer unlock()

	var task *domain.Task
	var dueChanged bool

	err := c.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		tasks := c.tasks.WithTx(tx)

		current, err := tasks.GetByID(ctx, taskID, ownerID)
		if err != nil {
			return err
		}

		dueChanged = !equalDue(current.DueAt, input.DueAt)

		current.Title = input.Title
		current.Description = input.Description
		current.DueAt = normalizeDue(input.DueAt)
		if input.Priority != "" {
			current.Priority = input.Priority
		}
		current.Tags = input.Tags
		current.Recurrence = input.Recurrence
		current.UpdatedAt = time.Now().UTC()

		if err := current.Validate(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}

		if err := tasks.Update(ctx, current); err != nil {
			return err
		}

		task = current
		return c.recordEvent(ctx, tx, tasks, domain.EventTaskUpdated, current)
	})
	if err != nil {
		return nil, err
	}

	if dueChanged {
		if task.DueAt == nil {
			if err := c.reminders.CancelForTask(ctx, taskID); err != nil {
				c.logger.Error("failed to cancel reminder after due time removal",
					"task_id", taskID,
					"error", err)
			}
		} else {
			c.scheduleReminder(ctx, task)
		}
	}

	c.logger.Info("task updated",
		"task_id", taskID,
		"owner_id", ownerID,
		"due_changed", dueChanged)

	return task, nil
}

// Complete marks the task completed, records a completed event carrying the
// full snapshot (the recurrence engine derives successors from it), and
// cancels the task's reminder. Completing an already completed task returns
// the task unchanged without emitting another event.
func (c *TaskCoordinator) Complete(ctx context.Context, ownerID string, taskID uuid.UUID) (*domain.Task, error) {
	unlock := c.locks.Lock(taskID)
	defer unlock()

	var task *domain.Task
	var alreadyCompleted bool

	err := c.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		tasks := c.tasks.WithTx(tx)

		current, err := tasks.GetByID(ctx, taskID, ownerID)
		if err != nil {
			return err
		}

		if current.Status == domain.TaskStatusCompleted {
			task = current
			alreadyCompleted = true
			return nil
		}

		current.Complete(time.Now().UTC())

		if err := tasks.Update(ctx, current); err != nil {
			return err
		}

		task = current
		return c.recordEvent(ctx, tx, tasks, domain.EventTaskCompleted, current)
	})
	if err != nil {
		return nil, err
	}

	if alreadyCompleted {
		return task, nil
	}

	if err := c.reminders.CancelForTask(ctx, taskID); err != nil {
		c.logger.Error("failed to cancel reminder after completion",
			"task_id", taskID,
			"error", err)
	}

	c.logger.Info("task completed",
		"task_id", taskID,
		"owner_id", ownerID)

	return task, nil
}

// Delete removes the task after recording a deleted event with the final
// snapshot. The reminder is cancelled first so its timer cannot fire for a
// task that no longer exists.
func (c *TaskCoordinator) Delete(ctx context.Context, ownerID string, taskID uuid.UUID) error {
	unlock := c.locks.Lock(taskID)
	defer unlock()

	if err := c.reminders.CancelForTask(ctx, taskID); err != nil {
		return err
	}

	err := c.runTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		tasks := c.tasks.WithTx(tx)

		current, err := tasks.GetByID(ctx, taskID, ownerID)
		if err != nil {
			return err
		}

		if err := c.recordEvent(ctx, tx, tasks, domain.EventTaskDeleted, current); err != nil {
			return err
		}

		return tasks.Delete(ctx, taskID, ownerID)
	})
	if err != nil {
		return err
	}

	c.logger.Info("task deleted",
		"task_id", taskID,
		"owner_id", ownerID)

	return nil
}

// Get returns the owner's task.
func (c *TaskCoordinator) Get(ctx context.Context, ownerID string, taskID uuid.UUID) (*domain.Task, error) {
	return c.tasks.GetByID(ctx, taskID, ownerID)
}

// List returns the owner's tasks matching the filter.
func (c *TaskCoordinator) List(ctx context.Context, ownerID string, filter store.TaskFilter) ([]*domain.Task, error) {
	return c.tasks.List(ctx, ownerID, filter)
}

// recordEvent advances the task's sequence and enqueues the event in the
// outbox, all within the surrounding transaction. The sequence increment and
// the outbox insert commit or roll back together with the task mutation.
func (c *TaskCoordinator) recordEvent(
	ctx context.Context,
	tx *sql.Tx,
	tasks store.TaskStore,
	eventType domain.EventType,
	task *domain.Task,
) error {
	seq, err := tasks.NextSequence(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("failed to advance sequence: %w", err)
	}

	event, err := domain.NewTaskEvent(eventType, task, seq)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	now := time.Now().UTC()
	entry := &store.OutboxEntry{
		ID:         uuid.New(),
		TaskID:     task.ID,
		SequenceID: seq,
		Payload:    payload,
		Status:     store.OutboxStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	return c.outbox.WithTx(tx).Enqueue(ctx, entry)
}

// scheduleReminder registers a reminder for the task's due time. A lead time
// that has already passed is logged and skipped, not surfaced: the mutation
// itself already committed.
func (c *TaskCoordinator) scheduleReminder(ctx context.Context, task *domain.Task) {
	if task.DueAt == nil || task.Status != domain.TaskStatusPending {
		return
	}

	_, err := c.reminders.Schedule(ctx, task.ID, task.OwnerID, task.Title, *task.DueAt)
	if err != nil {
		if errors.Is(err, scheduler.ErrInvalidSchedule) {
			c.logger.Debug("due time too close for a reminder",
				"task_id", task.ID,
				"due_at", task.DueAt)
			return
		}
		c.logger.Error("failed to schedule reminder",
			"task_id", task.ID,
			"error", err)
	}
}

func normalizeDue(dueAt *time.Time) *time.Time {
	if dueAt == nil {
		return nil
	}
	utc := dueAt.UTC()
	return &utc
}

func equalDue(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
