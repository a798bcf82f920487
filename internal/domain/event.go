package domain

import (
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event-specific validation errors
var (
	// ErrEventTaskIDEmpty is returned when an event's task ID is empty or nil.
	ErrEventTaskIDEmpty = errors.New("event task ID cannot be empty")

	// ErrEventSequenceInvalid is returned when an event's sequence ID is not positive.
	ErrEventSequenceInvalid = errors.New("event sequence ID must be positive")
)

// EventType identifies the task mutation an event describes.
type EventType string

// Possible task event types.
const (
	EventTaskCreated   EventType = "created"
	EventTaskUpdated   EventType = "updated"
	EventTaskCompleted EventType = "completed"
	EventTaskDeleted   EventType = "deleted"
)

// Valid checks whether the event type is one of the defined values.
func (e EventType) Valid() bool {
	switch e {
	case EventTaskCreated, EventTaskUpdated, EventTaskCompleted, EventTaskDeleted:
		return true
	}
	return false
}

// TaskSnapshot is the fixed-shape copy of a task's attributes captured at the
// moment an event is created. Consumers always receive the full snapshot, so
// they never need to look the task up (it may already be deleted).
type TaskSnapshot struct {
	ID          uuid.UUID         `json:"id"`
	OwnerID     string            `json:"owner_id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	DueAt       *time.Time        `json:"due_at,omitempty"`
	Priority    Priority          `json:"priority"`
	Tags        []string          `json:"tags,omitempty"`
	Recurrence  *RecurringPattern `json:"recurrence,omitempty"`
	Status      TaskStatus        `json:"status"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// SnapshotOf captures the current attributes of a task.
func SnapshotOf(t *Task) TaskSnapshot {
	var tags []string
	if len(t.Tags) > 0 {
		tags = make([]string, len(t.Tags))
		copy(tags, t.Tags)
	}

	var recurrence *RecurringPattern
	if t.Recurrence != nil {
		r := *t.Recurrence
		recurrence = &r
	}

	return TaskSnapshot{
		ID:          t.ID,
		OwnerID:     t.OwnerID,
		Title:       t.Title,
		Description: t.Description,
		DueAt:       t.DueAt,
		Priority:    t.Priority,
		Tags:        tags,
		Recurrence:  recurrence,
		Status:      t.Status,
		CompletedAt: t.CompletedAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// TaskEvent is an immutable fact describing one task mutation. Sequence IDs
// are assigned per task, strictly increasing and gapless, and together with
// the task ID form the deduplication key for every consumer.
type TaskEvent struct {
	Type       EventType    `json:"event_type"`
	TaskID     uuid.UUID    `json:"task_id"`
	SequenceID int64        `json:"sequence_id"`
	Task       TaskSnapshot `json:"task_data"`
	OwnerID    string       `json:"owner_id"`
	Timestamp  time.Time    `json:"timestamp"`
}

// NewTaskEvent creates a TaskEvent for the given mutation of task with the
// given per-task sequence number. Returns an error if validation fails.
func NewTaskEvent(eventType EventType, task *Task, sequenceID int64) (*TaskEvent, error) {
	event := &TaskEvent{
		Type:       eventType,
		TaskID:     task.ID,
		SequenceID: sequenceID,
		Task:       SnapshotOf(task),
		OwnerID:    task.OwnerID,
		Timestamp:  time.Now().UTC(),
	}

	if err := event.Validate(); err != nil {
		return nil, err
	}

	return event, nil
}

// Validate checks if the TaskEvent has valid data.
func (e *TaskEvent) Validate() error {
	if !e.Type.Valid() {
		return ErrInvalidEventType
	}

	if e.TaskID == uuid.Nil {
		return ErrEventTaskIDEmpty
	}

	if e.SequenceID <= 0 {
		return ErrEventSequenceInvalid
	}

	if e.OwnerID == "" {
		return ErrTaskOwnerEmpty
	}

	if e.Timestamp.IsZero() {
		return ErrInvalidTimestamp
	}

	return nil
}

// DedupKey returns the (task_id, sequence_id) identity used by consumers to
// recognize redelivery of the same event.
func (e *TaskEvent) DedupKey() string {
	return DedupKey(e.TaskID, e.SequenceID)
}

// DedupKey builds the deduplication key for a task event identity.
func DedupKey(taskID uuid.UUID, sequenceID int64) string {
	return taskID.String() + ":" + strconv.FormatInt(sequenceID, 10)
}

// ReminderEvent is the payload published on the reminders topic when a
// scheduled reminder fires.
type ReminderEvent struct {
	TaskID   uuid.UUID `json:"task_id"`
	Title    string    `json:"title"`
	DueAt    time.Time `json:"due_at"`
	RemindAt time.Time `json:"remind_at"`
	OwnerID  string    `json:"owner_id"`
}
