package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task-specific validation errors
var (
	// ErrTaskIDEmpty is returned when a task ID is empty or nil.
	ErrTaskIDEmpty = errors.New("task ID cannot be empty")

	// ErrTaskOwnerEmpty is returned when a task's owner ID is empty.
	ErrTaskOwnerEmpty = errors.New("task owner ID cannot be empty")

	// ErrTaskTitleEmpty is returned when a task's title is empty.
	ErrTaskTitleEmpty = errors.New("task title cannot be empty")

	// ErrTaskTitleTooLong is returned when a task's title exceeds MaxTitleLength.
	ErrTaskTitleTooLong = errors.New("task title exceeds maximum length")

	// ErrTaskDescriptionTooLong is returned when a task's description exceeds
	// MaxDescriptionLength.
	ErrTaskDescriptionTooLong = errors.New("task description exceeds maximum length")
)

// Field length limits for tasks.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
)

// Priority represents the urgency level of a task.
type Priority string

// Possible task priority values.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid checks whether the priority is one of the defined values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Possible task status values.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
)

// Valid checks whether the status is one of the defined values.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusCompleted:
		return true
	}
	return false
}

// Task is the core entity owned by the task coordinator. All mutations go
// through the coordinator so that every state transition is paired with an
// event carrying the next sequence number for the task.
type Task struct {
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

// NewTask creates a new pending Task owned by ownerID. It generates the task
// ID and sets the creation/update timestamps. Returns an error if validation
// fails.
func NewTask(
	ownerID, title, description string,
	dueAt *time.Time,
	priority Priority,
	tags []string,
	recurrence *RecurringPattern,
) (*Task, error) {
	if priority == "" {
		priority = PriorityMedium
	}

	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		DueAt:       dueAt,
		Priority:    priority,
		Tags:        normalizeTags(tags),
		Recurrence:  recurrence,
		Status:      TaskStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrTaskIDEmpty
	}

	if t.OwnerID == "" {
		return ErrTaskOwnerEmpty
	}

	if t.Title == "" {
		return ErrTaskTitleEmpty
	}

	if len(t.Title) > MaxTitleLength {
		return ErrTaskTitleTooLong
	}

	if len(t.Description) > MaxDescriptionLength {
		return ErrTaskDescriptionTooLong
	}

	if !t.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, t.Priority)
	}

	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTaskStatus, t.Status)
	}

	if t.Recurrence != nil {
		if err := t.Recurrence.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Complete transitions the task to the completed state and stamps the
// completion time. Completing an already completed task is a no-op.
func (t *Task) Complete(at time.Time) {
	if t.Status == TaskStatusCompleted {
		return
	}
	completed := at.UTC()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &completed
	t.UpdatedAt = completed
}

// HasActiveRecurrence reports whether the task carries a recurrence rule
// whose end date (if any) has not passed relative to the task's due date.
func (t *Task) HasActiveRecurrence() bool {
	if t.Recurrence == nil || t.DueAt == nil {
		return false
	}
	if t.Recurrence.EndAt != nil && !t.DueAt.Before(*t.Recurrence.EndAt) {
		return false
	}
	return true
}

// normalizeTags deduplicates tags while preserving first-seen order.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
