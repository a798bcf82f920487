package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Reminder-specific validation errors
var (
	// ErrReminderIDEmpty is returned when a reminder ID is empty or nil.
	ErrReminderIDEmpty = errors.New("reminder ID cannot be empty")

	// ErrReminderTaskIDEmpty is returned when a reminder's task ID is empty or nil.
	ErrReminderTaskIDEmpty = errors.New("reminder task ID cannot be empty")

	// ErrReminderTimeZero is returned when a reminder's fire time is missing.
	ErrReminderTimeZero = errors.New("reminder fire time cannot be zero")
)

// ReminderStatus represents the lifecycle state of a reminder.
type ReminderStatus string

// Possible reminder status values. The only legal transitions are
// scheduled -> fired and scheduled -> cancelled, both enforced with a
// compare-and-set on the stored status.
const (
	ReminderStatusScheduled ReminderStatus = "scheduled"
	ReminderStatusFired     ReminderStatus = "fired"
	ReminderStatusCancelled ReminderStatus = "cancelled"
)

// Valid checks whether the status is one of the defined values.
func (s ReminderStatus) Valid() bool {
	switch s {
	case ReminderStatusScheduled, ReminderStatusFired, ReminderStatusCancelled:
		return true
	}
	return false
}

// Reminder records the intent to notify a task's owner ahead of its due time.
// The title, owner and due time are denormalized so the reminder event can be
// published at fire time without reading the task back.
type Reminder struct {
	ID        uuid.UUID      `json:"id"`
	TaskID    uuid.UUID      `json:"task_id"`
	OwnerID   string         `json:"owner_id"`
	Title     string         `json:"title"`
	DueAt     time.Time      `json:"due_at"`
	RemindAt  time.Time      `json:"remind_at"`
	Status    ReminderStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewReminder creates a scheduled Reminder for the given task.
// Returns an error if validation fails.
func NewReminder(taskID uuid.UUID, ownerID, title string, dueAt, remindAt time.Time) (*Reminder, error) {
	now := time.Now().UTC()
	reminder := &Reminder{
		ID:        uuid.New(),
		TaskID:    taskID,
		OwnerID:   ownerID,
		Title:     title,
		DueAt:     dueAt.UTC(),
		RemindAt:  remindAt.UTC(),
		Status:    ReminderStatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := reminder.Validate(); err != nil {
		return nil, err
	}

	return reminder, nil
}

// Validate checks if the Reminder has valid data.
func (r *Reminder) Validate() error {
	if r.ID == uuid.Nil {
		return ErrReminderIDEmpty
	}

	if r.TaskID == uuid.Nil {
		return ErrReminderTaskIDEmpty
	}

	if r.OwnerID == "" {
		return ErrTaskOwnerEmpty
	}

	if r.RemindAt.IsZero() || r.DueAt.IsZero() {
		return ErrReminderTimeZero
	}

	if !r.Status.Valid() {
		return ErrInvalidReminderStatus
	}

	return nil
}

// Event builds the wire payload published when this reminder fires.
func (r *Reminder) Event() ReminderEvent {
	return ReminderEvent{
		TaskID:   r.TaskID,
		Title:    r.Title,
		DueAt:    r.DueAt,
		RemindAt: r.RemindAt,
		OwnerID:  r.OwnerID,
	}
}
