package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/taskpulse/taskpulse/internal/domain"
)

// RecurrencePayload is the wire form of a task's recurrence rule.
type RecurrencePayload struct {
	PatternType string     `json:"pattern_type" validate:"required,oneof=daily weekly monthly custom"`
	Interval    int        `json:"interval" validate:"required,min=1"`
	EndAt       *time.Time `json:"end_at,omitempty"`
}

// CreateTaskRequest defines the payload for creating a task. Length limits
// mirror the domain's so obviously oversized input is rejected before the
// service layer.
type CreateTaskRequest struct {
	Title       string             `json:"title" validate:"required,max=200"`
	Description string             `json:"description,omitempty" validate:"max=2000"`
	DueAt       *time.Time         `json:"due_at,omitempty"`
	Priority    string             `json:"priority,omitempty" validate:"omitempty,oneof=high medium low"`
	Tags        []string           `json:"tags,omitempty"`
	Recurrence  *RecurrencePayload `json:"recurrence,omitempty"`
}

// UpdateTaskRequest defines the payload for updating a task. Fields mirror
// CreateTaskRequest; a null due_at clears the due time and cancels the
// task's reminder.
type UpdateTaskRequest struct {
	Title       string             `json:"title" validate:"required,max=200"`
	Description string             `json:"description,omitempty" validate:"max=2000"`
	DueAt       *time.Time         `json:"due_at,omitempty"`
	Priority    string             `json:"priority,omitempty" validate:"omitempty,oneof=high medium low"`
	Tags        []string           `json:"tags,omitempty"`
	Recurrence  *RecurrencePayload `json:"recurrence,omitempty"`
}

// TaskResponse is the wire representation of a task.
type TaskResponse struct {
	ID          uuid.UUID          `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	DueAt       *time.Time         `json:"due_at,omitempty"`
	Priority    string             `json:"priority"`
	Tags        []string           `json:"tags,omitempty"`
	Recurrence  *RecurrencePayload `json:"recurrence,omitempty"`
	Status      string             `json:"status"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// TaskListResponse wraps a page of tasks.
type TaskListResponse struct {
	Tasks    []TaskResponse `json:"tasks"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// AuditRecordResponse is the wire representation of one audit log entry.
type AuditRecordResponse struct {
	TaskID     uuid.UUID           `json:"task_id"`
	SequenceID int64               `json:"sequence_id"`
	EventType  string              `json:"event_type"`
	Task       domain.TaskSnapshot `json:"task_data"`
	OccurredAt time.Time           `json:"occurred_at"`
	RecordedAt time.Time           `json:"recorded_at"`
}

// AuditListResponse wraps a list of audit records.
type AuditListResponse struct {
	Records []AuditRecordResponse `json:"records"`
}

func toTaskResponse(task *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		DueAt:       task.DueAt,
		Priority:    string(task.Priority),
		Tags:        task.Tags,
		Status:      string(task.Status),
		CompletedAt: task.CompletedAt,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
	if task.Recurrence != nil {
		resp.Recurrence = &RecurrencePayload{
			PatternType: string(task.Recurrence.PatternType),
			Interval:    task.Recurrence.Interval,
			EndAt:       task.Recurrence.EndAt,
		}
	}
	return resp
}

func toAuditResponse(record *domain.AuditRecord) AuditRecordResponse {
	return AuditRecordResponse{
		TaskID:     record.TaskID,
		SequenceID: record.SequenceID,
		EventType:  string(record.EventType),
		Task:       record.Task,
		OccurredAt: record.OccurredAt,
		RecordedAt: record.RecordedAt,
	}
}

func toRecurrence(payload *RecurrencePayload) *domain.RecurringPattern {
	if payload == nil {
		return nil
	}
	return &domain.RecurringPattern{
		PatternType: domain.PatternType(payload.PatternType),
		Interval:    payload.Interval,
		EndAt:       payload.EndAt,
	}
}
