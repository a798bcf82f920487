package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord is the queryable projection of a TaskEvent, keyed by
// (task_id, sequence_id) so redelivery of the same event overwrites the row
// instead of duplicating it. The projection is purely derived and can be
// rebuilt by replaying the task-events stream.
type AuditRecord struct {
	TaskID     uuid.UUID    `json:"task_id"`
	OwnerID    string       `json:"owner_id"`
	SequenceID int64        `json:"sequence_id"`
	EventType  EventType    `json:"event_type"`
	Task       TaskSnapshot `json:"task_data"`
	OccurredAt time.Time    `json:"occurred_at"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// RecordOf projects a task event into its audit representation.
func RecordOf(event *TaskEvent) AuditRecord {
	return AuditRecord{
		TaskID:     event.TaskID,
		OwnerID:    event.OwnerID,
		SequenceID: event.SequenceID,
		EventType:  event.Type,
		Task:       event.Task,
		OccurredAt: event.Timestamp,
		RecordedAt: time.Now().UTC(),
	}
}
