package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/taskpulse/taskpulse/internal/domain"
)

// AuditStore defines the interface for the audit projection. Rows are keyed
// by (task_id, sequence_id): redelivered events overwrite instead of
// duplicating, which makes the projection idempotent under at-least-once
// delivery.
// Version: 1.0
type AuditStore interface {
	// Upsert inserts the record, replacing any existing row with the same
	// (task_id, sequence_id).
	Upsert(ctx context.Context, record *domain.AuditRecord) error

	// History returns the task's records in increasing sequence order.
	History(ctx context.Context, taskID uuid.UUID) ([]*domain.AuditRecord, error)

	// Activity returns a page of the owner's records, most recent first.
	// Page is 1-based.
	Activity(ctx context.Context, ownerID string, page, pageSize int) ([]*domain.AuditRecord, error)

	// PruneBefore deletes records that occurred before the cutoff and
	// returns the number of rows removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
