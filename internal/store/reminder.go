package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/taskpulse/taskpulse/internal/domain"
)

// ReminderStore defines the interface for reminder persistence. The scheduler
// relies on UpdateStatusIf as its compare-and-set guard: status transitions
// race between timer triggers, crash-recovery replay and cancellation, and
// only one writer may win.
// Version: 1.0
type ReminderStore interface {
	// Create inserts a new reminder.
	Create(ctx context.Context, reminder *domain.Reminder) error

	// GetByID retrieves a reminder by its ID.
	// Returns ErrReminderNotFound if it does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Reminder, error)

	// GetScheduledByTask returns the task's reminder in scheduled status.
	// Returns ErrReminderNotFound if the task has no active reminder.
	// At most one such reminder exists per task.
	GetScheduledByTask(ctx context.Context, taskID uuid.UUID) (*domain.Reminder, error)

	// ListScheduled returns every reminder in scheduled status, for
	// re-registration after a process restart.
	ListScheduled(ctx context.Context) ([]*domain.Reminder, error)

	// UpdateStatusIf transitions the reminder from one status to another
	// only when the stored status still equals from. Returns true when this
	// caller performed the transition, false when another writer got there
	// first (or the reminder does not exist).
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to domain.ReminderStatus) (bool, error)

	// WithTx returns a ReminderStore bound to the given transaction.
	WithTx(tx *sql.Tx) ReminderStore
}
