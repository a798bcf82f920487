package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/taskpulse/taskpulse/internal/domain"
)

// TaskFilter narrows List results. Nil pointer fields are not applied.
type TaskFilter struct {
	Status   *domain.TaskStatus
	Priority *domain.Priority

	// Search matches case-insensitively against title and description.
	Search string

	DueFrom *time.Time
	DueTo   *time.Time

	// Page is 1-based; PageSize caps the number of rows returned.
	Page     int
	PageSize int
}

// TaskStore defines the interface for task persistence. Mutating operations
// are called by the task coordinator inside a transaction together with the
// matching outbox enqueue, so every state change commits atomically with its
// event emission intent.
// Version: 1.0
type TaskStore interface {
	// Create inserts a new task with its sequence counter initialized to
	// zero. Returns ErrDuplicate if the task ID already exists.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task owned by ownerID.
	// Returns ErrTaskNotFound if no such task exists for that owner.
	GetByID(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Task, error)

	// Update persists the task's current field values.
	// Returns ErrTaskNotFound if the task does not exist.
	Update(ctx context.Context, task *domain.Task) error

	// Delete removes the task row.
	// Returns ErrTaskNotFound if the task does not exist.
	Delete(ctx context.Context, id uuid.UUID, ownerID string) error

	// List returns the owner's tasks matching the filter, ordered by due
	// date with undated tasks last.
	List(ctx context.Context, ownerID string, filter TaskFilter) ([]*domain.Task, error)

	// NextSequence atomically increments and returns the task's event
	// sequence counter. Sequence IDs are strictly increasing and gapless
	// per task because the increment commits in the same transaction as
	// the mutation it numbers.
	NextSequence(ctx context.Context, id uuid.UUID) (int64, error)

	// WithTx returns a TaskStore bound to the given transaction.
	WithTx(tx *sql.Tx) TaskStore
}
