package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/taskpulse/taskpulse/internal/domain"
	"github.com/taskpulse/taskpulse/internal/store"
)

// PostgresReminderStore implements the store.ReminderStore interface
// using a PostgreSQL database as the storage backend.
type PostgresReminderStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresReminderStore creates a new PostgreSQL implementation of the ReminderStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresReminderStore(db store.DBTX, logger *slog.Logger) *PostgresReminderStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresReminderStore{
		db:     db,
		logger: logger.With(slog.String("component", "reminder_store")),
	}
}

// Ensure PostgresReminderStore implements store.ReminderStore interface
var _ store.ReminderStore = (*PostgresReminderStore)(nil)

const reminderColumns = `id, task_id, owner_id, title, due_at, remind_at, status, created_at, updated_at`

// Create implements store.ReminderStore.Create
func (s *PostgresReminderStore) Create(ctx context.Context, reminder *domain.Reminder) error {
	if err := reminder.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO reminders (id, task_id, owner_id, title, due_at, remind_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		reminder.ID,
		reminder.TaskID,
		reminder.OwnerID,
		reminder.Title,
		reminder.DueAt,
		reminder.RemindAt,
		reminder.Status,
		reminder.CreatedAt,
		reminder.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("failed to create reminder",
			"reminder_id", reminder.ID,
			"task_id", reminder.TaskID,
			"error", err)
		return MapError(err)
	}

	return nil
}

// GetByID implements store.ReminderStore.GetByID
func (s *PostgresReminderStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE id = $1`

	reminder, err := scanReminder(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrReminderNotFound
		}
		return nil, MapError(err)
	}

	return reminder, nil
}

// GetScheduledByTask implements store.ReminderStore.GetScheduledByTask
func (s *PostgresReminderStore) GetScheduledByTask(ctx context.Context, taskID uuid.UUID) (*domain.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE task_id = $1 AND status = $2`

	reminder, err := scanReminder(s.db.QueryRowContext(ctx, query, taskID, domain.ReminderStatusScheduled))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrReminderNotFound
		}
		return nil, MapError(err)
	}

	return reminder, nil
}

// ListScheduled implements store.ReminderStore.ListScheduled
func (s *PostgresReminderStore) ListScheduled(ctx context.Context) ([]*domain.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE status = $1 ORDER BY remind_at ASC`

	rows, err := s.db.QueryContext(ctx, query, domain.ReminderStatusScheduled)
	if err != nil {
		s.logger.Error("failed to list scheduled reminders", "error", err)
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var reminders []*domain.Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, MapError(err)
		}
		reminders = append(reminders, reminder)
	}

	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return reminders, nil
}

// UpdateStatusIf implements store.ReminderStore.UpdateStatusIf. The WHERE
// clause on the current status is the compare-and-set: concurrent writers
// racing for the same transition see zero rows affected and report false.
func (s *PostgresReminderStore) UpdateStatusIf(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.ReminderStatus,
) (bool, error) {
	query := `
		UPDATE reminders
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		s.logger.Error("failed to update reminder status",
			"reminder_id", id,
			"from", from,
			"to", to,
			"error", err)
		return false, MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// WithTx implements store.ReminderStore.WithTx
func (s *PostgresReminderStore) WithTx(tx *sql.Tx) store.ReminderStore {
	return &PostgresReminderStore{
		db:     tx,
		logger: s.logger,
	}
}

func scanReminder(row scanner) (*domain.Reminder, error) {
	var reminder domain.Reminder

	err := row.Scan(
		&reminder.ID,
		&reminder.TaskID,
		&reminder.OwnerID,
		&reminder.Title,
		&reminder.DueAt,
		&reminder.RemindAt,
		&reminder.Status,
		&reminder.CreatedAt,
		&reminder.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	reminder.DueAt = reminder.DueAt.UTC()
	reminder.RemindAt = reminder.RemindAt.UTC()
	reminder.CreatedAt = reminder.CreatedAt.UTC()
	reminder.UpdatedAt = reminder.UpdatedAt.UTC()

	return &reminder, nil
}
