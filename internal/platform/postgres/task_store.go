package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/taskpulse/taskpulse/internal/domain"
	"github.com/taskpulse/taskpulse/internal/store"
)

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// taskColumns is the select list shared by every read query.
const taskColumns = `id, owner_id, title, description, due_at, priority, tags,
	recurrence, status, completed_at, created_at, updated_at`

// Create implements store.TaskStore.Create
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	tags, recurrence, err := encodeTaskJSON(task)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (id, owner_id, title, description, due_at, priority,
			tags, recurrence, status, completed_at, last_sequence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $12)
	`

	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		task.OwnerID,
		task.Title,
		task.Description,
		task.DueAt,
		task.Priority,
		tags,
		recurrence,
		task.Status,
		task.CompletedAt,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("failed to create task",
			"task_id", task.ID,
			"error", err)
		return MapError(err)
	}

	return nil
}

// GetByID implements store.TaskStore.GetByID
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND owner_id = $2`

	row := s.db.QueryRowContext(ctx, query, id, ownerID)
	task, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrTaskNotFound
		}
		return nil, MapError(err)
	}

	return task, nil
}

// Update implements store.TaskStore.Update
func (s *PostgresTaskStore) Update(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	tags, recurrence, err := encodeTaskJSON(task)
	if err != nil {
		return err
	}

	query := `
		UPDATE tasks
		SET title = $1, description = $2, due_at = $3, priority = $4, tags = $5,
			recurrence = $6, status = $7, completed_at = $8, updated_at = $9
		WHERE id = $10 AND owner_id = $11
	`

	result, err := s.db.ExecContext(ctx, query,
		task.Title,
		task.Description,
		task.DueAt,
		task.Priority,
		tags,
		recurrence,
		task.Status,
		task.CompletedAt,
		task.UpdatedAt,
		task.ID,
		task.OwnerID,
	)
	if err != nil {
		s.logger.Error("failed to update task",
			"task_id", task.ID,
			"error", err)
		return MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrTaskNotFound
	}

	return nil
}

// Delete implements store.TaskStore.Delete
func (s *PostgresTaskStore) Delete(ctx context.Context, id uuid.UUID, ownerID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		s.logger.Error("failed to delete task",
			"task_id", id,
			"error", err)
		return MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrTaskNotFound
	}

	return nil
}

// List implements store.TaskStore.List
func (s *PostgresTaskStore) List(ctx context.Context, ownerID string, filter store.TaskFilter) ([]*domain.Task, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = $1`)
	args := []any{ownerID}

	appendCond := func(clause string, value any) {
		args = append(args, value)
		sb.WriteString(" AND " + clause + "$" + strconv.Itoa(len(args)))
	}

	if filter.Status != nil {
		appendCond("status = ", *filter.Status)
	}
	if filter.Priority != nil {
		appendCond("priority = ", *filter.Priority)
	}
	if filter.DueFrom != nil {
		appendCond("due_at >= ", *filter.DueFrom)
	}
	if filter.DueTo != nil {
		appendCond("due_at <= ", *filter.DueTo)
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		placeholder := "$" + strconv.Itoa(len(args))
		sb.WriteString(" AND (title ILIKE " + placeholder + " OR description ILIKE " + placeholder + ")")
	}

	sb.WriteString(" ORDER BY due_at ASC NULLS LAST, created_at ASC")

	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		args = append(args, filter.PageSize)
		sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
		args = append(args, (page-1)*filter.PageSize)
		sb.WriteString(" OFFSET $" + strconv.Itoa(len(args)))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		s.logger.Error("failed to list tasks",
			"owner_id", ownerID,
			"error", err)
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return tasks, nil
}

// NextSequence implements store.TaskStore.NextSequence
func (s *PostgresTaskStore) NextSequence(ctx context.Context, id uuid.UUID) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE tasks SET last_sequence = last_sequence + 1 WHERE id = $1 RETURNING last_sequence`,
		id,
	).Scan(&seq)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, store.ErrTaskNotFound
		}
		return 0, MapError(err)
	}

	return seq, nil
}

// WithTx implements store.TaskStore.WithTx
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row, decoding the JSONB tags and recurrence columns.
func scanTask(row scanner) (*domain.Task, error) {
	var (
		task          domain.Task
		description   sql.NullString
		dueAt         sql.NullTime
		completedAt   sql.NullTime
		tagsJSON      []byte
		recurrenceRaw []byte
	)

	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Title,
		&description,
		&dueAt,
		&task.Priority,
		&tagsJSON,
		&recurrenceRaw,
		&task.Status,
		&completedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Description = description.String
	if dueAt.Valid {
		t := dueAt.Time.UTC()
		task.DueAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		task.CompletedAt = &t
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &task.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode task tags: %w", err)
		}
	}
	if len(recurrenceRaw) > 0 {
		task.Recurrence = &domain.RecurringPattern{}
		if err := json.Unmarshal(recurrenceRaw, task.Recurrence); err != nil {
			return nil, fmt.Errorf("failed to decode task recurrence: %w", err)
		}
	}

	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()

	return &task, nil
}

// encodeTaskJSON marshals the JSONB columns. Nil slices and patterns become
// SQL NULLs.
func encodeTaskJSON(task *domain.Task) (tags, recurrence []byte, err error) {
	if len(task.Tags) > 0 {
		tags, err = json.Marshal(task.Tags)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode task tags: %w", err)
		}
	}
	if task.Recurrence != nil {
		recurrence, err = json.Marshal(task.Recurrence)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode task recurrence: %w", err)
		}
	}
	return tags, recurrence, nil
}
