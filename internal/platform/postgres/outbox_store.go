package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/taskpulse/taskpulse/internal/store"
)

// PostgresOutboxStore implements the store.OutboxStore interface
// using a PostgreSQL database as the storage backend.
type PostgresOutboxStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresOutboxStore creates a new PostgreSQL implementation of the OutboxStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresOutboxStore(db store.DBTX, logger *slog.Logger) *PostgresOutboxStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresOutboxStore{
		db:     db,
		logger: logger.With(slog.String("component", "outbox_store")),
	}
}

// Ensure PostgresOutboxStore implements store.OutboxStore interface
var _ store.OutboxStore = (*PostgresOutboxStore)(nil)

const outboxColumns = `id, task_id, sequence_id, payload, status, attempts, last_error, created_at, updated_at`

// Enqueue implements store.OutboxStore.Enqueue
func (s *PostgresOutboxStore) Enqueue(ctx context.Context, entry *store.OutboxEntry) error {
	query := `
		INSERT INTO outbox_entries (id, task_id, sequence_id, payload, status, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.TaskID,
		entry.SequenceID,
		[]byte(entry.Payload),
		entry.Status,
		entry.Attempts,
		entry.LastError,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("failed to enqueue outbox entry",
			"entry_id", entry.ID,
			"task_id", entry.TaskID,
			"sequence_id", entry.SequenceID,
			"error", err)
		return MapError(err)
	}

	return nil
}

// ListPending implements store.OutboxStore.ListPending. Ordering by
// (task_id, sequence_id) keeps per-task publication order intact even when a
// batch spans several tasks.
func (s *PostgresOutboxStore) ListPending(ctx context.Context, limit int) ([]*store.OutboxEntry, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_entries
		WHERE status = $1
		ORDER BY task_id, sequence_id
		LIMIT $2
	`

	return s.list(ctx, query, store.OutboxStatusPending, limit)
}

// ListDead implements store.OutboxStore.ListDead
func (s *PostgresOutboxStore) ListDead(ctx context.Context, limit int) ([]*store.OutboxEntry, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_entries
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`

	return s.list(ctx, query, store.OutboxStatusDead, limit)
}

// MarkPublished implements store.OutboxStore.MarkPublished
func (s *PostgresOutboxStore) MarkPublished(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox_entries
		SET status = $1, last_error = '', updated_at = now()
		WHERE id = $2
	`

	return s.mark(ctx, id, query, store.OutboxStatusPublished)
}

// MarkFailed implements store.OutboxStore.MarkFailed
func (s *PostgresOutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	query := `
		UPDATE outbox_entries
		SET attempts = $1, last_error = $2, updated_at = now()
		WHERE id = $3
	`

	result, err := s.db.ExecContext(ctx, query, attempts, lastError, id)
	if err != nil {
		return MapError(err)
	}

	return checkOutboxAffected(result)
}

// MarkDead implements store.OutboxStore.MarkDead
func (s *PostgresOutboxStore) MarkDead(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	query := `
		UPDATE outbox_entries
		SET status = $1, attempts = $2, last_error = $3, updated_at = now()
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query, store.OutboxStatusDead, attempts, lastError, id)
	if err != nil {
		s.logger.Error("failed to dead-letter outbox entry",
			"entry_id", id,
			"error", err)
		return MapError(err)
	}

	return checkOutboxAffected(result)
}

// WithTx implements store.OutboxStore.WithTx
func (s *PostgresOutboxStore) WithTx(tx *sql.Tx) store.OutboxStore {
	return &PostgresOutboxStore{
		db:     tx,
		logger: s.logger,
	}
}

func (s *PostgresOutboxStore) list(
	ctx context.Context,
	query string,
	status store.OutboxStatus,
	limit int,
) ([]*store.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		s.logger.Error("failed to list outbox entries",
			"status", status,
			"error", err)
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*store.OutboxEntry
	for rows.Next() {
		var (
			entry   store.OutboxEntry
			payload []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.TaskID,
			&entry.SequenceID,
			&payload,
			&entry.Status,
			&entry.Attempts,
			&entry.LastError,
			&entry.CreatedAt,
			&entry.UpdatedAt,
		)
		if err != nil {
			return nil, MapError(err)
		}

		entry.Payload = payload
		entry.CreatedAt = entry.CreatedAt.UTC()
		entry.UpdatedAt = entry.UpdatedAt.UTC()
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return entries, nil
}

func (s *PostgresOutboxStore) mark(
	ctx context.Context,
	id uuid.UUID,
	query string,
	status store.OutboxStatus,
) error {
	result, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		s.logger.Error("failed to update outbox entry",
			"entry_id", id,
			"status", status,
			"error", err)
		return MapError(err)
	}

	return checkOutboxAffected(result)
}

func checkOutboxAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrOutboxEntryNotFound
	}
	return nil
}
