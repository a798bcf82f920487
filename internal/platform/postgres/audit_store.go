package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/taskpulse/taskpulse/internal/domain"
	"github.com/taskpulse/taskpulse/internal/store"
)

// PostgresAuditStore implements the store.AuditStore interface
// using a PostgreSQL database as the storage backend.
type PostgresAuditStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresAuditStore creates a new PostgreSQL implementation of the AuditStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresAuditStore(db store.DBTX, logger *slog.Logger) *PostgresAuditStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresAuditStore{
		db:     db,
		logger: logger.With(slog.String("component", "audit_store")),
	}
}

// Ensure PostgresAuditStore implements store.AuditStore interface
var _ store.AuditStore = (*PostgresAuditStore)(nil)

const auditColumns = `task_id, owner_id, sequence_id, event_type, task_data, occurred_at, recorded_at`

// Upsert implements store.AuditStore.Upsert. The conflict target makes
// redelivered events overwrite the existing row, so replays never duplicate
// history.
func (s *PostgresAuditStore) Upsert(ctx context.Context, record *domain.AuditRecord) error {
	taskData, err := json.Marshal(record.Task)
	if err != nil {
		return fmt.Errorf("failed to encode task snapshot: %w", err)
	}

	query := `
		INSERT INTO audit_records (task_id, owner_id, sequence_id, event_type, task_data, occurred_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id, sequence_id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
			event_type = EXCLUDED.event_type,
			task_data = EXCLUDED.task_data,
			occurred_at = EXCLUDED.occurred_at,
			recorded_at = EXCLUDED.recorded_at
	`

	_, err = s.db.ExecContext(ctx, query,
		record.TaskID,
		record.OwnerID,
		record.SequenceID,
		record.EventType,
		taskData,
		record.OccurredAt,
		record.RecordedAt,
	)
	if err != nil {
		s.logger.Error("failed to upsert audit record",
			"task_id", record.TaskID,
			"sequence_id", record.SequenceID,
			"error", err)
		return MapError(err)
	}

	return nil
}

// History implements store.AuditStore.History
func (s *PostgresAuditStore) History(ctx context.Context, taskID uuid.UUID) ([]*domain.AuditRecord, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_records
		WHERE task_id = $1
		ORDER BY sequence_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		s.logger.Error("failed to query task history",
			"task_id", taskID,
			"error", err)
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return collectAuditRecords(rows)
}

// Activity implements store.AuditStore.Activity
func (s *PostgresAuditStore) Activity(
	ctx context.Context,
	ownerID string,
	page, pageSize int,
) ([]*domain.AuditRecord, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	query := `
		SELECT ` + auditColumns + `
		FROM audit_records
		WHERE owner_id = $1
		ORDER BY occurred_at DESC, sequence_id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, ownerID, pageSize, (page-1)*pageSize)
	if err != nil {
		s.logger.Error("failed to query owner activity",
			"owner_id", ownerID,
			"error", err)
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return collectAuditRecords(rows)
}

// PruneBefore implements store.AuditStore.PruneBefore
func (s *PostgresAuditStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_records WHERE occurred_at < $1`, cutoff)
	if err != nil {
		s.logger.Error("failed to prune audit records",
			"cutoff", cutoff,
			"error", err)
		return 0, MapError(err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return removed, nil
}

func collectAuditRecords(rows *sql.Rows) ([]*domain.AuditRecord, error) {
	var records []*domain.AuditRecord
	for rows.Next() {
		var (
			record   domain.AuditRecord
			taskData []byte
		)

		err := rows.Scan(
			&record.TaskID,
			&record.OwnerID,
			&record.SequenceID,
			&record.EventType,
			&taskData,
			&record.OccurredAt,
			&record.RecordedAt,
		)
		if err != nil {
			return nil, MapError(err)
		}

		if err := json.Unmarshal(taskData, &record.Task); err != nil {
			return nil, fmt.Errorf("failed to decode task snapshot: %w", err)
		}

		record.OccurredAt = record.OccurredAt.UTC()
		record.RecordedAt = record.RecordedAt.UTC()
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return records, nil
}
