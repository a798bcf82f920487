package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the publication state of an outbox entry.
type OutboxStatus string

// Possible outbox entry states. Entries move pending -> published on success
// or pending -> dead once the retry budget is exhausted; dead entries are
// kept for operator inspection, never silently dropped.
const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusDead      OutboxStatus = "dead"
)

// OutboxEntry is one durably recorded intent to publish a task event. It is
// written in the same transaction as the task mutation it describes and
// drained asynchronously by the outbox relay.
type OutboxEntry struct {
	ID         uuid.UUID
	TaskID     uuid.UUID
	SequenceID int64

	// Payload is the JSON-encoded TaskEvent.
	Payload json.RawMessage

	Status    OutboxStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OutboxStore defines the interface for the durable publication queue.
// Version: 1.0
type OutboxStore interface {
	// Enqueue inserts a pending entry. Must be called within the same
	// transaction as the task mutation it belongs to; use WithTx.
	Enqueue(ctx context.Context, entry *OutboxEntry) error

	// ListPending returns up to limit pending entries ordered by
	// (task_id, sequence_id) so per-task publication order is preserved.
	ListPending(ctx context.Context, limit int) ([]*OutboxEntry, error)

	// MarkPublished records a successful publication.
	MarkPublished(ctx context.Context, id uuid.UUID) error

	// MarkFailed records a failed attempt, keeping the entry pending.
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error

	// MarkDead moves the entry to the dead-letter state after the retry
	// budget is exhausted.
	MarkDead(ctx context.Context, id uuid.UUID, attempts int, lastError string) error

	// ListDead returns dead-letter entries for operator inspection.
	ListDead(ctx context.Context, limit int) ([]*OutboxEntry, error)

	// WithTx returns an OutboxStore bound to the given transaction.
	WithTx(tx *sql.Tx) OutboxStore
}
