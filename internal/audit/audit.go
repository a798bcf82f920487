// Package audit maintains the queryable history of task events. It is an
// independent consumer group on the task-events topic, projecting every event
// into (task_id, sequence_id)-keyed rows, and enforces the retention window
// with a periodic sweep.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskpulse/taskpulse/internal/bus"
	"github.com/taskpulse/taskpulse/internal/domain"
	"github.com/taskpulse/taskpulse/internal/platform/metrics"
	"github.com/taskpulse/taskpulse/internal/store"
)

// Group is the audit log's subscriber group on the task-events topic.
const Group = "audit-log"

// Config holds the audit log's tunables.
type Config struct {
	// Retention is how long records are kept before the sweeper removes
	// them.
	Retention time.Duration

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration

	// MaxAttempts is the delivery budget per event before it is treated as
	// poison: acknowledged, logged and skipped.
	MaxAttempts int
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Retention:     90 * 24 * time.Hour,
		SweepInterval: time.Hour,
		MaxAttempts:   5,
	}
}

// Log consumes task events into the audit projection and serves history and
// activity queries. Rows are keyed by (task_id, sequence_id), so redelivered
// events overwrite instead of duplicating and the projection stays idempotent
// under at-least-once delivery.
type Log struct {
	eventBus bus.EventBus
	records  store.AuditStore
	guard    *bus.SequenceGuard
	metrics  *metrics.Metrics
	logger   *slog.Logger
	config   Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLog creates an audit log. If logger is nil, a default logger will be
// used.
func NewLog(
	eventBus bus.EventBus,
	records store.AuditStore,
	m *metrics.Metrics,
	config Config,
	logger *slog.Logger,
) *Log {
	if eventBus == nil {
		panic("eventBus cannot be nil")
	}
	if records == nil {
		panic("records cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}
	if config.Retention <= 0 {
		config.Retention = DefaultConfig().Retention
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultConfig().SweepInterval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}

	return &Log{
		eventBus: eventBus,
		records:  records,
		guard:    bus.NewSequenceGuard(),
		metrics:  m,
		logger:   logger.With(slog.String("component", "audit_log")),
		config:   config,
	}
}

// Start subscribes the log to task-events and launches the consume loop and
// the retention sweeper.
func (l *Log) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel

	deliveries, err := l.eventBus.Subscribe(loopCtx, bus.TopicTaskEvents, Group)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		l.consume(deliveries)
	}()
	go func() {
		defer l.wg.Done()
		l.sweep(loopCtx)
	}()

	return nil
}

// Stop halts the consume loop and the sweeper.
func (l *Log) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

// History returns the task's records in increasing sequence order.
func (l *Log) History(ctx context.Context, taskID uuid.UUID) ([]*domain.AuditRecord, error) {
	return l.records.History(ctx, taskID)
}

// Activity returns a page of the owner's records, most recent first.
func (l *Log) Activity(ctx context.Context, ownerID string, page, pageSize int) ([]*domain.AuditRecord, error) {
	return l.records.Activity(ctx, ownerID, page, pageSize)
}

func (l *Log) consume(deliveries <-chan bus.Delivery) {
	ctx := context.Background()

	for delivery := range deliveries {
		err := l.handle(ctx, delivery.Payload)
		if err == nil {
			delivery.Ack()
			continue
		}

		if l.metrics != nil {
			l.metrics.ConsumerFailures.WithLabelValues(Group).Inc()
		}

		if delivery.Attempt >= l.config.MaxAttempts {
			l.logger.Error("skipping poison event",
				"message_id", delivery.ID,
				"attempts", delivery.Attempt,
				"error", err)
			delivery.Ack()
			continue
		}

		l.logger.Warn("event handling failed, will retry",
			"message_id", delivery.ID,
			"attempt", delivery.Attempt,
			"error", err)
		delivery.Nack()
	}
}

// handle projects one task event into the audit store. Duplicates are
// re-upserted (the write is idempotent); gaps are recorded but flagged, since
// the transport's per-key ordering should make them impossible.
func (l *Log) handle(ctx context.Context, payload []byte) error {
	var event domain.TaskEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to decode task event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	if l.guard.Check(event.TaskID, event.SequenceID) == bus.SequenceGap {
		l.logger.Warn("sequence gap observed",
			"task_id", event.TaskID,
			"sequence_id", event.SequenceID)
	}

	record := domain.RecordOf(&event)
	if err := l.records.Upsert(ctx, &record); err != nil {
		return fmt.Errorf("failed to project event: %w", err)
	}

	l.guard.Advance(event.TaskID, event.SequenceID)
	if event.Type == domain.EventTaskDeleted {
		l.guard.Forget(event.TaskID)
	}

	return nil
}

// sweep enforces the retention window.
func (l *Log) sweep(ctx context.Context) {
	ticker := time.NewTicker(l.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-l.config.Retention)
			removed, err := l.records.PruneBefore(ctx, cutoff)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					l.logger.Error("retention sweep failed", "error", err)
				}
				continue
			}

			if removed > 0 {
				if l.metrics != nil {
					l.metrics.AuditRecordsPruned.Add(float64(removed))
				}
				l.logger.Info("retention sweep removed records",
					"removed", removed,
					"cutoff", cutoff)
			}
		}
	}
}
