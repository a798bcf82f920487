// Package recurring regenerates tasks from completed recurring ones. The
// engine is a consumer group on the task-events topic: when a completed
// snapshot carries a recurrence rule, it creates the successor task through
// the coordinator, guarded by an idempotency marker so redelivered events
// never spawn duplicates.
package recurring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskpulse/taskpulse/internal/bus"
	"github.com/taskpulse/taskpulse/internal/domain"
	"github.com/taskpulse/taskpulse/internal/domain/recur"
	"github.com/taskpulse/taskpulse/internal/platform/metrics"
	"github.com/taskpulse/taskpulse/internal/service"
	"github.com/taskpulse/taskpulse/internal/store"
)

// Group is the engine's subscriber group on the task-events topic.
const Group = "recurring-engine"

// markerPrefix namespaces the engine's idempotency keys in the shared KV.
const markerPrefix = "recurring:done:"

// TaskCreator is the slice of the coordinator the engine needs.
// Version: 1.0
type TaskCreator interface {
	// Create makes a new pending task owned by ownerID.
	Create(ctx context.Context, ownerID string, input service.TaskInput) (*domain.Task, error)
}

// Config holds the engine's tunables.
type Config struct {
	// MaxAttempts is the delivery budget per event before it is treated as
	// poison: acknowledged, logged and skipped.
	MaxAttempts int
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5}
}

// Engine consumes completed-task events and creates successor tasks.
type Engine struct {
	eventBus bus.EventBus
	kv       store.KV
	creator  TaskCreator
	calc     *recur.Calculator
	metrics  *metrics.Metrics
	logger   *slog.Logger
	config   Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a recurring task engine. If logger is nil, a default
// logger will be used.
func NewEngine(
	eventBus bus.EventBus,
	kv store.KV,
	creator TaskCreator,
	calc *recur.Calculator,
	m *metrics.Metrics,
	config Config,
	logger *slog.Logger,
) *Engine {
	if eventBus == nil {
		panic("eventBus cannot be nil")
	}
	if kv == nil {
		panic("kv cannot be nil")
	}
	if creator == nil {
		panic("creator cannot be nil")
	}
	if calc == nil {
		calc = &recur.Calculator{}
	}

	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}

	return &Engine{
		eventBus: eventBus,
		kv:       kv,
		creator:  creator,
		calc:     calc,
		metrics:  m,
		logger:   logger.With(slog.String("component", "recurring_engine")),
		config:   config,
	}
}

// Start subscribes the engine to task-events and launches its consume loop.
func (e *Engine) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel

	deliveries, err := e.eventBus.Subscribe(loopCtx, bus.TopicTaskEvents, Group)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.consume(loopCtx, deliveries)
	}()

	return nil
}

// Stop halts the consume loop and waits for the in-flight event.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) consume(ctx context.Context, deliveries <-chan bus.Delivery) {
	for delivery := range deliveries {
		err := e.handle(ctx, delivery.Payload)
		if err == nil {
			delivery.Ack()
			continue
		}

		if e.metrics != nil {
			e.metrics.ConsumerFailures.WithLabelValues(Group).Inc()
		}

		// A poison event is acknowledged and skipped after its budget, so it
		// cannot block the rest of the stream.
		if delivery.Attempt >= e.config.MaxAttempts {
			e.logger.Error("skipping poison event",
				"message_id", delivery.ID,
				"attempts", delivery.Attempt,
				"error", err)
			delivery.Ack()
			continue
		}

		e.logger.Warn("event handling failed, will retry",
			"message_id", delivery.ID,
			"attempt", delivery.Attempt,
			"error", err)
		delivery.Nack()
	}
}

// handle processes one task event. Only completed events whose snapshot
// carries a recurrence rule and a due time produce a successor.
func (e *Engine) handle(ctx context.Context, payload []byte) error {
	var event domain.TaskEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to decode task event: %w", err)
	}

	if event.Type != domain.EventTaskCompleted {
		return nil
	}

	snapshot := event.Task
	if snapshot.Recurrence == nil || snapshot.DueAt == nil {
		return nil
	}

	marker := markerPrefix + event.DedupKey()
	if _, err := e.kv.Get(ctx, marker); err == nil {
		// Redelivery of an event already handled.
		return nil
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		return fmt.Errorf("failed to read idempotency marker: %w", err)
	}

	nextDue, err := e.calc.Next(snapshot.Recurrence, *snapshot.DueAt)
	if err != nil {
		if errors.Is(err, recur.ErrPatternExpired) {
			// The chain has run its course; mark the event handled so
			// redeliveries short-circuit.
			if putErr := e.kv.Put(ctx, marker, []byte(time.Now().UTC().Format(time.RFC3339))); putErr != nil {
				return putErr
			}
			e.logger.Info("recurrence chain ended",
				"task_id", event.TaskID,
				"end_at", snapshot.Recurrence.EndAt)
			return nil
		}
		return fmt.Errorf("failed to compute next occurrence: %w", err)
	}

	// The marker is written before the successor exists, so a crash between
	// the two can lose a successor but never duplicate one.
	if err := e.kv.Put(ctx, marker, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
		return fmt.Errorf("failed to write idempotency marker: %w", err)
	}

	successor, err := e.creator.Create(ctx, event.OwnerID, service.TaskInput{
		Title:       snapshot.Title,
		Description: snapshot.Description,
		DueAt:       &nextDue,
		Priority:    snapshot.Priority,
		Tags:        snapshot.Tags,
		Recurrence:  snapshot.Recurrence,
	})
	if err != nil {
		// Roll the marker back so a retry can recreate the successor.
		if delErr := e.kv.Delete(ctx, marker); delErr != nil {
			e.logger.Error("failed to roll back idempotency marker",
				"marker", marker,
				"error", delErr)
		}
		return fmt.Errorf("failed to create successor task: %w", err)
	}

	e.logger.Info("successor task created",
		"source_task_id", event.TaskID,
		"sequence_id", event.SequenceID,
		"successor_task_id", successor.ID,
		"next_due", nextDue)

	return nil
}
