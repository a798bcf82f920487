// Package outbox drains durably recorded task events to the bus. Writing the
// event row in the same transaction as the task mutation and publishing it
// here afterwards is what keeps "state changed but event lost" impossible.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/taskpulse/taskpulse/internal/bus"
	"github.com/taskpulse/taskpulse/internal/platform/metrics"
	"github.com/taskpulse/taskpulse/internal/store"
)

// Config holds the relay's tunables.
type Config struct {
	// PollInterval is how often the relay checks for pending entries.
	PollInterval time.Duration

	// BatchSize bounds how many pending entries one drain cycle processes.
	BatchSize int

	// MaxAttempts is the publish budget per entry before it is moved to the
	// dead-letter state.
	MaxAttempts int

	// Backoff is the base delay between publish attempts, doubled each retry.
	Backoff time.Duration
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		BatchSize:    64,
		MaxAttempts:  8,
		Backoff:      250 * time.Millisecond,
	}
}

// Relay moves pending outbox entries onto the bus. Entries drain in
// (task_id, sequence_id) order; each event is published to both the
// task-events and task-updates topics. An entry whose retry budget is
// exhausted is dead-lettered, never silently dropped.
type Relay struct {
	outbox   store.OutboxStore
	eventBus bus.EventBus
	metrics  *metrics.Metrics
	logger   *slog.Logger
	config   Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelay creates an outbox relay. If logger is nil, a default logger will
// be used.
func NewRelay(
	outbox store.OutboxStore,
	eventBus bus.EventBus,
	m *metrics.Metrics,
	config Config,
	logger *slog.Logger,
) *Relay {
	if outbox == nil {
		panic("outbox cannot be nil")
	}
	if eventBus == nil {
		panic("eventBus cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if config.Backoff <= 0 {
		config.Backoff = DefaultConfig().Backoff
	}

	return &Relay{
		outbox:   outbox,
		eventBus: eventBus,
		metrics:  m,
		logger:   logger.With(slog.String("component", "outbox_relay")),
		config:   config,
	}
}

// Start launches the drain loop in the background.
func (r *Relay) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.config.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
					r.logger.Error("drain cycle failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the drain loop and waits for the in-flight cycle.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Drain publishes one batch of pending entries. Exported so callers can force
// a synchronous flush, e.g. in tests or on shutdown.
//
// When an entry fails without exhausting its budget, later entries for the
// same task are skipped this cycle; publishing them would break per-task
// order. Other tasks' entries continue to drain.
func (r *Relay) Drain(ctx context.Context) error {
	entries, err := r.outbox.ListPending(ctx, r.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list pending entries: %w", err)
	}

	blocked := make(map[string]bool)
	for _, entry := range entries {
		taskKey := entry.TaskID.String()
		if blocked[taskKey] {
			continue
		}

		if err := r.publishEntry(ctx, entry); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			blocked[taskKey] = true
		}
	}

	return nil
}

// publishEntry pushes one entry to both topics, retrying with exponential
// backoff until the budget runs out. Every failed attempt is persisted so the
// attempt count survives a restart.
func (r *Relay) publishEntry(ctx context.Context, entry *store.OutboxEntry) error {
	attempts := entry.Attempts
	budget := r.config.MaxAttempts - attempts
	if budget < 1 {
		budget = 1
	}

	backoff := retry.WithMaxRetries(uint64(budget-1), retry.NewExponential(r.config.Backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		publishErr := r.publishBoth(ctx, entry)
		if publishErr == nil {
			return nil
		}

		attempts++
		if markErr := r.outbox.MarkFailed(ctx, entry.ID, attempts, publishErr.Error()); markErr != nil {
			r.logger.Error("failed to record publish failure",
				"entry_id", entry.ID,
				"error", markErr)
		}

		return retry.RetryableError(publishErr)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}

		r.logger.Error("publish budget exhausted, dead-lettering entry",
			"entry_id", entry.ID,
			"task_id", entry.TaskID,
			"sequence_id", entry.SequenceID,
			"attempts", attempts,
			"error", err)

		if deadErr := r.outbox.MarkDead(ctx, entry.ID, attempts, err.Error()); deadErr != nil {
			r.logger.Error("failed to dead-letter entry",
				"entry_id", entry.ID,
				"error", deadErr)
			return deadErr
		}
		if r.metrics != nil {
			r.metrics.OutboxDeadLetters.Inc()
		}
		return err
	}

	if err := r.outbox.MarkPublished(ctx, entry.ID); err != nil {
		// The event is on the bus but still marked pending; the next cycle
		// republishes it and consumers deduplicate by (task_id, sequence_id).
		r.logger.Error("failed to mark entry published",
			"entry_id", entry.ID,
			"error", err)
		return err
	}

	if r.metrics != nil {
		r.metrics.EventsPublished.WithLabelValues(bus.TopicTaskEvents).Inc()
		r.metrics.EventsPublished.WithLabelValues(bus.TopicTaskUpdates).Inc()
	}

	return nil
}

func (r *Relay) publishBoth(ctx context.Context, entry *store.OutboxEntry) error {
	key := entry.TaskID.String()

	for _, topic := range []string{bus.TopicTaskEvents, bus.TopicTaskUpdates} {
		if err := r.eventBus.Publish(ctx, topic, key, entry.Payload); err != nil {
			if r.metrics != nil {
				r.metrics.PublishFailures.WithLabelValues(topic).Inc()
			}
			return err
		}
	}

	return nil
}
