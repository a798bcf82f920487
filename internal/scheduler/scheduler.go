// Package scheduler implements durable reminder scheduling with
// exactly-once firing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/taskpulse/taskpulse/internal/bus"
	"github.com/taskpulse/taskpulse/internal/domain"
	"github.com/taskpulse/taskpulse/internal/platform/metrics"
	"github.com/taskpulse/taskpulse/internal/store"
)

// Scheduler errors.
var (
	// ErrInvalidSchedule is returned when the derived remind time has
	// already passed at scheduling time.
	ErrInvalidSchedule = errors.New("reminder time is in the past")

	// ErrSchedulerStopped is returned when scheduling against a stopped
	// scheduler or timer.
	ErrSchedulerStopped = errors.New("scheduler is stopped")
)

// jobPrefix namespaces reminder jobs on the shared timer substrate.
const jobPrefix = "reminder-"

// Config holds the scheduler's tunables.
type Config struct {
	// LeadTime is how far before a task's due time its reminder fires.
	LeadTime time.Duration

	// PublishRetries bounds publish attempts for a fired reminder before
	// the failure is surfaced to the error log.
	PublishRetries uint64

	// PublishBackoff is the base delay between publish attempts, doubled
	// each retry.
	PublishBackoff time.Duration
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		LeadTime:       30 * time.Minute,
		PublishRetries: 5,
		PublishBackoff: 500 * time.Millisecond,
	}
}

// ReminderScheduler manages the reminder lifecycle: durable registration,
// firing through the timer substrate, cancellation, and catch-up after a
// restart. Every status transition goes through the store's compare-and-set,
// so duplicate timer triggers and races with cancellation resolve to exactly
// one winner.
type ReminderScheduler struct {
	reminders store.ReminderStore
	timer     TriggerTimer
	eventBus  bus.EventBus
	metrics   *metrics.Metrics
	logger    *slog.Logger
	config    Config

	// now is swappable for tests.
	now func() time.Time
}

// NewReminderScheduler creates a scheduler and registers its trigger callback
// with the timer substrate. If logger is nil, a default logger will be used.
func NewReminderScheduler(
	reminders store.ReminderStore,
	timer TriggerTimer,
	eventBus bus.EventBus,
	m *metrics.Metrics,
	config Config,
	logger *slog.Logger,
) *ReminderScheduler {
	if reminders == nil {
		panic("reminders cannot be nil")
	}
	if timer == nil {
		panic("timer cannot be nil")
	}
	if eventBus == nil {
		panic("eventBus cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}
	if config.LeadTime <= 0 {
		config.LeadTime = DefaultConfig().LeadTime
	}
	if config.PublishRetries == 0 {
		config.PublishRetries = DefaultConfig().PublishRetries
	}
	if config.PublishBackoff <= 0 {
		config.PublishBackoff = DefaultConfig().PublishBackoff
	}

	s := &ReminderScheduler{
		reminders: reminders,
		timer:     timer,
		eventBus:  eventBus,
		metrics:   m,
		logger:    logger.With(slog.String("component", "reminder_scheduler")),
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}

	timer.Register(s.trigger)

	return s
}

// Start recovers scheduled reminders from the store after a process restart.
// Future reminders are re-registered with the timer; overdue ones fire
// immediately through the same compare-and-set path as a normal trigger.
func (s *ReminderScheduler) Start(ctx context.Context) error {
	scheduled, err := s.reminders.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover reminders: %w", err)
	}

	var overdue, upcoming int
	now := s.now()
	for _, reminder := range scheduled {
		if !reminder.RemindAt.After(now) {
			overdue++
		} else {
			upcoming++
		}
		if err := s.timer.ScheduleAt(jobID(reminder.ID), reminder.RemindAt); err != nil {
			return fmt.Errorf("failed to register reminder %s: %w", reminder.ID, err)
		}
	}

	s.logger.Info("recovered scheduled reminders",
		"upcoming", upcoming,
		"overdue", overdue)

	return nil
}

// Stop cancels all registered timers and waits for in-flight triggers.
func (s *ReminderScheduler) Stop() {
	s.timer.Stop()
}

// Schedule registers a reminder for the task, firing LeadTime before dueAt.
// Any previously scheduled reminder for the task is cancelled first, so a
// task has at most one active reminder. Returns ErrInvalidSchedule when the
// derived remind time has already passed.
func (s *ReminderScheduler) Schedule(
	ctx context.Context,
	taskID uuid.UUID,
	ownerID, title string,
	dueAt time.Time,
) (uuid.UUID, error) {
	remindAt := dueAt.Add(-s.config.LeadTime)
	if !remindAt.After(s.now()) {
		return uuid.Nil, fmt.Errorf("%w: remind_at %s", ErrInvalidSchedule, remindAt.Format(time.RFC3339))
	}

	// Replace semantics: the previous reminder for this task, if still
	// scheduled, is cancelled before the new one is registered.
	if prior, err := s.reminders.GetScheduledByTask(ctx, taskID); err == nil {
		if err := s.Cancel(ctx, prior.ID); err != nil {
			return uuid.Nil, err
		}
	} else if !errors.Is(err, store.ErrReminderNotFound) {
		return uuid.Nil, err
	}

	reminder, err := domain.NewReminder(taskID, ownerID, title, dueAt, remindAt)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.reminders.Create(ctx, reminder); err != nil {
		return uuid.Nil, fmt.Errorf("failed to persist reminder: %w", err)
	}

	if err := s.timer.ScheduleAt(jobID(reminder.ID), reminder.RemindAt); err != nil {
		return uuid.Nil, err
	}

	if s.metrics != nil {
		s.metrics.RemindersScheduled.Inc()
	}

	s.logger.Debug("reminder scheduled",
		"reminder_id", reminder.ID,
		"task_id", taskID,
		"remind_at", reminder.RemindAt)

	return reminder.ID, nil
}

// Cancel transitions the reminder to cancelled and drops its timer. Losing
// the race to a concurrent fire is not an error: the reminder simply fired
// first.
func (s *ReminderScheduler) Cancel(ctx context.Context, reminderID uuid.UUID) error {
	cancelled, err := s.reminders.UpdateStatusIf(ctx, reminderID,
		domain.ReminderStatusScheduled, domain.ReminderStatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to cancel reminder: %w", err)
	}

	if cancelled {
		s.timer.Cancel(jobID(reminderID))
		s.logger.Debug("reminder cancelled", "reminder_id", reminderID)
	}

	return nil
}

// CancelForTask cancels the task's scheduled reminder, if any.
func (s *ReminderScheduler) CancelForTask(ctx context.Context, taskID uuid.UUID) error {
	reminder, err := s.reminders.GetScheduledByTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrReminderNotFound) {
			return nil
		}
		return err
	}

	return s.Cancel(ctx, reminder.ID)
}

// trigger is the timer callback. The compare-and-set on the stored status is
// the exactly-once guard: of any number of concurrent triggers for the same
// reminder, one wins the scheduled -> fired transition and publishes; the
// rest observe a lost race and return silently.
func (s *ReminderScheduler) trigger(ctx context.Context, job string) {
	reminderID, err := parseJobID(job)
	if err != nil {
		s.logger.Error("trigger for malformed job id", "job_id", job, "error", err)
		return
	}

	fired, err := s.reminders.UpdateStatusIf(ctx, reminderID,
		domain.ReminderStatusScheduled, domain.ReminderStatusFired)
	if err != nil {
		s.logger.Error("failed to fire reminder",
			"reminder_id", reminderID,
			"error", err)
		return
	}
	if !fired {
		// Already fired or cancelled by another writer.
		return
	}

	reminder, err := s.reminders.GetByID(ctx, reminderID)
	if err != nil {
		s.logger.Error("fired reminder vanished before publication",
			"reminder_id", reminderID,
			"error", err)
		return
	}

	if err := s.publish(ctx, reminder); err != nil {
		s.logger.Error("failed to publish reminder event",
			"reminder_id", reminderID,
			"task_id", reminder.TaskID,
			"error", err)
		if s.metrics != nil {
			s.metrics.PublishFailures.WithLabelValues(bus.TopicReminders).Inc()
		}
		return
	}

	if s.metrics != nil {
		s.metrics.RemindersFired.Inc()
		s.metrics.EventsPublished.WithLabelValues(bus.TopicReminders).Inc()
	}

	s.logger.Info("reminder fired",
		"reminder_id", reminderID,
		"task_id", reminder.TaskID)
}

// publish sends the reminder event with exponential backoff. Publication is
// at-least-once: a retry after an ambiguous failure may duplicate the event,
// and consumers are expected to tolerate that.
func (s *ReminderScheduler) publish(ctx context.Context, reminder *domain.Reminder) error {
	backoff := retry.WithMaxRetries(s.config.PublishRetries,
		retry.NewExponential(s.config.PublishBackoff))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.eventBus.Publish(ctx, bus.TopicReminders, reminder.TaskID.String(), reminder.Event())
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func jobID(reminderID uuid.UUID) string {
	return jobPrefix + reminderID.String()
}

func parseJobID(job string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(job, jobPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("job id %q has no %q prefix", job, jobPrefix)
	}
	return uuid.Parse(raw)
}
