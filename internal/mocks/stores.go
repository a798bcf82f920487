// Package mocks provides in-memory implementations of the store interfaces
// for testing. Each method can be overridden through its Fn field; the
// default behavior is a working in-memory store.
package mocks

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskpulse/taskpulse/internal/domain"
	"github.com/taskpulse/taskpulse/internal/store"
)

// MockTaskStore implements store.TaskStore for testing.
type MockTaskStore struct {
	mu        sync.Mutex
	tasks     map[uuid.UUID]*domain.Task
	sequences map[uuid.UUID]int64

	CreateFn       func(ctx context.Context, task *domain.Task) error
	UpdateFn       func(ctx context.Context, task *domain.Task) error
	NextSequenceFn func(ctx context.Context, id uuid.UUID) (int64, error)
}

// NewMockTaskStore creates an empty in-memory task store.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks:     make(map[uuid.UUID]*domain.Task),
		sequences: make(map[uuid.UUID]int64),
	}
}

var _ store.TaskStore = (*MockTaskStore)(nil)

// Create implements store.TaskStore.Create
func (m *MockTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, task)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[task.ID]; exists {
		return store.ErrDuplicate
	}

	clone := *task
	m.tasks[task.ID] = &clone
	return nil
}

// GetByID implements store.TaskStore.GetByID
func (m *MockTaskStore) GetByID(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || task.OwnerID != ownerID {
		return nil, store.ErrTaskNotFound
	}

	clone := *task
	return &clone, nil
}

// Update implements store.TaskStore.Update
func (m *MockTaskStore) Update(ctx context.Context, task *domain.Task) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, task)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.tasks[task.ID]
	if !ok || existing.OwnerID != task.OwnerID {
		return store.ErrTaskNotFound
	}

	clone := *task
	m.tasks[task.ID] = &clone
	return nil
}

// Delete implements store.TaskStore.Delete
func (m *MockTaskStore) Delete(ctx context.Context, id uuid.UUID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok || task.OwnerID != ownerID {
		return store.ErrTaskNotFound
	}

	delete(m.tasks, id)
	delete(m.sequences, id)
	return nil
}

// List implements store.TaskStore.List
func (m *MockTaskStore) List(ctx context.Context, ownerID string, filter store.TaskFilter) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tasks []*domain.Task
	for _, task := range m.tasks {
		if task.OwnerID != ownerID {
			continue
		}
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		if filter.Priority != nil && task.Priority != *filter.Priority {
			continue
		}
		clone := *task
		tasks = append(tasks, &clone)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	return tasks, nil
}

// NextSequence implements store.TaskStore.NextSequence
func (m *MockTaskStore) NextSequence(ctx context.Context, id uuid.UUID) (int64, error) {
	if m.NextSequenceFn != nil {
		return m.NextSequenceFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return 0, store.ErrTaskNotFound
	}

	m.sequences[id]++
	return m.sequences[id], nil
}

// WithTx implements store.TaskStore.WithTx
func (m *MockTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return m
}

// MockReminderStore implements store.ReminderStore for testing.
type MockReminderStore struct {
	mu        sync.Mutex
	reminders map[uuid.UUID]*domain.Reminder

	CreateFn         func(ctx context.Context, reminder *domain.Reminder) error
	UpdateStatusIfFn func(ctx context.Context, id uuid.UUID, from, to domain.ReminderStatus) (bool, error)
}

// NewMockReminderStore creates an empty in-memory reminder store.
func NewMockReminderStore() *MockReminderStore {
	return &MockReminderStore{
		reminders: make(map[uuid.UUID]*domain.Reminder),
	}
}

var _ store.ReminderStore = (*MockReminderStore)(nil)

// Create implements store.ReminderStore.Create
func (m *MockReminderStore) Create(ctx context.Context, reminder *domain.Reminder) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, reminder)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *reminder
	m.reminders[reminder.ID] = &clone
	return nil
}

// GetByID implements store.ReminderStore.GetByID
func (m *MockReminderStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reminder, ok := m.reminders[id]
	if !ok {
		return nil, store.ErrReminderNotFound
	}

	clone := *reminder
	return &clone, nil
}

// GetScheduledByTask implements store.ReminderStore.GetScheduledByTask
func (m *MockReminderStore) GetScheduledByTask(ctx context.Context, taskID uuid.UUID) (*domain.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, reminder := range m.reminders {
		if reminder.TaskID == taskID && reminder.Status == domain.ReminderStatusScheduled {
			clone := *reminder
			return &clone, nil
		}
	}

	return nil, store.ErrReminderNotFound
}

// ListScheduled implements store.ReminderStore.ListScheduled
func (m *MockReminderStore) ListScheduled(ctx context.Context) ([]*domain.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var scheduled []*domain.Reminder
	for _, reminder := range m.reminders {
		if reminder.Status == domain.ReminderStatusScheduled {
			clone := *reminder
			scheduled = append(scheduled, &clone)
		}
	}

	sort.Slice(scheduled, func(i, j int) bool {
		return scheduled[i].RemindAt.Before(scheduled[j].RemindAt)
	})

	return scheduled, nil
}

// UpdateStatusIf implements store.ReminderStore.UpdateStatusIf
func (m *MockReminderStore) UpdateStatusIf(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.ReminderStatus,
) (bool, error) {
	if m.UpdateStatusIfFn != nil {
		return m.UpdateStatusIfFn(ctx, id, from, to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	reminder, ok := m.reminders[id]
	if !ok || reminder.Status != from {
		return false, nil
	}

	reminder.Status = to
	reminder.UpdatedAt = time.Now().UTC()
	return true, nil
}

// WithTx implements store.ReminderStore.WithTx
func (m *MockReminderStore) WithTx(tx *sql.Tx) store.ReminderStore {
	return m
}

// MockOutboxStore implements store.OutboxStore for testing.
type MockOutboxStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*store.OutboxEntry

	EnqueueFn       func(ctx context.Context, entry *store.OutboxEntry) error
	MarkPublishedFn func(ctx context.Context, id uuid.UUID) error
}

// NewMockOutboxStore creates an empty in-memory outbox store.
func NewMockOutboxStore() *MockOutboxStore {
	return &MockOutboxStore{
		entries: make(map[uuid.UUID]*store.OutboxEntry),
	}
}

var _ store.OutboxStore = (*MockOutboxStore)(nil)

// Enqueue implements store.OutboxStore.Enqueue
func (m *MockOutboxStore) Enqueue(ctx context.Context, entry *store.OutboxEntry) error {
	if m.EnqueueFn != nil {
		return m.EnqueueFn(ctx, entry)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *entry
	m.entries[entry.ID] = &clone
	return nil
}

// ListPending implements store.OutboxStore.ListPending
func (m *MockOutboxStore) ListPending(ctx context.Context, limit int) ([]*store.OutboxEntry, error) {
	return m.listByStatus(store.OutboxStatusPending, limit)
}

// ListDead implements store.OutboxStore.ListDead
func (m *MockOutboxStore) ListDead(ctx context.Context, limit int) ([]*store.OutboxEntry, error) {
	return m.listByStatus(store.OutboxStatusDead, limit)
}

func (m *MockOutboxStore) listByStatus(status store.OutboxStatus, limit int) ([]*store.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []*store.OutboxEntry
	for _, entry := range m.entries {
		if entry.Status == status {
			clone := *entry
			entries = append(entries, &clone)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TaskID != entries[j].TaskID {
			return entries[i].TaskID.String() < entries[j].TaskID.String()
		}
		return entries[i].SequenceID < entries[j].SequenceID
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

// MarkPublished implements store.OutboxStore.MarkPublished
func (m *MockOutboxStore) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFn != nil {
		return m.MarkPublishedFn(ctx, id)
	}
	return m.setStatus(id, store.OutboxStatusPublished, -1, "")
}

// MarkFailed implements store.OutboxStore.MarkFailed
func (m *MockOutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	return m.setStatus(id, store.OutboxStatusPending, attempts, lastError)
}

// MarkDead implements store.OutboxStore.MarkDead
func (m *MockOutboxStore) MarkDead(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	return m.setStatus(id, store.OutboxStatusDead, attempts, lastError)
}

func (m *MockOutboxStore) setStatus(id uuid.UUID, status store.OutboxStatus, attempts int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return store.ErrOutboxEntryNotFound
	}

	entry.Status = status
	if attempts >= 0 {
		entry.Attempts = attempts
	}
	entry.LastError = lastError
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

// WithTx implements store.OutboxStore.WithTx
func (m *MockOutboxStore) WithTx(tx *sql.Tx) store.OutboxStore {
	return m
}

// MockAuditStore implements store.AuditStore for testing.
type MockAuditStore struct {
	mu      sync.Mutex
	records map[auditKey]*domain.AuditRecord

	UpsertFn func(ctx context.Context, record *domain.AuditRecord) error
}

type auditKey struct {
	taskID     uuid.UUID
	sequenceID int64
}

// NewMockAuditStore creates an empty in-memory audit store.
func NewMockAuditStore() *MockAuditStore {
	return &MockAuditStore{
		records: make(map[auditKey]*domain.AuditRecord),
	}
}

var _ store.AuditStore = (*MockAuditStore)(nil)

// Upsert implements store.AuditStore.Upsert
func (m *MockAuditStore) Upsert(ctx context.Context, record *domain.AuditRecord) error {
	if m.UpsertFn != nil {
		return m.UpsertFn(ctx, record)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *record
	m.records[auditKey{record.TaskID, record.SequenceID}] = &clone
	return nil
}

// History implements store.AuditStore.History
func (m *MockAuditStore) History(ctx context.Context, taskID uuid.UUID) ([]*domain.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var history []*domain.AuditRecord
	for _, record := range m.records {
		if record.TaskID == taskID {
			clone := *record
			history = append(history, &clone)
		}
	}

	sort.Slice(history, func(i, j int) bool {
		return history[i].SequenceID < history[j].SequenceID
	})

	return history, nil
}

// Activity implements store.AuditStore.Activity
func (m *MockAuditStore) Activity(
	ctx context.Context,
	ownerID string,
	page, pageSize int,
) ([]*domain.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var activity []*domain.AuditRecord
	for _, record := range m.records {
		if record.OwnerID == ownerID {
			clone := *record
			activity = append(activity, &clone)
		}
	}

	sort.Slice(activity, func(i, j int) bool {
		return activity[i].OccurredAt.After(activity[j].OccurredAt)
	})

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	start := (page - 1) * pageSize
	if start >= len(activity) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(activity) {
		end = len(activity)
	}

	return activity[start:end], nil
}

// PruneBefore implements store.AuditStore.PruneBefore
func (m *MockAuditStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, record := range m.records {
		if record.OccurredAt.Before(cutoff) {
			delete(m.records, key)
			removed++
		}
	}

	return removed, nil
}
