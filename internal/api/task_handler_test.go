package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpulse/taskpulse/internal/domain"
	"github.com/taskpulse/taskpulse/internal/service"
	"github.com/taskpulse/taskpulse/internal/store"
)

type fakeTaskService struct {
	createFn   func(ctx context.Context, ownerID string, input service.TaskInput) (*domain.Task, error)
	getFn      func(ctx context.Context, ownerID string, taskID uuid.UUID) (*domain.Task, error)
	listFn     func(ctx context.Context, ownerID string, filter store.TaskFilter) ([]*domain.Task, error)
	updateFn   func(ctx context.Context, ownerID string, taskID uuid.UUID, input service.TaskInput) (*domain.Task, error)
	completeFn func(ctx context.Context, ownerID string, taskID uuid.UUID) (*domain.Task, error)
	deleteFn   func(ctx context.Context, ownerID string, taskID uuid.UUID) error
}

func (f *fakeTaskService) Create(ctx context.Context, ownerID string, input service.TaskInput) (*domain.Task, error) {
	return f.createFn(ctx, ownerID, input)
}

func (f *fakeTaskService) Get(ctx context.Context, ownerID string, taskID uuid.UUID) (*domain.Task, error) {
	return f.getFn(ctx, ownerID, taskID)
}

func (f *fakeTaskService) List(ctx context.Context, ownerID string, filter store.TaskFilter) ([]*domain.Task, error) {
	return f.listFn(ctx, ownerID, filter)
}

func (f *fakeTaskService) Update(ctx context.Context, ownerID string, taskID uuid.UUID, input service.TaskInput) (*domain.Task, error) {
	return f.updateFn(ctx, ownerID, taskID, input)
}

func (f *fakeTaskService) Complete(ctx context.Context, ownerID string, taskID uuid.UUID) (*domain.Task, error) {
	return f.completeFn(ctx, ownerID, taskID)
}

func (f *fakeTaskService) Delete(ctx context.Context, ownerID string, taskID uuid.UUID) error {
	return f.deleteFn(ctx, ownerID, taskID)
}

type fakeAuditReader struct {
	historyFn  func(ctx context.Context, taskID uuid.UUID) ([]*domain.AuditRecord, error)
	activityFn func(ctx context.Context, ownerID string, page, pageSize int) ([]*domain.AuditRecord, error)
}

func (f *fakeAuditReader) History(ctx context.Context, taskID uuid.UUID) ([]*domain.AuditRecord, error) {
	return f.historyFn(ctx, taskID)
}

func (f *fakeAuditReader) Activity(ctx context.Context, ownerID string, page, pageSize int) ([]*domain.AuditRecord, error) {
	return f.activityFn(ctx, ownerID, page, pageSize)
}

type alwaysHealthy struct{}

func (alwaysHealthy) PingContext(context.Context) error { return nil }

func newTestRouter(t *testing.T, svc TaskService, audit AuditReader) http.Handler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if audit == nil {
		audit = &fakeAuditReader{
			historyFn: func(context.Context, uuid.UUID) ([]*domain.AuditRecord, error) {
				return nil, nil
			},
			activityFn: func(context.Context, string, int, int) ([]*domain.AuditRecord, error) {
				return nil, nil
			},
		}
	}
	return NewRouter(RouterDeps{
		Tasks:  NewTaskHandler(svc, logger),
		Audit:  NewAuditHandler(audit, logger),
		Health: NewHealthHandler(alwaysHealthy{}, logger),
	})
}

func doRequest(t *testing.T, router http.Handler, method, path, ownerID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if ownerID != "" {
		req.Header.Set("X-User-ID", ownerID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func sampleTask(t *testing.T, ownerID string) *domain.Task {
	t.Helper()

	due := time.Now().UTC().Add(24 * time.Hour)
	task, err := domain.NewTask(ownerID, "Ship release", "", &due, domain.PriorityHigh, nil, nil)
	require.NoError(t, err)
	return task
}

func TestTaskHandler_Create(t *testing.T) {
	t.Parallel()

	t.Run("creates task and returns 201", func(t *testing.T) {
		t.Parallel()

		var gotOwner string
		var gotInput service.TaskInput
		svc := &fakeTaskService{
			createFn: func(_ context.Context, ownerID string, input service.TaskInput) (*domain.Task, error) {
				gotOwner = ownerID
				gotInput = input
				return sampleTask(t, ownerID), nil
			},
		}
		router := newTestRouter(t, svc, nil)

		due := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
		rec := doRequest(t, router, http.MethodPost, "/tasks", "user-1", CreateTaskRequest{
			Title:    "Ship release",
			DueAt:    &due,
			Priority: "high",
			Tags:     []string{"work"},
			Recurrence: &RecurrencePayload{
				PatternType: "weekly",
				Interval:    1,
			},
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "user-1", gotOwner)
		assert.Equal(t, "Ship release", gotInput.Title)
		require.NotNil(t, gotInput.DueAt)
		assert.True(t, gotInput.DueAt.Equal(due))
		require.NotNil(t, gotInput.Recurrence)
		assert.Equal(t, domain.PatternWeekly, gotInput.Recurrence.PatternType)

		var resp TaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Ship release", resp.Title)
		assert.Equal(t, "pending", resp.Status)
	})

	t.Run("rejects missing identity header", func(t *testing.T) {
		t.Parallel()

		router := newTestRouter(t, &fakeTaskService{}, nil)

		rec := doRequest(t, router, http.MethodPost, "/tasks", "", CreateTaskRequest{Title: "x"})

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		t.Parallel()

		router := newTestRouter(t, &fakeTaskService{}, nil)

		req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader([]byte("{not json")))
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects missing title", func(t *testing.T) {
		t.Parallel()

		router := newTestRouter(t, &fakeTaskService{}, nil)

		rec := doRequest(t, router, http.MethodPost, "/tasks", "user-1", CreateTaskRequest{})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("maps validation error from service to 400", func(t *testing.T) {
		t.Parallel()

		svc := &fakeTaskService{
			createFn: func(context.Context, string, service.TaskInput) (*domain.Task, error) {
				return nil, fmt.Errorf("%w: title too long", domain.ErrValidation)
			},
		}
		router := newTestRouter(t, svc, nil)

		rec := doRequest(t, router, http.MethodPost, "/tasks", "user-1", CreateTaskRequest{Title: "x"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTaskHandler_Get(t *testing.T) {
	t.Parallel()

	t.Run("returns task", func(t *testing.T) {
		t.Parallel()

		task := sampleTask(t, "user-1")
		svc := &fakeTaskService{
			getFn: func(_ context.Context, _ string, taskID uuid.UUID) (*domain.Task, error) {
				require.Equal(t, task.ID, taskID)
				return task, nil
			},
		}
		router := newTestRouter(t, svc, nil)

		rec := doRequest(t, router, http.MethodGet, "/tasks/"+task.ID.String(), "user-1", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp TaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, task.ID, resp.ID)
	})

	t.Run("unknown task returns 404", func(t *testing.T) {
		t.Parallel()

		svc := &fakeTaskService{
			getFn: func(context.Context, string, uuid.UUID) (*domain.Task, error) {
				return nil, store.ErrTaskNotFound
			},
		}
		router := newTestRouter(t, svc, nil)

		rec := doRequest(t, router, http.MethodGet, "/tasks/"+uuid.NewString(), "user-1", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id returns 400", func(t *testing.T) {
		t.Parallel()

		router := newTestRouter(t, &fakeTaskService{}, nil)

		rec := doRequest(t, router, http.MethodGet, "/tasks/not-a-uuid", "user-1", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTaskHandler_List(t *testing.T) {
	t.Parallel()

	t.Run("passes filters through", func(t *testing.T) {
		t.Parallel()

		var gotFilter store.TaskFilter
		svc := &fakeTaskService{
			listFn: func(_ context.Context, _ string, filter store.TaskFilter) ([]*domain.Task, error) {
				gotFilter = filter
				return []*domain.Task{sampleTask(t, "user-1")}, nil
			},
		}
		router := newTestRouter(t, svc, nil)

		rec := doRequest(t, router, http.MethodGet,
			"/tasks?status=pending&priority=high&search=release&page=2&page_size=10", "user-1", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotFilter.Status)
		assert.Equal(t, domain.TaskStatusPending, *gotFilter.Status)
		require.NotNil(t, gotFilter.Priority)
		assert.Equal(t, domain.PriorityHigh, *gotFilter.Priority)
		assert.Equal(t, "release", gotFilter.Search)
		assert.Equal(t, 2, gotFilter.Page)
		assert.Equal(t, 10, gotFilter.PageSize)

		var resp TaskListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Tasks, 1)
		assert.Equal(t, 2, resp.Page)
	})

	t.Run("invalid status returns 400", func(t *testing.T) {
		t.Parallel()

		router := newTestRouter(t, &fakeTaskService{}, nil)

		rec := doRequest(t, router, http.MethodGet, "/tasks?status=archived", "user-1", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTaskHandler_CompleteAndDelete(t *testing.T) {
	t.Parallel()

	t.Run("complete returns completed task", func(t *testing.T) {
		t.Parallel()

		task := sampleTask(t, "user-1")
		task.Complete(time.Now().UTC())
		svc := &fakeTaskService{
			completeFn: func(context.Context, string, uuid.UUID) (*domain.Task, error) {
				return task, nil
			},
		}
		router := newTestRouter(t, svc, nil)

		rec := doRequest(t, router, http.MethodPost, "/tasks/"+task.ID.String()+"/complete", "user-1", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp TaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "completed", resp.Status)
		assert.NotNil(t, resp.CompletedAt)
	})

	t.Run("delete returns 204", func(t *testing.T) {
		t.Parallel()

		var deleted uuid.UUID
		svc := &fakeTaskService{
			deleteFn: func(_ context.Context, _ string, taskID uuid.UUID) error {
				deleted = taskID
				return nil
			},
		}
		router := newTestRouter(t, svc, nil)

		taskID := uuid.New()
		rec := doRequest(t, router, http.MethodDelete, "/tasks/"+taskID.String(), "user-1", nil)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, taskID, deleted)
	})

	t.Run("delete of unknown task returns 404", func(t *testing.T) {
		t.Parallel()

		svc := &fakeTaskService{
			deleteFn: func(context.Context, string, uuid.UUID) error {
				return store.ErrTaskNotFound
			},
		}
		router := newTestRouter(t, svc, nil)

		rec := doRequest(t, router, http.MethodDelete, "/tasks/"+uuid.NewString(), "user-1", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &fakeTaskService{}, nil)

	rec := doRequest(t, router, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
