// Package api exposes the HTTP surface: task CRUD, completion, audit
// queries and health. Handlers translate between wire payloads and the
// coordinator, and map service errors to status codes.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/taskpulse/taskpulse/internal/api/shared"
	"github.com/taskpulse/taskpulse/internal/domain"
	"github.com/taskpulse/taskpulse/internal/service"
	"github.com/taskpulse/taskpulse/internal/store"
)

// TaskService defines the task operations the HTTP layer depends on.
// Implemented by service.TaskCoordinator.
//
// Version: 1.0
type TaskService interface {
	Create(ctx context.Context, ownerID string, input service.TaskInput) (*domain.Task, error)
	Get(ctx context.Context, ownerID string, taskID uuid.UUID) (*domain.Task, error)
	List(ctx context.Context, ownerID string, filter store.TaskFilter) ([]*domain.Task, error)
	Update(ctx context.Context, ownerID string, taskID uuid.UUID, input service.TaskInput) (*domain.Task, error)
	Complete(ctx context.Context, ownerID string, taskID uuid.UUID) (*domain.Task, error)
	Delete(ctx context.Context, ownerID string, taskID uuid.UUID) error
}

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	service  TaskService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(svc TaskService, logger *slog.Logger) *TaskHandler {
	if svc == nil {
		panic("task service cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &TaskHandler{
		service:  svc,
		validate: validator.New(),
		logger:   logger.With(slog.String("component", "task_handler")),
	}
}

// Create handles POST /tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID := shared.GetOwnerID(r.Context())

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	task, err := h.service.Create(r.Context(), ownerID, service.TaskInput{
		Title:       req.Title,
		Description: req.Description,
		DueAt:       req.DueAt,
		Priority:    domain.Priority(req.Priority),
		Tags:        req.Tags,
		Recurrence:  toRecurrence(req.Recurrence),
	})
	if err != nil {
		h.respondError(w, r, err, "failed to create task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, toTaskResponse(task))
}

// Get handles GET /tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID := shared.GetOwnerID(r.Context())

	taskID, ok := h.taskIDParam(w, r)
	if !ok {
		return
	}

	task, err := h.service.Get(r.Context(), ownerID, taskID)
	if err != nil {
		h.respondError(w, r, err, "failed to get task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, toTaskResponse(task))
}

// List handles GET /tasks with optional filter query parameters.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID := shared.GetOwnerID(r.Context())

	filter, err := parseTaskFilter(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid filter: "+err.Error())
		return
	}

	tasks, err := h.service.List(r.Context(), ownerID, filter)
	if err != nil {
		h.respondError(w, r, err, "failed to list tasks")
		return
	}

	resp := TaskListResponse{
		Tasks:    make([]TaskResponse, 0, len(tasks)),
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, toTaskResponse(task))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Update handles PUT /tasks/{id}.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	ownerID := shared.GetOwnerID(r.Context())

	taskID, ok := h.taskIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	task, err := h.service.Update(r.Context(), ownerID, taskID, service.TaskInput{
		Title:       req.Title,
		Description: req.Description,
		DueAt:       req.DueAt,
		Priority:    domain.Priority(req.Priority),
		Tags:        req.Tags,
		Recurrence:  toRecurrence(req.Recurrence),
	})
	if err != nil {
		h.respondError(w, r, err, "failed to update task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, toTaskResponse(task))
}

// Complete handles POST /tasks/{id}/complete. Completing an already
// completed task is a no-op and returns the task unchanged.
func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	ownerID := shared.GetOwnerID(r.Context())

	taskID, ok := h.taskIDParam(w, r)
	if !ok {
		return
	}

	task, err := h.service.Complete(r.Context(), ownerID, taskID)
	if err != nil {
		h.respondError(w, r, err, "failed to complete task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, toTaskResponse(task))
}

// Delete handles DELETE /tasks/{id}.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID := shared.GetOwnerID(r.Context())

	taskID, ok := h.taskIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), ownerID, taskID); err != nil {
		h.respondError(w, r, err, "failed to delete task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// taskIDParam parses the {id} URL parameter. On failure it writes a 400
// response and returns ok=false.
func (h *TaskHandler) taskIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return taskID, true
}

func (h *TaskHandler) respondError(w http.ResponseWriter, r *http.Request, err error, logMsg string) {
	status := MapErrorToStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(logMsg,
			slog.String("error", err.Error()),
			slog.String("trace_id", shared.GetTraceID(r.Context())))
	} else {
		h.logger.Debug(logMsg,
			slog.String("error", err.Error()),
			slog.Int("status", status))
	}
	shared.RespondWithError(w, r, status, GetSafeErrorMessage(err))
}

func parseTaskFilter(r *http.Request) (store.TaskFilter, error) {
	q := r.URL.Query()
	filter := store.TaskFilter{Search: q.Get("search")}

	if v := q.Get("status"); v != "" {
		status := domain.TaskStatus(v)
		if !status.Valid() {
			return filter, domain.ErrInvalidTaskStatus
		}
		filter.Status = &status
	}
	if v := q.Get("priority"); v != "" {
		priority := domain.Priority(v)
		if !priority.Valid() {
			return filter, domain.ErrInvalidPriority
		}
		filter.Priority = &priority
	}
	if v := q.Get("due_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.DueFrom = &t
	}
	if v := q.Get("due_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.DueTo = &t
	}
	var err error
	if filter.Page, err = parsePositiveInt(q.Get("page"), 1); err != nil {
		return filter, err
	}
	if filter.PageSize, err = parsePositiveInt(q.Get("page_size"), 50); err != nil {
		return filter, err
	}
	filter.PageSize = clampPageSize(filter.PageSize)
	return filter, nil
}

// maxPageSize caps page_size on list endpoints.
const maxPageSize = 100

func parsePositiveInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

func clampPageSize(n int) int {
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}
