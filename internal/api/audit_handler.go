package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/taskpulse/taskpulse/internal/api/shared"
	"github.com/taskpulse/taskpulse/internal/domain"
)

// AuditReader defines the audit queries the HTTP layer depends on.
// Implemented by audit.Log.
//
// Version: 1.0
type AuditReader interface {
	History(ctx context.Context, taskID uuid.UUID) ([]*domain.AuditRecord, error)
	Activity(ctx context.Context, ownerID string, page, pageSize int) ([]*domain.AuditRecord, error)
}

// AuditHandler serves the audit log read endpoints.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	if audit == nil {
		panic("audit reader cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &AuditHandler{
		audit:  audit,
		logger: logger.With(slog.String("component", "audit_handler")),
	}
}

// History handles GET /tasks/{id}/history, returning the task's event
// history in sequence order.
func (h *AuditHandler) History(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	records, err := h.audit.History(r.Context(), taskID)
	if err != nil {
		h.logger.Error("failed to load task history",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()))
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, toAuditList(records))
}

// Activity handles GET /activity, returning the owner's recent activity
// most recent first.
func (h *AuditHandler) Activity(w http.ResponseWriter, r *http.Request) {
	ownerID := shared.GetOwnerID(r.Context())

	q := r.URL.Query()
	page, err := parsePositiveInt(q.Get("page"), 1)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid page")
		return
	}
	pageSize, err := parsePositiveInt(q.Get("page_size"), 50)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid page_size")
		return
	}
	pageSize = clampPageSize(pageSize)

	records, err := h.audit.Activity(r.Context(), ownerID, page, pageSize)
	if err != nil {
		h.logger.Error("failed to load activity",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID))
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, toAuditList(records))
}

func toAuditList(records []*domain.AuditRecord) AuditListResponse {
	resp := AuditListResponse{Records: make([]AuditRecordResponse, 0, len(records))}
	for _, record := range records {
		resp.Records = append(resp.Records, toAuditResponse(record))
	}
	return resp
}
