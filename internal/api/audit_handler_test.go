package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpulse/taskpulse/internal/domain"
)

func auditRecord(taskID uuid.UUID, seq int64, eventType domain.EventType) *domain.AuditRecord {
	now := time.Now().UTC()
	return &domain.AuditRecord{
		TaskID:     taskID,
		OwnerID:    "user-1",
		SequenceID: seq,
		EventType:  eventType,
		Task:       domain.TaskSnapshot{Title: "Ship release"},
		OccurredAt: now,
		RecordedAt: now,
	}
}

func TestAuditHandler_History(t *testing.T) {
	t.Parallel()

	t.Run("returns history in sequence order", func(t *testing.T) {
		t.Parallel()

		taskID := uuid.New()
		audit := &fakeAuditReader{
			historyFn: func(_ context.Context, gotID uuid.UUID) ([]*domain.AuditRecord, error) {
				require.Equal(t, taskID, gotID)
				return []*domain.AuditRecord{
					auditRecord(taskID, 1, domain.EventTaskCreated),
					auditRecord(taskID, 2, domain.EventTaskCompleted),
				}, nil
			},
		}
		router := newTestRouter(t, &fakeTaskService{}, audit)

		rec := doRequest(t, router, http.MethodGet, "/tasks/"+taskID.String()+"/history", "user-1", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp AuditListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Records, 2)
		assert.Equal(t, int64(1), resp.Records[0].SequenceID)
		assert.Equal(t, string(domain.EventTaskCompleted), resp.Records[1].EventType)
	})

	t.Run("malformed task id returns 400", func(t *testing.T) {
		t.Parallel()

		router := newTestRouter(t, &fakeTaskService{}, nil)

		rec := doRequest(t, router, http.MethodGet, "/tasks/nope/history", "user-1", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuditHandler_Activity(t *testing.T) {
	t.Parallel()

	t.Run("passes paging through", func(t *testing.T) {
		t.Parallel()

		var gotPage, gotSize int
		audit := &fakeAuditReader{
			activityFn: func(_ context.Context, ownerID string, page, pageSize int) ([]*domain.AuditRecord, error) {
				require.Equal(t, "user-1", ownerID)
				gotPage, gotSize = page, pageSize
				return []*domain.AuditRecord{auditRecord(uuid.New(), 3, domain.EventTaskUpdated)}, nil
			},
		}
		router := newTestRouter(t, &fakeTaskService{}, audit)

		rec := doRequest(t, router, http.MethodGet, "/activity?page=3&page_size=20", "user-1", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 3, gotPage)
		assert.Equal(t, 20, gotSize)
	})

	t.Run("requires identity", func(t *testing.T) {
		t.Parallel()

		router := newTestRouter(t, &fakeTaskService{}, nil)

		rec := doRequest(t, router, http.MethodGet, "/activity", "", nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
