package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/carecover/internal/middleware"
	"github.com/paiban/carecover/internal/repository"
	"github.com/paiban/carecover/internal/service"
	"github.com/paiban/carecover/pkg/logger"
	"github.com/paiban/carecover/pkg/model"
)

var testDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return testDay.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func setupServer(t *testing.T) (http.Handler, *repository.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	require.NoError(t, store.SavePatient(ctx, &model.Patient{ID: "p-1", LocationID: "loc-1", Status: "active"}))
	require.NoError(t, store.SaveStaff(ctx, &model.Staff{ID: "s-1", LocationID: "loc-1", Status: model.StaffActive}))

	for i, id := range []string{"b-1", "b-2", "b-3"} {
		b := &model.TimeBlock{
			BaseModel:          model.BaseModel{ID: id},
			PatientID:          "p-1",
			LocationID:         "loc-1",
			Date:               "2026-03-02",
			StartTime:          at(9+2*i, 0),
			EndTime:            at(10+2*i, 0),
			DurationMinutes:    60,
			Priority:           model.PriorityMedium,
			AllowSubstitutions: true,
			AssignmentStatus:   model.BlockUnassigned,
		}
		if i > 0 {
			b.ExcludedStaffIDs = []string{"s-1"}
		}
		require.NoError(t, store.CreateTimeBlock(ctx, b))
	}

	svc := service.New(service.Deps{Store: store, Logger: logger.Nop()})
	mux := http.NewServeMux()
	NewCoverageHandler(svc, logger.Nop()).Register(mux)
	NewSystemHandler("carecover", BuildInfo{Version: "test"}, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	}).Register(mux)

	return middleware.Chain(mux, middleware.RequestID, middleware.Caller("/health", "/version")), store
}

func do(t *testing.T, h http.Handler, method, path, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if role != "" {
		req.Header.Set(middleware.HeaderCallerID, "u-1")
		req.Header.Set(middleware.HeaderCallerRole, role)
		req.Header.Set(middleware.HeaderCallerLocations, "loc-1")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestDetectGaps(t *testing.T) {
	h, _ := setupServer(t)

	rec := do(t, h, http.MethodGet, "/api/v1/patients/p-1/gaps?start_date=2026-03-02", "therapist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["total_gaps"])
	assert.Equal(t, float64(180), data["total_gap_minutes"])

	rec = do(t, h, http.MethodGet, "/api/v1/patients/p-1/gaps?start_date=2026-03-02", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/patients/p-1/gaps?start_date=bad", "therapist", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/patients/p-404/gaps?start_date=2026-03-02", "therapist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualAssign(t *testing.T) {
	h, _ := setupServer(t)
	body := TimeRangeRequest{StaffID: "s-1", Start: at(9, 0), End: at(10, 0)}

	rec := do(t, h, http.MethodPost, "/api/v1/blocks/b-1/assignments", "scheduler", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "manual", created["method"])

	// 同一员工同一时段再次分配
	rec = do(t, h, http.MethodPost, "/api/v1/blocks/b-1/assignments", "scheduler", body)
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "SCHEDULE_CONFLICT", resp["code"])
	fields := resp["fields"].(map[string]interface{})
	conflicts := fields["conflicts"].([]interface{})
	require.Len(t, conflicts, 1)
	assert.Equal(t, created["id"], conflicts[0].(map[string]interface{})["assignment_id"])

	rec = do(t, h, http.MethodPost, "/api/v1/blocks/b-1/assignments", "therapist", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// 取消后可再次分配
	rec = do(t, h, http.MethodDelete, "/api/v1/assignments/"+created["id"].(string), "scheduler", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/blocks/b-1/assignments", "scheduler", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAutoAssign_MultiStatus(t *testing.T) {
	h, store := setupServer(t)

	rec := do(t, h, http.MethodPost, "/api/v1/patients/p-1/auto-assign", "bcba", AutoAssignRequest{
		StartDate: "2026-03-02",
		EndDate:   "2026-03-02",
	})
	require.Equal(t, http.StatusMultiStatus, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["successful"])
	assert.Equal(t, float64(2), data["failed"])

	list, err := store.ListAssignmentsByPatient(context.Background(), "p-1", model.DateRange{StartDate: "2026-03-02", EndDate: "2026-03-02"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// 未知字段
	rec = do(t, h, http.MethodPost, "/api/v1/patients/p-1/auto-assign", "bcba", map[string]string{"start": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLocationReport_XLSX(t *testing.T) {
	h, _ := setupServer(t)

	rec := do(t, h, http.MethodGet, "/api/v1/locations/loc-1/report?start_date=2026-03-02&format=xlsx", "viewer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "coverage_loc-1_2026-03-02_2026-03-02.xlsx")
	// xlsx 为 zip 格式
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = do(t, h, http.MethodGet, "/api/v1/locations/loc-1/report?start_date=2026-03-02", "viewer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	summary := data["summary"].(map[string]interface{})
	assert.Equal(t, float64(180), summary["total_required_minutes"])
}

func TestTimeBlockEndpoints(t *testing.T) {
	h, _ := setupServer(t)

	rec := do(t, h, http.MethodPost, "/api/v1/blocks", "scheduler", map[string]interface{}{
		"patient_id": "p-1",
		"date":       "2026-03-03",
		"start_time": at(24+9, 0),
		"end_time":   at(24+10, 0),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody(t, rec)["data"].(map[string]interface{})["id"].(string)

	rec = do(t, h, http.MethodGet, "/api/v1/blocks/"+id+"/options", "scheduler", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/v1/blocks/"+id, "scheduler", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decodeBody(t, rec)["data"].(map[string]interface{})["assignment_status"])

	rec = do(t, h, http.MethodPost, "/api/v1/templates/expand", "scheduler", map[string]interface{}{
		"template": map[string]interface{}{
			"patient_id": "p-1",
			"weekdays":   []int{2},
			"start_time": "09:00",
			"end_time":   "11:00",
		},
		"start_date": "2026-03-02",
		"end_date":   "2026-03-08",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, decodeBody(t, rec)["data"].([]interface{}), 1)
}

func TestRecomputeLocation(t *testing.T) {
	h, store := setupServer(t)
	body := DateRangeRequest{StartDate: "2026-03-02", EndDate: "2026-03-02"}

	rec := do(t, h, http.MethodPost, "/api/v1/locations/loc-1/recompute", "scheduler", body)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, false, data["queued"])
	assert.Equal(t, float64(1), data["recomputed"])

	record, err := store.GetCoverageRecord(context.Background(), "p-1", "2026-03-02")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 3, record.BlockCount)

	rec = do(t, h, http.MethodPost, "/api/v1/locations/loc-1/recompute", "therapist", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/locations/loc-1/recompute", "scheduler",
		DateRangeRequest{StartDate: "0001-01-01", EndDate: "9999-12-31"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSystemEndpoints(t *testing.T) {
	h, _ := setupServer(t)

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/version", "", nil)
	assert.Equal(t, "test", decodeBody(t, rec)["version"])

	mux := http.NewServeMux()
	NewSystemHandler("carecover", BuildInfo{}, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}).Register(mux)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	deps := decodeBody(t, rec)["dependencies"].(map[string]interface{})
	assert.Equal(t, "connection refused", deps["redis"])
}
