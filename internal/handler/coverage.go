package handler

import (
	"net/http"
	"time"

	"github.com/paiban/carecover/internal/service"
	"github.com/paiban/carecover/pkg/careplan"
	"github.com/paiban/carecover/pkg/dispatcher"
	"github.com/paiban/carecover/pkg/model"
)

// DetectGaps GET /api/v1/patients/{patientID}/gaps
func (h *CoverageHandler) DetectGaps(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	dr, err := queryRange(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	report, err := h.svc.DetectGaps(r.Context(), c, r.PathValue("patientID"), dr)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Data: report})
}

// AutoAssignRequest 批量自动分配请求体
type AutoAssignRequest struct {
	StartDate           string `json:"start_date"`
	EndDate             string `json:"end_date"`
	ForceReassign       bool   `json:"force_reassign"`
	PrioritizePreferred bool   `json:"prioritize_preferred"`
}

// AutoAssign POST /api/v1/patients/{patientID}/auto-assign
func (h *CoverageHandler) AutoAssign(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req AutoAssignRequest
	if err := decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	result, err := h.svc.AutoAssign(r.Context(), c, service.AutoAssignRequest{
		PatientID:           r.PathValue("patientID"),
		DateRange:           model.DateRange{StartDate: req.StartDate, EndDate: req.EndDate},
		ForceReassign:       req.ForceReassign,
		PrioritizePreferred: req.PrioritizePreferred,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondBatch(w, result)
}

// DateRangeRequest 日期范围请求体
type DateRangeRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// AutoResolve POST /api/v1/patients/{patientID}/auto-resolve
func (h *CoverageHandler) AutoResolve(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req DateRangeRequest
	if err := decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	result, err := h.svc.AutoResolve(r.Context(), c, r.PathValue("patientID"),
		model.DateRange{StartDate: req.StartDate, EndDate: req.EndDate})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondBatch(w, result)
}

// respondBatch 有失败项时返回 207
func respondBatch(w http.ResponseWriter, result *dispatcher.BatchResult) {
	status := http.StatusOK
	if result.Err() != nil {
		status = http.StatusMultiStatus
	}
	respondJSON(w, status, Response{Success: result.Failed == 0, Data: result})
}

// ResolveOptions GET /api/v1/blocks/{blockID}/options
func (h *CoverageHandler) ResolveOptions(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	opts, err := h.svc.ResolveOptions(r.Context(), c, r.PathValue("blockID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Data: opts})
}

// TimeRangeRequest 起止时间请求体
type TimeRangeRequest struct {
	StaffID string    `json:"staff_id,omitempty"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// ManualAssign POST /api/v1/blocks/{blockID}/assignments
func (h *CoverageHandler) ManualAssign(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req TimeRangeRequest
	if err := decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	a, err := h.svc.ManualAssign(r.Context(), c, r.PathValue("blockID"), req.StaffID,
		model.TimeRange{Start: req.Start, End: req.End})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, Response{Success: true, Data: a})
}

// UpdateAssignmentTime PATCH /api/v1/assignments/{assignmentID}
func (h *CoverageHandler) UpdateAssignmentTime(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req TimeRangeRequest
	if err := decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	a, err := h.svc.UpdateAssignmentTime(r.Context(), c, r.PathValue("assignmentID"),
		model.TimeRange{Start: req.Start, End: req.End})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Data: a})
}

// CancelAssignment DELETE /api/v1/assignments/{assignmentID}
func (h *CoverageHandler) CancelAssignment(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	a, err := h.svc.CancelAssignment(r.Context(), c, r.PathValue("assignmentID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Data: a})
}

// CreateTimeBlock POST /api/v1/blocks
func (h *CoverageHandler) CreateTimeBlock(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var b model.TimeBlock
	if err := decode(w, r, &b); err != nil {
		h.respondError(w, r, err)
		return
	}

	created, err := h.svc.CreateTimeBlock(r.Context(), c, &b)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, Response{Success: true, Data: created})
}

// CancelTimeBlock DELETE /api/v1/blocks/{blockID}
func (h *CoverageHandler) CancelTimeBlock(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	b, err := h.svc.CancelTimeBlock(r.Context(), c, r.PathValue("blockID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Data: b})
}

// ExpandTemplateRequest 模板展开请求体
type ExpandTemplateRequest struct {
	Template  careplan.Template `json:"template"`
	StartDate string            `json:"start_date"`
	EndDate   string            `json:"end_date"`
}

// ExpandTemplate POST /api/v1/templates/expand
func (h *CoverageHandler) ExpandTemplate(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req ExpandTemplateRequest
	if err := decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	blocks, err := h.svc.ExpandTemplate(r.Context(), c, &req.Template,
		model.DateRange{StartDate: req.StartDate, EndDate: req.EndDate})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, Response{Success: true, Data: blocks})
}

// LocationReport GET /api/v1/locations/{locationID}/report，format=xlsx 时导出表格
func (h *CoverageHandler) LocationReport(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	dr, err := queryRange(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	locationID := r.PathValue("locationID")

	if r.URL.Query().Get("format") == "xlsx" {
		data, err := h.svc.ExportLocationReport(r.Context(), c, locationID, dr)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		filename := "coverage_" + locationID + "_" + dr.StartDate + "_" + dr.EndDate + ".xlsx"
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}

	rep, err := h.svc.LocationReport(r.Context(), c, locationID, dr)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Data: rep})
}

// RecomputeLocation POST /api/v1/locations/{locationID}/recompute，入队时返回 202
func (h *CoverageHandler) RecomputeLocation(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req DateRangeRequest
	if err := decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	result, err := h.svc.RequestLocationRecompute(r.Context(), c, r.PathValue("locationID"),
		model.DateRange{StartDate: req.StartDate, EndDate: req.EndDate})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	respondJSON(w, status, Response{Success: true, Data: result})
}
