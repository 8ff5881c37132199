// Package handler 提供API处理器
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/paiban/carecover/internal/middleware"
	"github.com/paiban/carecover/internal/service"
	"github.com/paiban/carecover/pkg/access"
	apperrors "github.com/paiban/carecover/pkg/errors"
	"github.com/paiban/carecover/pkg/logger"
	"github.com/paiban/carecover/pkg/model"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// Response 统一响应
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// CoverageHandler 覆盖服务的HTTP处理器
type CoverageHandler struct {
	svc *service.CoverageService
	log zerolog.Logger
}

// NewCoverageHandler 创建处理器
func NewCoverageHandler(svc *service.CoverageService, log zerolog.Logger) *CoverageHandler {
	return &CoverageHandler{svc: svc, log: log.With().Str("component", "http").Logger()}
}

// Register 注册 /api/v1 路由
func (h *CoverageHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/patients/{patientID}/gaps", h.DetectGaps)
	mux.HandleFunc("POST /api/v1/patients/{patientID}/auto-assign", h.AutoAssign)
	mux.HandleFunc("POST /api/v1/patients/{patientID}/auto-resolve", h.AutoResolve)

	mux.HandleFunc("POST /api/v1/blocks", h.CreateTimeBlock)
	mux.HandleFunc("DELETE /api/v1/blocks/{blockID}", h.CancelTimeBlock)
	mux.HandleFunc("GET /api/v1/blocks/{blockID}/options", h.ResolveOptions)
	mux.HandleFunc("POST /api/v1/blocks/{blockID}/assignments", h.ManualAssign)
	mux.HandleFunc("POST /api/v1/templates/expand", h.ExpandTemplate)

	mux.HandleFunc("PATCH /api/v1/assignments/{assignmentID}", h.UpdateAssignmentTime)
	mux.HandleFunc("DELETE /api/v1/assignments/{assignmentID}", h.CancelAssignment)

	mux.HandleFunc("GET /api/v1/locations/{locationID}/report", h.LocationReport)
	mux.HandleFunc("POST /api/v1/locations/{locationID}/recompute", h.RecomputeLocation)
}

// respondJSON 返回JSON响应
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError 返回错误响应，非 AppError 按内部错误处理
func (h *CoverageHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(err, apperrors.CodeInternal, "内部错误")
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		l := logger.From(r.Context(), h.log)
		l.Error().Err(err).Str("path", r.URL.Path).Msg("请求失败")
	}

	body := map[string]interface{}{
		"error":   true,
		"code":    appErr.Code,
		"message": appErr.Message,
		"details": appErr.Details,
	}
	if len(appErr.Fields) > 0 {
		body["fields"] = appErr.Fields
	}
	respondJSON(w, appErr.HTTPStatus, body)
}

// decode 解析请求体
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidInput, "解析请求失败")
	}
	return nil
}

// caller 由 Caller 中间件写入
func caller(r *http.Request) (access.Caller, error) {
	c, ok := middleware.CallerFrom(r.Context())
	if !ok {
		return access.Caller{}, apperrors.ErrUnauthorized
	}
	return c, nil
}

// queryRange 读取 start_date/end_date，缺省 end_date 等于 start_date
func queryRange(r *http.Request) (model.DateRange, error) {
	q := r.URL.Query()
	dr := model.DateRange{StartDate: q.Get("start_date"), EndDate: q.Get("end_date")}
	if dr.EndDate == "" {
		dr.EndDate = dr.StartDate
	}
	if err := dr.Validate(); err != nil {
		return dr, apperrors.InvalidInput("date_range", err.Error())
	}
	return dr, nil
}
