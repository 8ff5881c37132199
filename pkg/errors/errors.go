// Package errors 提供统一的错误处理框架
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code 错误码
type Code string

const (
	// 通用错误码
	CodeUnknown       Code = "UNKNOWN"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeTimeout       Code = "TIMEOUT"
	CodeRateLimited   Code = "RATE_LIMITED"

	// 覆盖引擎相关
	CodeScheduleConflict     Code = "SCHEDULE_CONFLICT"
	CodeInvalidTimeRange     Code = "INVALID_TIME_RANGE"
	CodeNoCandidateAvailable Code = "NO_CANDIDATE_AVAILABLE"
	CodePartialBatchFailure  Code = "PARTIAL_BATCH_FAILURE"
	CodeBlockNotAssignable   Code = "BLOCK_NOT_ASSIGNABLE"

	// 数据相关
	CodeDatabaseError  Code = "DATABASE_ERROR"
	CodeValidationFail Code = "VALIDATION_FAILED"
)

// AppError 应用错误
type AppError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Cause      error                  `json:"-"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加详细信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause 添加原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithField 添加字段
func (e *AppError) WithField(key string, value interface{}) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// New 创建新错误
func New(code Code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code Code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// codeToHTTPStatus 错误码转HTTP状态码
func codeToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeValidationFail, CodeInvalidTimeRange:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeScheduleConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeNoCandidateAvailable, CodeBlockNotAssignable:
		return http.StatusUnprocessableEntity
	case CodePartialBatchFailure:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// Is 检查错误是否为特定类型
func Is(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetCode 获取错误码
func GetCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetHTTPStatus 获取HTTP状态码
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// 预定义错误
var (
	ErrNotFound     = New(CodeNotFound, "资源不存在")
	ErrInvalidInput = New(CodeInvalidInput, "输入参数无效")
	ErrUnauthorized = New(CodeUnauthorized, "未授权访问")
	ErrForbidden    = New(CodeForbidden, "禁止访问")
	ErrInternal     = New(CodeInternal, "内部错误")
	ErrTimeout      = New(CodeTimeout, "操作超时")
)

// InvalidInput 创建输入无效错误
func InvalidInput(field, reason string) *AppError {
	return New(CodeInvalidInput, fmt.Sprintf("字段 '%s' 无效: %s", field, reason))
}

// NotFound 创建资源不存在错误
func NotFound(resource, id string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s '%s' 不存在", resource, id))
}

// Forbidden 创建缺少权限错误
func Forbidden(capability string) *AppError {
	return New(CodeForbidden, fmt.Sprintf("缺少权限 '%s'", capability)).WithField("capability", capability)
}

// InvalidTimeRange 创建时间范围无效错误
func InvalidTimeRange(details string) *AppError {
	return New(CodeInvalidTimeRange, "时间范围无效").WithDetails(details)
}

// ConflictRef 冲突分配的引用
type ConflictRef struct {
	AssignmentID string    `json:"assignment_id"`
	StaffID      string    `json:"staff_id"`
	Date         string    `json:"date"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// ScheduleConflict 创建排班冲突错误，附带冲突的分配
func ScheduleConflict(staffID, date string, conflicts ...ConflictRef) *AppError {
	msg := fmt.Sprintf("员工 %s 在 %s 存在排班冲突", staffID, date)
	if len(conflicts) > 0 {
		msg = fmt.Sprintf("%s: 与分配 %s 重叠", msg, conflicts[0].AssignmentID)
	}
	return New(CodeScheduleConflict, msg).WithField("conflicts", conflicts)
}

// Conflicts 取出冲突错误携带的分配引用
func Conflicts(err error) []ConflictRef {
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Fields == nil {
		return nil
	}
	refs, _ := appErr.Fields["conflicts"].([]ConflictRef)
	return refs
}

// NoCandidateAvailable 创建无可用员工错误
func NoCandidateAvailable(blockID, reason string) *AppError {
	return New(CodeNoCandidateAvailable, reason).WithField("time_block_id", blockID)
}

// PartialBatchFailure 创建批处理部分失败错误
func PartialBatchFailure(successful, failed int) *AppError {
	return New(CodePartialBatchFailure, fmt.Sprintf("批处理部分失败: 成功 %d, 失败 %d", successful, failed)).
		WithField("successful", successful).
		WithField("failed", failed)
}

// ValidationErrors 验证错误集合
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// ValidationError 单个验证错误
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error 实现 error 接口
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return "验证失败"
	}
	return fmt.Sprintf("验证失败: %s - %s", ve.Errors[0].Field, ve.Errors[0].Message)
}

// Add 添加验证错误
func (ve *ValidationErrors) Add(field, message string) {
	ve.Errors = append(ve.Errors, ValidationError{Field: field, Message: message})
}

// HasErrors 检查是否有错误
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// ToAppError 转换为 AppError
func (ve *ValidationErrors) ToAppError() *AppError {
	err := New(CodeValidationFail, "验证失败")
	err.Fields = make(map[string]interface{})
	for _, e := range ve.Errors {
		err.Fields[e.Field] = e.Message
	}
	return err
}
