package model

import (
	"time"
)

// AssignmentStatus 分配状态
type AssignmentStatus string

const (
	AssignmentAssigned   AssignmentStatus = "assigned"
	AssignmentConfirmed  AssignmentStatus = "confirmed"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentCancelled  AssignmentStatus = "cancelled"
)

// AssignmentMethod 分配方式
type AssignmentMethod string

const (
	MethodManual AssignmentMethod = "manual"
	MethodAuto   AssignmentMethod = "auto"
)

// Assignment 员工对时间块（或其一部分）的分配
type Assignment struct {
	BaseModel
	StaffID         string           `json:"staff_id" db:"staff_id"`
	TimeBlockID     string           `json:"time_block_id,omitempty" db:"time_block_id"`
	PatientID       string           `json:"patient_id" db:"patient_id"`
	Date            string           `json:"date" db:"date"`
	StartTime       time.Time        `json:"start_time" db:"start_time"`
	EndTime         time.Time        `json:"end_time" db:"end_time"`
	Status          AssignmentStatus `json:"status" db:"status"`
	Method          AssignmentMethod `json:"method" db:"method"`
	ConfidenceScore float64          `json:"confidence_score" db:"confidence_score"`
	Notes           string           `json:"notes,omitempty" db:"notes"`
}

// Range 返回分配的时间范围
func (a *Assignment) Range() TimeRange {
	return TimeRange{Start: a.StartTime, End: a.EndTime}
}

// Minutes 分配时长（分钟）
func (a *Assignment) Minutes() int {
	return a.Range().Minutes()
}

// IsActive 未取消的分配都占用员工时间
func (a *Assignment) IsActive() bool {
	return a.Status != AssignmentCancelled
}

// IsOnDate 检查是否在指定日期
func (a *Assignment) IsOnDate(date string) bool {
	return a.Date == date
}

// Reassignable 强制重排时可被撤销的分配（员工尚未确认）
func (a *Assignment) Reassignable() bool {
	return a.Status == AssignmentAssigned
}
