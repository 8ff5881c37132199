package model

import (
	"time"
)

// BlockStatus 时间块分配状态
type BlockStatus string

const (
	BlockUnassigned BlockStatus = "unassigned"
	BlockPartial    BlockStatus = "partial"
	BlockAssigned   BlockStatus = "assigned"
	BlockCovered    BlockStatus = "covered"
	BlockCancelled  BlockStatus = "cancelled"
	BlockCompleted  BlockStatus = "completed"
)

// DurationTolerance 时长与起止时间的允许误差（分钟）
const DurationTolerance = 1

// TimeBlock 患者某日需要覆盖的时间块
type TimeBlock struct {
	BaseModel
	PatientID       string    `json:"patient_id" db:"patient_id"`
	LocationID      string    `json:"location_id" db:"location_id"`
	TemplateID      string    `json:"template_id,omitempty" db:"template_id"`
	Date            string    `json:"date" db:"date"` // YYYY-MM-DD
	StartTime       time.Time `json:"start_time" db:"start_time"`
	EndTime         time.Time `json:"end_time" db:"end_time"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`
	ServiceType     string    `json:"service_type" db:"service_type"`
	Priority        Priority  `json:"priority" db:"priority"`

	// 分配规则
	CanSplit                 bool     `json:"can_split" db:"can_split"`
	MinimumContinuousMinutes int      `json:"minimum_continuous_minutes" db:"minimum_continuous_minutes"`
	RequiresPrimaryTherapist bool     `json:"requires_primary_therapist" db:"requires_primary_therapist"`
	AllowSubstitutions       bool     `json:"allow_substitutions" db:"allow_substitutions"`
	PreferredStaffIDs        []string `json:"preferred_staff_ids,omitempty" db:"preferred_staff_ids"` // 有序
	ExcludedStaffIDs         []string `json:"excluded_staff_ids,omitempty" db:"excluded_staff_ids"`

	// 派生字段，只由重算写入
	AssignmentStatus   BlockStatus `json:"assignment_status" db:"assignment_status"`
	CoveragePercentage float64     `json:"coverage_percentage" db:"coverage_percentage"`
}

// Range 返回时间块的时间范围
func (b *TimeBlock) Range() TimeRange {
	return TimeRange{Start: b.StartTime, End: b.EndTime}
}

// IsCancelled 时间块是否已取消
func (b *TimeBlock) IsCancelled() bool {
	return b.AssignmentStatus == BlockCancelled
}

// IsExcluded 员工是否被时间块排除
func (b *TimeBlock) IsExcluded(staffID string) bool {
	return containsID(b.ExcludedStaffIDs, staffID)
}

// DurationConsistent 声明时长与起止时间是否一致（允许1分钟误差）
func (b *TimeBlock) DurationConsistent() bool {
	diff := b.Range().Minutes() - b.DurationMinutes
	if diff < 0 {
		diff = -diff
	}
	return diff <= DurationTolerance
}

// DeriveStatus 根据覆盖率推导分配状态，已取消和已完成的保持不变
func (b *TimeBlock) DeriveStatus(coverage float64) BlockStatus {
	switch b.AssignmentStatus {
	case BlockCancelled, BlockCompleted:
		return b.AssignmentStatus
	}
	switch {
	case coverage <= 0:
		return BlockUnassigned
	case coverage < 1:
		return BlockPartial
	default:
		return BlockAssigned
	}
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
