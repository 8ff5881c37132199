package model

import (
	"time"
)

// AlertLevel 覆盖告警级别
type AlertLevel string

const (
	AlertNone     AlertLevel = "none"
	AlertLow      AlertLevel = "low"
	AlertMedium   AlertLevel = "medium"
	AlertHigh     AlertLevel = "high"
	AlertCritical AlertLevel = "critical"
)

// Severity 告警严重度，越大越严重
func (l AlertLevel) Severity() int {
	switch l {
	case AlertCritical:
		return 4
	case AlertHigh:
		return 3
	case AlertMedium:
		return 2
	case AlertLow:
		return 1
	default:
		return 0
	}
}

// GapType 缺口类型
type GapType string

const (
	GapUncovered GapType = "uncovered" // 时间块没有任何分配
	GapPartial   GapType = "partial"   // 已有分配之间或两端的空档
)

// Gap 时间块中未被覆盖的子区间（临时计算结果）
type Gap struct {
	TimeBlockID     string    `json:"time_block_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Type            GapType   `json:"type"`
}

// Range 返回缺口的时间范围
func (g Gap) Range() TimeRange {
	return TimeRange{Start: g.StartTime, End: g.EndTime}
}

// CoverageRecord 患者某日的覆盖汇总
type CoverageRecord struct {
	PatientID            string     `json:"patient_id" db:"patient_id"`
	Date                 string     `json:"date" db:"date"`
	LocationID           string     `json:"location_id" db:"location_id"`
	BlockCount           int        `json:"block_count" db:"block_count"`
	TotalRequiredMinutes int        `json:"total_required_minutes" db:"total_required_minutes"`
	CoveredMinutes       int        `json:"covered_minutes" db:"covered_minutes"`
	CoveragePercentage   float64    `json:"coverage_percentage" db:"coverage_percentage"`
	GapCount             int        `json:"gap_count" db:"gap_count"`
	TotalGapMinutes      int        `json:"total_gap_minutes" db:"total_gap_minutes"`
	AlertLevel           AlertLevel `json:"alert_level" db:"alert_level"`
	RequiresAttention    bool       `json:"requires_attention" db:"requires_attention"`
	Recommendations      []string   `json:"recommendations,omitempty" db:"recommendations"`
	GeneratedAt          time.Time  `json:"generated_at" db:"generated_at"`
}
