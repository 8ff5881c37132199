// Package model 定义覆盖引擎的核心数据模型
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateLayout 日期格式
const DateLayout = "2006-01-02"

// BaseModel 基础模型（包含通用字段）
type BaseModel struct {
	ID        string    `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewBaseModel 创建新的基础模型
func NewBaseModel() BaseModel {
	now := time.Now()
	return BaseModel{
		ID:        NewID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewID 生成不透明标识
func NewID() string {
	return uuid.NewString()
}

// Priority 时间块优先级
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank 优先级排序值，越大越紧急
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Valid 是否为已知优先级
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// TimeRange 时间范围（左闭右开）
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeRange 创建按分钟截断的时间范围
func NewTimeRange(start, end time.Time) TimeRange {
	return TimeRange{Start: start.Truncate(time.Minute), End: end.Truncate(time.Minute)}
}

// Duration 返回时间范围的持续时间
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// Minutes 返回分钟数
func (tr TimeRange) Minutes() int {
	return int(tr.Duration() / time.Minute)
}

// IsValid 开始时间早于结束时间
func (tr TimeRange) IsValid() bool {
	return tr.Start.Before(tr.End)
}

// Overlaps 检查两个时间范围是否重叠
func (tr TimeRange) Overlaps(other TimeRange) bool {
	return tr.Start.Before(other.End) && other.Start.Before(tr.End)
}

// Contains 检查时间范围是否包含某个时间点
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && t.Before(tr.End)
}

// Covers 检查是否完整包含另一个范围
func (tr TimeRange) Covers(other TimeRange) bool {
	return !other.Start.Before(tr.Start) && !other.End.After(tr.End)
}

// WithinDate 范围落在指定日期内，结束允许为次日零点
func (tr TimeRange) WithinDate(date string) bool {
	return tr.Start.Format(DateLayout) == date && tr.End.Add(-time.Nanosecond).Format(DateLayout) == date
}

// DateRange 日期范围（含首尾）
type DateRange struct {
	StartDate string `json:"start_date"` // YYYY-MM-DD
	EndDate   string `json:"end_date"`   // YYYY-MM-DD
}

// Validate 校验日期格式与先后顺序
func (dr DateRange) Validate() error {
	start, err := time.Parse(DateLayout, dr.StartDate)
	if err != nil {
		return fmt.Errorf("开始日期格式错误: %w", err)
	}
	end, err := time.Parse(DateLayout, dr.EndDate)
	if err != nil {
		return fmt.Errorf("结束日期格式错误: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("结束日期 %s 早于开始日期 %s", dr.EndDate, dr.StartDate)
	}
	return nil
}

// Days 范围内的天数（含首尾），格式错误或顺序颠倒时为 0
func (dr DateRange) Days() int {
	start, err := time.Parse(DateLayout, dr.StartDate)
	if err != nil {
		return 0
	}
	end, err := time.Parse(DateLayout, dr.EndDate)
	if err != nil || end.Before(start) {
		return 0
	}
	return int(end.Sub(start)/(24*time.Hour)) + 1
}

// Dates 展开为日期列表
func (dr DateRange) Dates() []string {
	start, err := time.Parse(DateLayout, dr.StartDate)
	if err != nil {
		return nil
	}
	end, err := time.Parse(DateLayout, dr.EndDate)
	if err != nil {
		return nil
	}
	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates
}

// Includes 日期是否在范围内
func (dr DateRange) Includes(date string) bool {
	return date >= dr.StartDate && date <= dr.EndDate
}

// ShiftDate 日期加减天数
func ShiftDate(date string, days int) string {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}
	return d.AddDate(0, 0, days).Format(DateLayout)
}
