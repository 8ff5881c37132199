// Package careplan 提供按周模板展开时间块
package careplan

import (
	"fmt"
	"time"

	apperrors "github.com/paiban/carecover/pkg/errors"
	"github.com/paiban/carecover/pkg/model"
)

// Template 患者的周期性服务需求
type Template struct {
	ID                       string         `json:"id"`
	PatientID                string         `json:"patient_id"`
	LocationID               string         `json:"location_id"`
	Weekdays                 []time.Weekday `json:"weekdays"`
	StartTime                string         `json:"start_time"` // HH:MM
	EndTime                  string         `json:"end_time"`   // HH:MM
	Timezone                 string         `json:"timezone,omitempty"`
	ServiceType              string         `json:"service_type"`
	Priority                 model.Priority `json:"priority"`
	CanSplit                 bool           `json:"can_split"`
	MinimumContinuousMinutes int            `json:"minimum_continuous_minutes"`
	RequiresPrimaryTherapist bool           `json:"requires_primary_therapist"`
	AllowSubstitutions       bool           `json:"allow_substitutions"`
	PreferredStaffIDs        []string       `json:"preferred_staff_ids,omitempty"`
	ExcludedStaffIDs         []string       `json:"excluded_staff_ids,omitempty"`
	EffectiveFrom            string         `json:"effective_from,omitempty"` // YYYY-MM-DD
	EffectiveTo              string         `json:"effective_to,omitempty"`
}

// Expander 模板展开器
type Expander struct{}

// NewExpander 创建模板展开器
func NewExpander() *Expander {
	return &Expander{}
}

// ValidateTemplate 验证模板
func (e *Expander) ValidateTemplate(tpl *Template) []string {
	var errs []string

	if tpl.PatientID == "" {
		errs = append(errs, "缺少患者ID")
	}
	if len(tpl.Weekdays) == 0 {
		errs = append(errs, "至少需要一个服务日")
	}
	start, err1 := parseClock(tpl.StartTime)
	end, err2 := parseClock(tpl.EndTime)
	if err1 != nil || err2 != nil {
		errs = append(errs, "起止时间格式应为 HH:MM")
	} else if end <= start {
		errs = append(errs, "结束时间必须晚于开始时间")
	}
	if tpl.Priority != "" && !tpl.Priority.Valid() {
		errs = append(errs, fmt.Sprintf("未知优先级 %s", tpl.Priority))
	}
	if tpl.MinimumContinuousMinutes < 0 {
		errs = append(errs, "最短连续时长不能为负")
	}
	if tpl.Timezone != "" {
		if _, err := time.LoadLocation(tpl.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("无效时区 %s", tpl.Timezone))
		}
	}

	return errs
}

// Expand 在日期范围内按服务日生成时间块
// existing 中同一模板同一天已存在的时间块不会重复生成
func (e *Expander) Expand(tpl *Template, dr model.DateRange, existing []*model.TimeBlock) ([]*model.TimeBlock, error) {
	if errs := e.ValidateTemplate(tpl); len(errs) > 0 {
		return nil, apperrors.New(apperrors.CodeValidationFail, "模板无效").WithDetails(errs[0])
	}
	if err := dr.Validate(); err != nil {
		return nil, apperrors.InvalidInput("date_range", err.Error())
	}

	loc := time.UTC
	if tpl.Timezone != "" {
		loc, _ = time.LoadLocation(tpl.Timezone)
	}
	startMin, _ := parseClock(tpl.StartTime)
	endMin, _ := parseClock(tpl.EndTime)

	days := make(map[time.Weekday]bool)
	for _, d := range tpl.Weekdays {
		days[d] = true
	}
	seen := make(map[string]bool)
	for _, b := range existing {
		if b.TemplateID == tpl.ID && !b.IsCancelled() {
			seen[b.Date] = true
		}
	}

	priority := tpl.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}

	var blocks []*model.TimeBlock
	for _, date := range dr.Dates() {
		if tpl.EffectiveFrom != "" && date < tpl.EffectiveFrom {
			continue
		}
		if tpl.EffectiveTo != "" && date > tpl.EffectiveTo {
			continue
		}
		if seen[date] {
			continue
		}
		d, _ := time.ParseInLocation(model.DateLayout, date, loc)
		if !days[d.Weekday()] {
			continue
		}

		r := model.NewTimeRange(d.Add(time.Duration(startMin)*time.Minute), d.Add(time.Duration(endMin)*time.Minute))
		start, end := r.Start, r.End
		blocks = append(blocks, &model.TimeBlock{
			BaseModel:                model.NewBaseModel(),
			PatientID:                tpl.PatientID,
			LocationID:               tpl.LocationID,
			TemplateID:               tpl.ID,
			Date:                     date,
			StartTime:                start,
			EndTime:                  end,
			DurationMinutes:          int(end.Sub(start) / time.Minute),
			ServiceType:              tpl.ServiceType,
			Priority:                 priority,
			CanSplit:                 tpl.CanSplit,
			MinimumContinuousMinutes: tpl.MinimumContinuousMinutes,
			RequiresPrimaryTherapist: tpl.RequiresPrimaryTherapist,
			AllowSubstitutions:       tpl.AllowSubstitutions,
			PreferredStaffIDs:        append([]string(nil), tpl.PreferredStaffIDs...),
			ExcludedStaffIDs:         append([]string(nil), tpl.ExcludedStaffIDs...),
			AssignmentStatus:         model.BlockUnassigned,
		})
	}

	return blocks, nil
}

// ValidateBlock 校验手工录入或展开生成的时间块
func ValidateBlock(b *model.TimeBlock) error {
	var ve apperrors.ValidationErrors

	if b.PatientID == "" {
		ve.Add("patient_id", "不能为空")
	}
	_, dateErr := time.Parse(model.DateLayout, b.Date)
	if dateErr != nil {
		ve.Add("date", "格式应为 YYYY-MM-DD")
	}
	if !b.Range().IsValid() {
		ve.Add("end_time", "结束时间必须晚于开始时间")
	} else if dateErr == nil && !b.Range().WithinDate(b.Date) {
		ve.Add("start_time", fmt.Sprintf("起止时间必须落在 %s 当天", b.Date))
	} else if !b.DurationConsistent() {
		ve.Add("duration_minutes", fmt.Sprintf("声明时长 %d 分钟与起止时间 %d 分钟不一致", b.DurationMinutes, b.Range().Minutes()))
	}
	if b.Priority != "" && !b.Priority.Valid() {
		ve.Add("priority", "未知优先级")
	}
	if b.MinimumContinuousMinutes < 0 {
		ve.Add("minimum_continuous_minutes", "不能为负")
	}

	if ve.HasErrors() {
		return ve.ToAppError()
	}
	return nil
}

// parseClock 解析 HH:MM 为当日分钟数
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
