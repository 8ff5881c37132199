package stats

import (
	"github.com/paiban/carecover/pkg/model"
)

// ContinuityStats 患者与员工的近期配对情况
type ContinuityStats struct {
	RecentPairings int  `json:"recent_pairings"` // 回看窗口内（不含当天）的配对次数
	SameDay        bool `json:"same_day"`        // 当天是否已有配对
}

// ContinuityTracker 连续性统计
type ContinuityTracker struct{}

// NewContinuityTracker 创建连续性统计器
func NewContinuityTracker() *ContinuityTracker {
	return &ContinuityTracker{}
}

// Track 统计 [refDate-lookbackDays, refDate) 内的配对次数以及当天是否已配对
func (c *ContinuityTracker) Track(patientID, staffID, refDate string, lookbackDays int, assignments []*model.Assignment) ContinuityStats {
	from := model.ShiftDate(refDate, -lookbackDays)

	var stats ContinuityStats
	for _, a := range assignments {
		if a.PatientID != patientID || a.StaffID != staffID || !a.IsActive() {
			continue
		}
		switch {
		case a.Date == refDate:
			stats.SameDay = true
		case a.Date >= from && a.Date < refDate:
			stats.RecentPairings++
		}
	}
	return stats
}
