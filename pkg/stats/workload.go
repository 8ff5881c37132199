// Package stats 提供工作量、连续性与覆盖率统计
package stats

import (
	"math"
	"sort"

	"github.com/paiban/carecover/pkg/model"
)

// WorkloadAggregator 员工日工作量统计
type WorkloadAggregator struct {
	LightMinutes int     // 低于该值视为负荷较轻
	HeavyMinutes int     // 高于该值视为负荷较重
	Adjustment   float64 // 评分调整幅度
}

// NewWorkloadAggregator 创建默认阈值（4小时/7小时）的统计器
func NewWorkloadAggregator() *WorkloadAggregator {
	return &WorkloadAggregator{
		LightMinutes: 240,
		HeavyMinutes: 420,
		Adjustment:   0.1,
	}
}

// DailyMinutes 员工当日未取消分配的总分钟数
func (w *WorkloadAggregator) DailyMinutes(staffID, date string, assignments []*model.Assignment) int {
	total := 0
	for _, a := range assignments {
		if a.StaffID != staffID || a.Date != date || !a.IsActive() {
			continue
		}
		total += a.Minutes()
	}
	return total
}

// ScoreAdjustment 轻负荷加分，重负荷减分
func (w *WorkloadAggregator) ScoreAdjustment(minutes int) float64 {
	switch {
	case minutes < w.LightMinutes:
		return w.Adjustment
	case minutes > w.HeavyMinutes:
		return -w.Adjustment
	default:
		return 0
	}
}

// StaffWorkload 员工在一段时间内的工作量
type StaffWorkload struct {
	StaffID     string  `json:"staff_id"`
	StaffName   string  `json:"staff_name,omitempty"`
	Minutes     int     `json:"minutes"`
	Assignments int     `json:"assignments"`
	Deviation   float64 `json:"deviation"` // 与平均值的偏差百分比
}

// WorkloadDistribution 工作量分布
type WorkloadDistribution struct {
	Gini       float64         `json:"gini"` // 0=完全均衡, 1=完全集中
	AvgMinutes float64         `json:"avg_minutes"`
	StdDev     float64         `json:"std_dev"`
	MaxMinutes int             `json:"max_minutes"`
	MinMinutes int             `json:"min_minutes"`
	Staff      []StaffWorkload `json:"staff"`
}

// Distribution 统计员工工作量分布，staff 中没有分配的员工按0计入
func (w *WorkloadAggregator) Distribution(assignments []*model.Assignment, staff []*model.Staff) *WorkloadDistribution {
	byStaff := make(map[string]*StaffWorkload)
	var order []string
	for _, s := range staff {
		byStaff[s.ID] = &StaffWorkload{StaffID: s.ID, StaffName: s.Name}
		order = append(order, s.ID)
	}
	for _, a := range assignments {
		if !a.IsActive() {
			continue
		}
		sw, ok := byStaff[a.StaffID]
		if !ok {
			sw = &StaffWorkload{StaffID: a.StaffID}
			byStaff[a.StaffID] = sw
			order = append(order, a.StaffID)
		}
		sw.Minutes += a.Minutes()
		sw.Assignments++
	}

	dist := &WorkloadDistribution{}
	if len(order) == 0 {
		return dist
	}

	values := make([]float64, 0, len(order))
	for _, id := range order {
		values = append(values, float64(byStaff[id].Minutes))
	}
	dist.AvgMinutes = mean(values)
	dist.StdDev = math.Sqrt(variance(values, dist.AvgMinutes))
	dist.Gini = Gini(values)

	dist.MinMinutes = byStaff[order[0]].Minutes
	for _, id := range order {
		sw := byStaff[id]
		if dist.AvgMinutes > 0 {
			sw.Deviation = (float64(sw.Minutes) - dist.AvgMinutes) / dist.AvgMinutes * 100
		}
		if sw.Minutes > dist.MaxMinutes {
			dist.MaxMinutes = sw.Minutes
		}
		if sw.Minutes < dist.MinMinutes {
			dist.MinMinutes = sw.Minutes
		}
		dist.Staff = append(dist.Staff, *sw)
	}

	sort.Slice(dist.Staff, func(i, j int) bool {
		if dist.Staff[i].Minutes == dist.Staff[j].Minutes {
			return dist.Staff[i].StaffID < dist.Staff[j].StaffID
		}
		return dist.Staff[i].Minutes > dist.Staff[j].Minutes
	})
	return dist
}

// Gini 计算基尼系数
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	if sum == 0 {
		return 0
	}

	gini := 0.0
	for i, v := range sorted {
		gini += (2*float64(i+1) - float64(n) - 1) * v
	}

	gini = gini / (float64(n) * sum)
	return math.Max(0, math.Min(1, gini))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64, m float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sumSquares := 0.0
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return sumSquares / float64(len(values))
}
