// Package interval 提供分钟精度的左闭右开区间运算
package interval

import (
	"sort"
	"time"

	"github.com/paiban/carecover/pkg/model"
)

// Overlaps 半开区间重叠判断，首尾相接不算重叠
func Overlaps(a, b model.TimeRange) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Clip 将区间裁剪到边界内，无交集时返回 false
func Clip(r, bounds model.TimeRange) (model.TimeRange, bool) {
	start := r.Start
	if start.Before(bounds.Start) {
		start = bounds.Start
	}
	end := r.End
	if end.After(bounds.End) {
		end = bounds.End
	}
	if !start.Before(end) {
		return model.TimeRange{}, false
	}
	return model.TimeRange{Start: start, End: end}, true
}

// Union 排序并合并区间，相接的区间会合并
func Union(ranges []model.TimeRange) []model.TimeRange {
	valid := make([]model.TimeRange, 0, len(ranges))
	for _, r := range ranges {
		if r.IsValid() {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	sort.Slice(valid, func(i, j int) bool {
		if valid[i].Start.Equal(valid[j].Start) {
			return valid[i].End.Before(valid[j].End)
		}
		return valid[i].Start.Before(valid[j].Start)
	})

	merged := []model.TimeRange{valid[0]}
	for _, r := range valid[1:] {
		last := &merged[len(merged)-1]
		if !r.Start.After(last.End) {
			if r.End.After(last.End) {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// TotalMinutes 合并后的总分钟数，重叠部分只计一次
func TotalMinutes(ranges []model.TimeRange) int {
	total := 0
	for _, r := range Union(ranges) {
		total += Minutes(r)
	}
	return total
}

// Minutes 区间分钟数
func Minutes(r model.TimeRange) int {
	if !r.IsValid() {
		return 0
	}
	return int(r.Duration() / time.Minute)
}

// Midpoint 区间中点，按分钟取整
func Midpoint(r model.TimeRange) time.Time {
	half := Minutes(r) / 2
	return r.Start.Add(time.Duration(half) * time.Minute)
}
