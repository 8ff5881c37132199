// Package gap 计算时间块中未被覆盖的子区间
package gap

import (
	"sort"
	"time"

	"github.com/paiban/carecover/pkg/interval"
	"github.com/paiban/carecover/pkg/model"
)

// Analysis 单个时间块的缺口分析结果
type Analysis struct {
	TimeBlockID     string      `json:"time_block_id"`
	Gaps            []model.Gap `json:"gaps"`
	RequiredMinutes int         `json:"required_minutes"`
	CoveredMinutes  int         `json:"covered_minutes"`
	GapMinutes      int         `json:"gap_minutes"`
	Coverage        float64     `json:"coverage"` // 0-1
}

// HasGaps 是否存在缺口
func (a *Analysis) HasGaps() bool {
	return len(a.Gaps) > 0
}

// Analyzer 缺口分析器，无状态
type Analyzer struct{}

// NewAnalyzer 创建缺口分析器
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// ForBlock 选出计入该时间块的分配：
// 明确挂在该块上的，或未挂块但属于同一患者同一天且与块重叠的
func ForBlock(block *model.TimeBlock, assignments []*model.Assignment) []*model.Assignment {
	var selected []*model.Assignment
	for _, a := range assignments {
		if !a.IsActive() {
			continue
		}
		if a.TimeBlockID == block.ID {
			selected = append(selected, a)
			continue
		}
		if a.TimeBlockID == "" && a.PatientID == block.PatientID && a.Date == block.Date &&
			interval.Overlaps(a.Range(), block.Range()) {
			selected = append(selected, a)
		}
	}
	return selected
}

// Analyze 扫描分配，找出块内未覆盖的区间
// 没有任何分配时整块为一个 uncovered 缺口，否则缺口类型为 partial
func (an *Analyzer) Analyze(block *model.TimeBlock, assignments []*model.Assignment) *Analysis {
	bounds := block.Range()
	required := interval.Minutes(bounds)

	clipped := make([]model.TimeRange, 0, len(assignments))
	for _, a := range assignments {
		if !a.IsActive() {
			continue
		}
		if r, ok := interval.Clip(a.Range(), bounds); ok {
			clipped = append(clipped, r)
		}
	}

	result := &Analysis{
		TimeBlockID:     block.ID,
		RequiredMinutes: required,
	}

	if len(clipped) == 0 {
		if required > 0 {
			result.Gaps = []model.Gap{newGap(block.ID, bounds.Start, bounds.End, model.GapUncovered)}
			result.GapMinutes = required
		}
		return result
	}

	sort.Slice(clipped, func(i, j int) bool {
		return clipped[i].Start.Before(clipped[j].Start)
	})

	cursor := bounds.Start
	for _, r := range clipped {
		if r.Start.After(cursor) {
			result.Gaps = append(result.Gaps, newGap(block.ID, cursor, r.Start, model.GapPartial))
		}
		if r.End.After(cursor) {
			cursor = r.End
		}
	}
	if cursor.Before(bounds.End) {
		result.Gaps = append(result.Gaps, newGap(block.ID, cursor, bounds.End, model.GapPartial))
	}

	for _, g := range result.Gaps {
		result.GapMinutes += g.DurationMinutes
	}
	result.CoveredMinutes = interval.TotalMinutes(clipped)
	if required > 0 {
		result.Coverage = clamp01(float64(result.CoveredMinutes) / float64(required))
	}
	return result
}

func newGap(blockID string, start, end time.Time, gapType model.GapType) model.Gap {
	return model.Gap{
		TimeBlockID:     blockID,
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: int(end.Sub(start) / time.Minute),
		Type:            gapType,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
