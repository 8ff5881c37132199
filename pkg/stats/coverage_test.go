package stats

import (
	"fmt"
	"testing"
	"time"

	"github.com/paiban/carecover/pkg/model"
)

func timeBlock(id string, start, end time.Time, priority model.Priority) *model.TimeBlock {
	return &model.TimeBlock{
		BaseModel:        model.BaseModel{ID: id},
		PatientID:        "p1",
		LocationID:       "loc-1",
		Date:             "2026-03-02",
		StartTime:        start,
		EndTime:          end,
		DurationMinutes:  int(end.Sub(start) / time.Minute),
		Priority:         priority,
		AssignmentStatus: model.BlockUnassigned,
	}
}

func onBlock(blockID, staffID string, start, end time.Time) *model.Assignment {
	a := pairing(staffID, "p1", "2026-03-02", start, end)
	a.TimeBlockID = blockID
	return a
}

type fixedRecommender struct{}

func (fixedRecommender) Recommend(block *model.TimeBlock, g model.Gap) []Recommendation {
	return []Recommendation{
		{Description: fmt.Sprintf("direct %s %d", block.ID, g.DurationMinutes), Confidence: float64(g.DurationMinutes) / 1000},
		{Description: fmt.Sprintf("extend %s", block.ID), Confidence: 0.7},
	}
}

func TestCoverageAggregator_AlertLevels(t *testing.T) {
	agg := NewCoverageAggregator(DefaultAlertPolicy())

	tests := []struct {
		name      string
		covered   time.Time // 分配结束时间，块为 08:00-18:00（600分钟）
		priority  model.Priority
		level     model.AlertLevel
		attention bool
	}{
		{"覆盖40%", at(12, 0), model.PriorityMedium, model.AlertCritical, true},
		{"覆盖60%", at(14, 0), model.PriorityMedium, model.AlertHigh, true},
		{"覆盖80%", at(16, 0), model.PriorityMedium, model.AlertMedium, false},
		{"覆盖95%", at(17, 30), model.PriorityMedium, model.AlertLow, false},
		{"完全覆盖", at(18, 0), model.PriorityMedium, model.AlertNone, false},
		{"关键块未完全覆盖", at(17, 30), model.PriorityCritical, model.AlertLow, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := timeBlock("b1", at(8, 0), at(18, 0), tt.priority)
			day := agg.Aggregate("p1", "2026-03-02", []*model.TimeBlock{b}, []*model.Assignment{
				onBlock("b1", "s1", at(8, 0), tt.covered),
			}, nil)

			if day.Record.AlertLevel != tt.level {
				t.Errorf("AlertLevel = %s, expected %s (coverage %.2f)", day.Record.AlertLevel, tt.level, day.Record.CoveragePercentage)
			}
			if day.Record.RequiresAttention != tt.attention {
				t.Errorf("RequiresAttention = %v, expected %v", day.Record.RequiresAttention, tt.attention)
			}
		})
	}
}

func TestCoverageAggregator_CriticalBlockUncovered(t *testing.T) {
	agg := NewCoverageAggregator(DefaultAlertPolicy())

	blocks := []*model.TimeBlock{
		timeBlock("b1", at(8, 0), at(17, 0), model.PriorityMedium),
		timeBlock("b2", at(17, 0), at(18, 0), model.PriorityCritical),
	}
	day := agg.Aggregate("p1", "2026-03-02", blocks, []*model.Assignment{
		onBlock("b1", "s1", at(8, 0), at(17, 0)),
	}, nil)

	// 覆盖率90%，但关键块完全未覆盖
	if day.Record.AlertLevel != model.AlertCritical {
		t.Errorf("AlertLevel = %s, expected critical", day.Record.AlertLevel)
	}
	if !day.Record.RequiresAttention {
		t.Error("RequiresAttention 应为 true")
	}
}

func TestCoverageAggregator_Totals(t *testing.T) {
	agg := NewCoverageAggregator(DefaultAlertPolicy())

	cancelled := timeBlock("b3", at(14, 0), at(16, 0), model.PriorityHigh)
	cancelled.AssignmentStatus = model.BlockCancelled
	blocks := []*model.TimeBlock{
		timeBlock("b2", at(13, 0), at(14, 0), model.PriorityLow),
		timeBlock("b1", at(9, 0), at(12, 0), model.PriorityMedium),
		cancelled,
	}
	assignments := []*model.Assignment{
		onBlock("b1", "s1", at(9, 0), at(11, 0)),
		onBlock("b1", "s2", at(10, 0), at(12, 0)),
	}

	day := agg.Aggregate("p1", "2026-03-02", blocks, assignments, fixedRecommender{})
	r := day.Record

	if r.BlockCount != 2 || r.TotalRequiredMinutes != 240 {
		t.Errorf("BlockCount/Required = %d/%d, expected 2/240", r.BlockCount, r.TotalRequiredMinutes)
	}
	if r.CoveredMinutes != 180 {
		t.Errorf("CoveredMinutes = %d, expected 180", r.CoveredMinutes)
	}
	if r.GapCount != 1 || r.TotalGapMinutes != 60 {
		t.Errorf("Gaps = %d/%d, expected 1/60", r.GapCount, r.TotalGapMinutes)
	}
	if r.CoveragePercentage != 0.75 || r.AlertLevel != model.AlertMedium {
		t.Errorf("Coverage/Alert = %v/%s, expected 0.75/medium", r.CoveragePercentage, r.AlertLevel)
	}
	if r.LocationID != "loc-1" {
		t.Errorf("LocationID = %s", r.LocationID)
	}
	if day.Blocks[0].Block.ID != "b1" {
		t.Errorf("时间块应按开始时间排序")
	}
	if len(r.Recommendations) != 2 || r.Recommendations[0] != "extend b2" {
		t.Errorf("Recommendations = %v", r.Recommendations)
	}
}

func TestCoverageAggregator_ConfigurablePolicy(t *testing.T) {
	policy := AlertPolicy{CriticalBelow: 0.3, HighBelow: 0.5, MediumBelow: 0.7, RecommendationLimit: 1}
	agg := NewCoverageAggregator(policy)

	b := timeBlock("b1", at(8, 0), at(18, 0), model.PriorityMedium)
	day := agg.Aggregate("p1", "2026-03-02", []*model.TimeBlock{b}, []*model.Assignment{
		onBlock("b1", "s1", at(8, 0), at(12, 0)),
	}, fixedRecommender{})

	if day.Record.AlertLevel != model.AlertHigh {
		t.Errorf("AlertLevel = %s, expected high", day.Record.AlertLevel)
	}
	if len(day.Record.Recommendations) != 1 {
		t.Errorf("应只保留1条建议, got %d", len(day.Record.Recommendations))
	}
}

func TestCoverageAggregator_NoBlocks(t *testing.T) {
	agg := NewCoverageAggregator(DefaultAlertPolicy())
	day := agg.Aggregate("p1", "2026-03-02", nil, nil, nil)
	if day.Record.CoveragePercentage != 0 || day.Record.AlertLevel != model.AlertNone {
		t.Errorf("无时间块时应为0覆盖且无告警: %+v", day.Record)
	}
}
