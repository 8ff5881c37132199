package gap

import (
	"testing"
	"time"

	"github.com/paiban/carecover/pkg/model"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func block(start, end time.Time) *model.TimeBlock {
	return &model.TimeBlock{
		BaseModel:       model.BaseModel{ID: "b-1"},
		PatientID:       "p-1",
		Date:            "2026-03-02",
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: int(end.Sub(start) / time.Minute),
	}
}

func assigned(id string, start, end time.Time) *model.Assignment {
	return &model.Assignment{
		BaseModel:   model.BaseModel{ID: id},
		StaffID:     "s-" + id,
		TimeBlockID: "b-1",
		PatientID:   "p-1",
		Date:        "2026-03-02",
		StartTime:   start,
		EndTime:     end,
		Status:      model.AssignmentAssigned,
	}
}

// 场景A: 09:00-12:00 没有任何分配
func TestAnalyze_NoAssignments(t *testing.T) {
	an := NewAnalyzer()
	result := an.Analyze(block(at(9, 0), at(12, 0)), nil)

	if len(result.Gaps) != 1 {
		t.Fatalf("Expected 1 gap, got %d", len(result.Gaps))
	}
	g := result.Gaps[0]
	if g.Type != model.GapUncovered {
		t.Errorf("缺口类型应为 uncovered, got %s", g.Type)
	}
	if g.DurationMinutes != 180 || !g.StartTime.Equal(at(9, 0)) || !g.EndTime.Equal(at(12, 0)) {
		t.Errorf("缺口范围不正确: %+v", g)
	}
	if result.Coverage != 0 {
		t.Errorf("覆盖率应为0, got %v", result.Coverage)
	}
}

// 场景B: 09:00-12:00，分配 09:00-10:00 与 11:00-12:00
func TestAnalyze_MiddleGap(t *testing.T) {
	an := NewAnalyzer()
	result := an.Analyze(block(at(9, 0), at(12, 0)), []*model.Assignment{
		assigned("a2", at(11, 0), at(12, 0)),
		assigned("a1", at(9, 0), at(10, 0)),
	})

	if len(result.Gaps) != 1 {
		t.Fatalf("Expected 1 gap, got %d", len(result.Gaps))
	}
	g := result.Gaps[0]
	if g.Type != model.GapPartial || g.DurationMinutes != 60 || !g.StartTime.Equal(at(10, 0)) {
		t.Errorf("缺口不正确: %+v", g)
	}
	if result.CoveredMinutes != 120 {
		t.Errorf("CoveredMinutes = %d, expected 120", result.CoveredMinutes)
	}
	if diff := result.Coverage - 2.0/3.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Coverage = %v, expected 0.667", result.Coverage)
	}
}

// 场景C: 重叠分配 09:00-11:00 与 10:00-12:00 完全覆盖
func TestAnalyze_OverlappingAssignments(t *testing.T) {
	an := NewAnalyzer()
	result := an.Analyze(block(at(9, 0), at(12, 0)), []*model.Assignment{
		assigned("a1", at(9, 0), at(11, 0)),
		assigned("a2", at(10, 0), at(12, 0)),
	})

	if len(result.Gaps) != 0 {
		t.Errorf("不应有缺口, got %d", len(result.Gaps))
	}
	if result.CoveredMinutes != 180 {
		t.Errorf("CoveredMinutes = %d, expected 180 (重叠只计一次)", result.CoveredMinutes)
	}
	if result.Coverage != 1.0 {
		t.Errorf("Coverage = %v, expected 1.0", result.Coverage)
	}
}

func TestAnalyze_EdgesAndClipping(t *testing.T) {
	an := NewAnalyzer()
	cancelled := assigned("a3", at(10, 0), at(11, 0))
	cancelled.Status = model.AssignmentCancelled

	result := an.Analyze(block(at(9, 0), at(12, 0)), []*model.Assignment{
		assigned("a1", at(8, 0), at(9, 30)),
		assigned("a2", at(11, 30), at(13, 0)),
		cancelled,
	})

	if len(result.Gaps) != 1 {
		t.Fatalf("Expected 1 gap, got %d", len(result.Gaps))
	}
	if !result.Gaps[0].StartTime.Equal(at(9, 30)) || !result.Gaps[0].EndTime.Equal(at(11, 30)) {
		t.Errorf("缺口范围不正确: %+v", result.Gaps[0])
	}
	if result.CoveredMinutes != 60 {
		t.Errorf("CoveredMinutes = %d, expected 60 (裁剪到块边界)", result.CoveredMinutes)
	}
}

func TestAnalyze_CoveredPlusGapsEqualsDuration(t *testing.T) {
	an := NewAnalyzer()
	cases := [][]*model.Assignment{
		nil,
		{assigned("a1", at(9, 15), at(9, 45))},
		{assigned("a1", at(9, 0), at(10, 0)), assigned("a2", at(9, 30), at(10, 30)), assigned("a3", at(11, 0), at(11, 5))},
		{assigned("a1", at(7, 0), at(13, 0))},
		{assigned("a1", at(10, 0), at(10, 0))},
	}

	for i, assignments := range cases {
		b := block(at(9, 0), at(12, 0))
		first := an.Analyze(b, assignments)
		if first.CoveredMinutes+first.GapMinutes != 180 {
			t.Errorf("case %d: covered %d + gaps %d != 180", i, first.CoveredMinutes, first.GapMinutes)
		}

		second := an.Analyze(b, assignments)
		if len(first.Gaps) != len(second.Gaps) || first.Coverage != second.Coverage {
			t.Errorf("case %d: 重复分析结果不一致", i)
		}
	}
}

func TestForBlock(t *testing.T) {
	b := block(at(9, 0), at(12, 0))

	bare := assigned("bare", at(10, 0), at(11, 0))
	bare.TimeBlockID = ""
	otherPatient := assigned("other", at(10, 0), at(11, 0))
	otherPatient.TimeBlockID = ""
	otherPatient.PatientID = "p-2"
	otherBlock := assigned("ob", at(10, 0), at(11, 0))
	otherBlock.TimeBlockID = "b-2"

	selected := ForBlock(b, []*model.Assignment{assigned("a1", at(9, 0), at(10, 0)), bare, otherPatient, otherBlock})
	if len(selected) != 2 {
		t.Errorf("应选出2个分配, got %d", len(selected))
	}
}
