package validator

import (
	"testing"
	"time"

	apperrors "github.com/paiban/carecover/pkg/errors"
	"github.com/paiban/carecover/pkg/model"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func assignment(id, staffID string, start, end time.Time) *model.Assignment {
	return &model.Assignment{
		BaseModel: model.BaseModel{ID: id},
		StaffID:   staffID,
		Date:      "2026-03-02",
		StartTime: start,
		EndTime:   end,
		Status:    model.AssignmentAssigned,
	}
}

// 场景E: 员工 T1 已有 09:00-11:00，再分配 10:30-12:00 应冲突并指出冲突分配
func TestConflictChecker_ManualOverlap(t *testing.T) {
	checker := NewConflictChecker()
	existing := []*model.Assignment{assignment("a-1", "T1", at(9, 0), at(11, 0))}

	candidate := Candidate{
		StaffID: "T1",
		Date:    "2026-03-02",
		Range:   model.TimeRange{Start: at(10, 30), End: at(12, 0)},
	}

	err := checker.Validate(candidate, existing)
	if !apperrors.Is(err, apperrors.CodeScheduleConflict) {
		t.Fatalf("应返回冲突错误, got %v", err)
	}
	refs := apperrors.Conflicts(err)
	if len(refs) != 1 || refs[0].AssignmentID != "a-1" {
		t.Errorf("冲突分配应为 a-1, got %+v", refs)
	}
}

func TestConflictChecker_Check(t *testing.T) {
	checker := NewConflictChecker()

	cancelled := assignment("a-c", "T1", at(13, 0), at(15, 0))
	cancelled.Status = model.AssignmentCancelled
	completed := assignment("a-d", "T1", at(16, 0), at(17, 0))
	completed.Status = model.AssignmentCompleted
	otherDay := assignment("a-o", "T1", at(9, 0), at(11, 0))
	otherDay.Date = "2026-03-03"

	existing := []*model.Assignment{
		assignment("a-1", "T1", at(9, 0), at(11, 0)),
		assignment("a-2", "T2", at(9, 0), at(11, 0)),
		cancelled,
		completed,
		otherDay,
	}

	tests := []struct {
		name      string
		candidate Candidate
		expected  int
	}{
		{"首尾相接不冲突", Candidate{StaffID: "T1", Date: "2026-03-02", Range: model.TimeRange{Start: at(11, 0), End: at(12, 0)}}, 0},
		{"重叠冲突", Candidate{StaffID: "T1", Date: "2026-03-02", Range: model.TimeRange{Start: at(8, 0), End: at(9, 1)}}, 1},
		{"其他员工不冲突", Candidate{StaffID: "T3", Date: "2026-03-02", Range: model.TimeRange{Start: at(9, 0), End: at(11, 0)}}, 0},
		{"已取消分配不冲突", Candidate{StaffID: "T1", Date: "2026-03-02", Range: model.TimeRange{Start: at(13, 0), End: at(15, 0)}}, 0},
		{"已完成分配仍占用时间", Candidate{StaffID: "T1", Date: "2026-03-02", Range: model.TimeRange{Start: at(16, 30), End: at(18, 0)}}, 1},
		{"更新自身不冲突", Candidate{AssignmentID: "a-1", StaffID: "T1", Date: "2026-03-02", Range: model.TimeRange{Start: at(9, 0), End: at(12, 0)}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checker.Check(tt.candidate, existing)
			if len(got) != tt.expected {
				t.Errorf("Check() 返回 %d 个冲突, expected %d", len(got), tt.expected)
			}
		})
	}
}

func TestConflictChecker_DetectOverlaps(t *testing.T) {
	checker := NewConflictChecker()

	assignments := []*model.Assignment{
		assignment("a-1", "T1", at(9, 0), at(11, 0)),
		assignment("a-2", "T1", at(10, 0), at(12, 0)),
		assignment("a-3", "T1", at(12, 0), at(13, 0)),
		assignment("a-4", "T2", at(9, 0), at(11, 0)),
	}

	conflicts := checker.DetectOverlaps(assignments)
	if len(conflicts) != 1 {
		t.Fatalf("Expected 1 conflict, got %d", len(conflicts))
	}
	if conflicts[0].Assignments[0] != "a-1" || conflicts[0].Assignments[1] != "a-2" {
		t.Errorf("冲突分配不正确: %v", conflicts[0].Assignments)
	}
}
