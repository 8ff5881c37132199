// Package validator 提供分配冲突检查
package validator

import (
	"fmt"
	"sort"

	apperrors "github.com/paiban/carecover/pkg/errors"
	"github.com/paiban/carecover/pkg/interval"
	"github.com/paiban/carecover/pkg/model"
)

// ConflictType 冲突类型
type ConflictType string

const (
	ConflictOverlap ConflictType = "overlap" // 时间重叠
)

// Conflict 冲突信息
type Conflict struct {
	Type        ConflictType `json:"type"`
	StaffID     string       `json:"staff_id"`
	Date        string       `json:"date"`
	Message     string       `json:"message"`
	Assignments []string     `json:"assignments,omitempty"` // 相关的分配ID
}

// Candidate 待检查的分配
type Candidate struct {
	AssignmentID string // 更新已有分配时填写，检查时跳过自身
	StaffID      string
	Date         string
	Range        model.TimeRange
}

// ConflictChecker 冲突检查器，所有写入路径都经由它判断
type ConflictChecker struct{}

// NewConflictChecker 创建冲突检查器
func NewConflictChecker() *ConflictChecker {
	return &ConflictChecker{}
}

// Check 返回与候选分配冲突的已有分配
// 同一员工、同一日期、未取消、且时间半开重叠才算冲突
func (c *ConflictChecker) Check(candidate Candidate, existing []*model.Assignment) []*model.Assignment {
	var conflicts []*model.Assignment
	for _, a := range existing {
		if a.StaffID != candidate.StaffID || a.Date != candidate.Date {
			continue
		}
		if !a.IsActive() {
			continue
		}
		if candidate.AssignmentID != "" && a.ID == candidate.AssignmentID {
			continue
		}
		if interval.Overlaps(a.Range(), candidate.Range) {
			conflicts = append(conflicts, a)
		}
	}
	return conflicts
}

// HasConflict 是否存在冲突
func (c *ConflictChecker) HasConflict(candidate Candidate, existing []*model.Assignment) bool {
	return len(c.Check(candidate, existing)) > 0
}

// Validate 存在冲突时返回携带冲突分配的错误
func (c *ConflictChecker) Validate(candidate Candidate, existing []*model.Assignment) error {
	conflicts := c.Check(candidate, existing)
	if len(conflicts) == 0 {
		return nil
	}
	return apperrors.ScheduleConflict(candidate.StaffID, candidate.Date, ToRefs(conflicts)...)
}

// DetectOverlaps 审计一组分配中违反互不重叠约束的组合
func (c *ConflictChecker) DetectOverlaps(assignments []*model.Assignment) []Conflict {
	var conflicts []Conflict

	groups := make(map[string][]*model.Assignment)
	var keys []string
	for _, a := range assignments {
		if !a.IsActive() {
			continue
		}
		key := a.StaffID + "|" + a.Date
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], a)
	}
	sort.Strings(keys)

	for _, key := range keys {
		group := groups[key]
		sort.Slice(group, func(i, j int) bool {
			return group[i].StartTime.Before(group[j].StartTime)
		})
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if !group[j].StartTime.Before(group[i].EndTime) {
					break
				}
				conflicts = append(conflicts, Conflict{
					Type:        ConflictOverlap,
					StaffID:     group[i].StaffID,
					Date:        group[i].Date,
					Message:     fmt.Sprintf("员工 %s 在 %s 存在时间重叠的分配", group[i].StaffID, group[i].Date),
					Assignments: []string{group[i].ID, group[j].ID},
				})
			}
		}
	}

	return conflicts
}

// ToRefs 转换为错误中携带的冲突引用
func ToRefs(assignments []*model.Assignment) []apperrors.ConflictRef {
	refs := make([]apperrors.ConflictRef, 0, len(assignments))
	for _, a := range assignments {
		refs = append(refs, apperrors.ConflictRef{
			AssignmentID: a.ID,
			StaffID:      a.StaffID,
			Date:         a.Date,
			Start:        a.StartTime,
			End:          a.EndTime,
		})
	}
	return refs
}
