package matcher

import (
	"sort"
	"sync"

	"github.com/paiban/carecover/pkg/model"
)

// Ledger 评分使用的分配快照，批处理中新提交的分配会追加进来
type Ledger struct {
	mu          sync.RWMutex
	byID        map[string]*model.Assignment
	byStaffDate map[string][]*model.Assignment
	byPatient   map[string][]*model.Assignment
}

// NewLedger 用已有分配创建快照
func NewLedger(assignments ...*model.Assignment) *Ledger {
	l := &Ledger{
		byID:        make(map[string]*model.Assignment),
		byStaffDate: make(map[string][]*model.Assignment),
		byPatient:   make(map[string][]*model.Assignment),
	}
	for _, a := range assignments {
		l.Add(a)
	}
	return l
}

func staffDateKey(staffID, date string) string {
	return staffID + "|" + date
}

// Add 追加或替换分配
func (l *Ledger) Add(a *model.Assignment) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[a.ID]; ok {
		l.removeLocked(a.ID)
	}
	l.byID[a.ID] = a
	key := staffDateKey(a.StaffID, a.Date)
	l.byStaffDate[key] = append(l.byStaffDate[key], a)
	l.byPatient[a.PatientID] = append(l.byPatient[a.PatientID], a)
}

// Remove 移除分配
func (l *Ledger) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(id)
}

func (l *Ledger) removeLocked(id string) {
	a, ok := l.byID[id]
	if !ok {
		return
	}
	delete(l.byID, id)
	key := staffDateKey(a.StaffID, a.Date)
	l.byStaffDate[key] = without(l.byStaffDate[key], id)
	l.byPatient[a.PatientID] = without(l.byPatient[a.PatientID], id)
}

func without(list []*model.Assignment, id string) []*model.Assignment {
	out := list[:0:0]
	for _, a := range list {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

// StaffDay 员工某日的分配
func (l *Ledger) StaffDay(staffID, date string) []*model.Assignment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*model.Assignment(nil), l.byStaffDate[staffDateKey(staffID, date)]...)
}

// Patient 患者的全部分配
func (l *Ledger) Patient(patientID string) []*model.Assignment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*model.Assignment(nil), l.byPatient[patientID]...)
}

// All 全部分配，按日期和开始时间排序
func (l *Ledger) All() []*model.Assignment {
	l.mu.RLock()
	out := make([]*model.Assignment, 0, len(l.byID))
	for _, a := range l.byID {
		out = append(out, a)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len 分配数量
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}
