package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/paiban/carecover/pkg/model"
)

// MemoryStore 内存存储，用于单进程部署和测试，读写都复制对象
type MemoryStore struct {
	mu          sync.RWMutex
	txMu        sync.Mutex
	blocks      map[string]*model.TimeBlock
	assignments map[string]*model.Assignment
	coverage    map[string]*model.CoverageRecord
	patients    map[string]*model.Patient
	staff       map[string]*model.Staff
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks:      make(map[string]*model.TimeBlock),
		assignments: make(map[string]*model.Assignment),
		coverage:    make(map[string]*model.CoverageRecord),
		patients:    make(map[string]*model.Patient),
		staff:       make(map[string]*model.Staff),
	}
}

var _ Store = (*MemoryStore)(nil)

// WithTx 串行执行 fn，出错时恢复到执行前的快照
// 事务期间其他写入方的修改在回滚时同样会被丢弃
func (m *MemoryStore) WithTx(_ context.Context, fn func(tx Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	blocks := cloneMap(m.blocks, cloneBlock)
	assignments := cloneMap(m.assignments, cloneAssignment)
	m.mu.RUnlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.blocks = blocks
		m.assignments = assignments
		m.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[T any](src map[string]*T, clone func(*T) *T) map[string]*T {
	dst := make(map[string]*T, len(src))
	for k, v := range src {
		dst[k] = clone(v)
	}
	return dst
}

func cloneBlock(b *model.TimeBlock) *model.TimeBlock {
	c := *b
	c.PreferredStaffIDs = append([]string(nil), b.PreferredStaffIDs...)
	c.ExcludedStaffIDs = append([]string(nil), b.ExcludedStaffIDs...)
	return &c
}

func cloneAssignment(a *model.Assignment) *model.Assignment {
	c := *a
	return &c
}

func cloneRecord(r *model.CoverageRecord) *model.CoverageRecord {
	c := *r
	c.Recommendations = append([]string(nil), r.Recommendations...)
	return &c
}

func clonePatient(p *model.Patient) *model.Patient {
	c := *p
	c.PreferredStaffIDs = append([]string(nil), p.PreferredStaffIDs...)
	c.ExcludedStaffIDs = append([]string(nil), p.ExcludedStaffIDs...)
	return &c
}

func cloneStaff(s *model.Staff) *model.Staff {
	c := *s
	c.Skills = append([]string(nil), s.Skills...)
	return &c
}

// CreateTimeBlock 创建时间块
func (m *MemoryStore) CreateTimeBlock(_ context.Context, b *model.TimeBlock) error {
	if b.ID == "" {
		b.ID = model.NewID()
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.ID] = cloneBlock(b)
	return nil
}

// UpdateTimeBlock 更新时间块
func (m *MemoryStore) UpdateTimeBlock(_ context.Context, b *model.TimeBlock) error {
	b.UpdatedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[b.ID] = cloneBlock(b)
	return nil
}

// GetTimeBlock 根据ID获取时间块
func (m *MemoryStore) GetTimeBlock(_ context.Context, id string) (*model.TimeBlock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.blocks[id]; ok {
		return cloneBlock(b), nil
	}
	return nil, nil
}

// ListTimeBlocksByPatient 查询患者日期范围内的时间块
func (m *MemoryStore) ListTimeBlocksByPatient(_ context.Context, patientID string, dr model.DateRange) ([]*model.TimeBlock, error) {
	return m.listBlocks(func(b *model.TimeBlock) bool {
		return b.PatientID == patientID && dr.Includes(b.Date)
	}), nil
}

// ListTimeBlocksByLocation 查询机构日期范围内的时间块
func (m *MemoryStore) ListTimeBlocksByLocation(_ context.Context, locationID string, dr model.DateRange) ([]*model.TimeBlock, error) {
	return m.listBlocks(func(b *model.TimeBlock) bool {
		return b.LocationID == locationID && dr.Includes(b.Date)
	}), nil
}

func (m *MemoryStore) listBlocks(match func(*model.TimeBlock) bool) []*model.TimeBlock {
	m.mu.RLock()
	var out []*model.TimeBlock
	for _, b := range m.blocks {
		if match(b) {
			out = append(out, cloneBlock(b))
		}
	}
	m.mu.RUnlock()

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

// CreateAssignment 创建分配
func (m *MemoryStore) CreateAssignment(_ context.Context, a *model.Assignment) error {
	if a.ID == "" {
		a.ID = model.NewID()
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.ID] = cloneAssignment(a)
	return nil
}

// UpdateAssignment 更新分配
func (m *MemoryStore) UpdateAssignment(_ context.Context, a *model.Assignment) error {
	a.UpdatedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.ID] = cloneAssignment(a)
	return nil
}

// GetAssignment 根据ID获取分配
func (m *MemoryStore) GetAssignment(_ context.Context, id string) (*model.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.assignments[id]; ok {
		return cloneAssignment(a), nil
	}
	return nil, nil
}

// ListAssignmentsByPatient 查询患者日期范围内的分配
func (m *MemoryStore) ListAssignmentsByPatient(_ context.Context, patientID string, dr model.DateRange) ([]*model.Assignment, error) {
	return m.listAssignments(func(a *model.Assignment) bool {
		return a.PatientID == patientID && dr.Includes(a.Date)
	}), nil
}

// ListAssignmentsByStaff 查询员工日期范围内的分配
func (m *MemoryStore) ListAssignmentsByStaff(_ context.Context, staffID string, dr model.DateRange) ([]*model.Assignment, error) {
	return m.listAssignments(func(a *model.Assignment) bool {
		return a.StaffID == staffID && dr.Includes(a.Date)
	}), nil
}

// ListAssignmentsByStaffIDs 批量查询多名员工日期范围内的分配
func (m *MemoryStore) ListAssignmentsByStaffIDs(_ context.Context, staffIDs []string, dr model.DateRange) ([]*model.Assignment, error) {
	ids := make(map[string]bool, len(staffIDs))
	for _, id := range staffIDs {
		ids[id] = true
	}
	return m.listAssignments(func(a *model.Assignment) bool {
		return ids[a.StaffID] && dr.Includes(a.Date)
	}), nil
}

// ListAssignmentsByLocation 查询机构患者日期范围内的分配
func (m *MemoryStore) ListAssignmentsByLocation(_ context.Context, locationID string, dr model.DateRange) ([]*model.Assignment, error) {
	m.mu.RLock()
	patients := make(map[string]bool)
	for _, p := range m.patients {
		if p.LocationID == locationID {
			patients[p.ID] = true
		}
	}
	m.mu.RUnlock()

	return m.listAssignments(func(a *model.Assignment) bool {
		return patients[a.PatientID] && dr.Includes(a.Date)
	}), nil
}

func (m *MemoryStore) listAssignments(match func(*model.Assignment) bool) []*model.Assignment {
	m.mu.RLock()
	var out []*model.Assignment
	for _, a := range m.assignments {
		if match(a) {
			out = append(out, cloneAssignment(a))
		}
	}
	m.mu.RUnlock()

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

func coverageKey(patientID, date string) string {
	return patientID + "|" + date
}

// UpsertCoverageRecord 写入或替换患者某日的覆盖记录
func (m *MemoryStore) UpsertCoverageRecord(_ context.Context, rec *model.CoverageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coverage[coverageKey(rec.PatientID, rec.Date)] = cloneRecord(rec)
	return nil
}

// GetCoverageRecord 获取患者某日的覆盖记录
func (m *MemoryStore) GetCoverageRecord(_ context.Context, patientID, date string) (*model.CoverageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.coverage[coverageKey(patientID, date)]; ok {
		return cloneRecord(rec), nil
	}
	return nil, nil
}

// ListCoverageRecords 查询患者日期范围内的覆盖记录
func (m *MemoryStore) ListCoverageRecords(_ context.Context, patientID string, dr model.DateRange) ([]*model.CoverageRecord, error) {
	m.mu.RLock()
	var out []*model.CoverageRecord
	for _, rec := range m.coverage {
		if rec.PatientID == patientID && dr.Includes(rec.Date) {
			out = append(out, cloneRecord(rec))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// SavePatient 写入或更新患者
func (m *MemoryStore) SavePatient(_ context.Context, p *model.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = clonePatient(p)
	return nil
}

// GetPatient 根据ID获取患者
func (m *MemoryStore) GetPatient(_ context.Context, id string) (*model.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.patients[id]; ok {
		return clonePatient(p), nil
	}
	return nil, nil
}

// ListPatientsByLocation 查询机构的患者
func (m *MemoryStore) ListPatientsByLocation(_ context.Context, locationID string) ([]*model.Patient, error) {
	m.mu.RLock()
	var out []*model.Patient
	for _, p := range m.patients {
		if p.LocationID == locationID {
			out = append(out, clonePatient(p))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SaveStaff 写入或更新员工
func (m *MemoryStore) SaveStaff(_ context.Context, s *model.Staff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staff[s.ID] = cloneStaff(s)
	return nil
}

// GetStaff 根据ID获取员工
func (m *MemoryStore) GetStaff(_ context.Context, id string) (*model.Staff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.staff[id]; ok {
		return cloneStaff(s), nil
	}
	return nil, nil
}

// ListStaffByLocation 查询机构的员工
func (m *MemoryStore) ListStaffByLocation(_ context.Context, locationID string) ([]*model.Staff, error) {
	m.mu.RLock()
	var out []*model.Staff
	for _, s := range m.staff {
		if s.LocationID == locationID {
			out = append(out, cloneStaff(s))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
