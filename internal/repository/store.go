package repository

import (
	"context"

	"github.com/paiban/carecover/pkg/model"
)

// 查询单条记录时，未找到返回 (nil, nil)

// TimeBlockStore 时间块存取
type TimeBlockStore interface {
	CreateTimeBlock(ctx context.Context, b *model.TimeBlock) error
	UpdateTimeBlock(ctx context.Context, b *model.TimeBlock) error
	GetTimeBlock(ctx context.Context, id string) (*model.TimeBlock, error)
	ListTimeBlocksByPatient(ctx context.Context, patientID string, dr model.DateRange) ([]*model.TimeBlock, error)
	ListTimeBlocksByLocation(ctx context.Context, locationID string, dr model.DateRange) ([]*model.TimeBlock, error)
}

// AssignmentStore 分配存取
type AssignmentStore interface {
	CreateAssignment(ctx context.Context, a *model.Assignment) error
	UpdateAssignment(ctx context.Context, a *model.Assignment) error
	GetAssignment(ctx context.Context, id string) (*model.Assignment, error)
	ListAssignmentsByPatient(ctx context.Context, patientID string, dr model.DateRange) ([]*model.Assignment, error)
	ListAssignmentsByStaff(ctx context.Context, staffID string, dr model.DateRange) ([]*model.Assignment, error)
	ListAssignmentsByStaffIDs(ctx context.Context, staffIDs []string, dr model.DateRange) ([]*model.Assignment, error)
	ListAssignmentsByLocation(ctx context.Context, locationID string, dr model.DateRange) ([]*model.Assignment, error)
}

// CoverageStore 覆盖记录存取，(patient_id, date) 唯一
type CoverageStore interface {
	UpsertCoverageRecord(ctx context.Context, rec *model.CoverageRecord) error
	GetCoverageRecord(ctx context.Context, patientID, date string) (*model.CoverageRecord, error)
	ListCoverageRecords(ctx context.Context, patientID string, dr model.DateRange) ([]*model.CoverageRecord, error)
}

// PeopleStore 患者与员工（由外部系统维护，这里只读或同步写入）
type PeopleStore interface {
	SavePatient(ctx context.Context, p *model.Patient) error
	GetPatient(ctx context.Context, id string) (*model.Patient, error)
	ListPatientsByLocation(ctx context.Context, locationID string) ([]*model.Patient, error)
	SaveStaff(ctx context.Context, s *model.Staff) error
	GetStaff(ctx context.Context, id string) (*model.Staff, error)
	ListStaffByLocation(ctx context.Context, locationID string) ([]*model.Staff, error)
}

// Store 覆盖服务使用的全部存储
type Store interface {
	TimeBlockStore
	AssignmentStore
	CoverageStore
	PeopleStore

	// WithTx 在同一事务中执行多行写入，fn 返回错误时全部回滚
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
