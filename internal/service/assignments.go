package service

import (
	"context"

	"github.com/paiban/carecover/pkg/access"
	apperrors "github.com/paiban/carecover/pkg/errors"
	"github.com/paiban/carecover/pkg/model"
)

// ManualAssign 手动把员工分配到时间块内的一段时间
func (s *CoverageService) ManualAssign(ctx context.Context, caller access.Caller, timeBlockID, staffID string, r model.TimeRange) (*model.Assignment, error) {
	block, err := s.loadBlock(ctx, timeBlockID)
	if err != nil {
		return nil, err
	}
	patient, err := s.loadPatient(ctx, block.PatientID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, access.CapManualAssign, patient.LocationID); err != nil {
		return nil, err
	}

	r = model.NewTimeRange(r.Start, r.End)
	if err := checkWithin(block, r); err != nil {
		return nil, err
	}
	if block.IsCancelled() {
		return nil, apperrors.New(apperrors.CodeBlockNotAssignable, "时间块已取消").WithField("time_block_id", block.ID)
	}

	staff, err := s.store.GetStaff(ctx, staffID)
	if err != nil {
		return nil, dbError(err, "查询员工失败")
	}
	if staff == nil {
		return nil, apperrors.NotFound("staff", staffID)
	}
	if !staff.IsActive() {
		return nil, apperrors.New(apperrors.CodeBlockNotAssignable, "员工不在职").WithField("staff_id", staffID)
	}
	if block.IsExcluded(staffID) || patient.IsExcluded(staffID) {
		return nil, apperrors.New(apperrors.CodeBlockNotAssignable, "员工已被排除").WithField("staff_id", staffID)
	}

	a := &model.Assignment{
		BaseModel:       model.NewBaseModel(),
		StaffID:         staffID,
		TimeBlockID:     block.ID,
		PatientID:       block.PatientID,
		Date:            block.Date,
		StartTime:       r.Start,
		EndTime:         r.End,
		Status:          model.AssignmentAssigned,
		Method:          model.MethodManual,
		ConfidenceScore: 1.0,
		Notes:           "手动分配: " + caller.ID,
	}
	if err := s.commit(ctx, a, false); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("assignment_id", a.ID).
		Str("staff_id", staffID).
		Str("time_block_id", block.ID).
		Str("caller", caller.ID).
		Msg("手动分配成功")
	s.afterWrite(ctx, a.PatientID, a.Date)
	return a, nil
}

// CancelAssignment 取消分配，已取消的直接返回
func (s *CoverageService) CancelAssignment(ctx context.Context, caller access.Caller, assignmentID string) (*model.Assignment, error) {
	a, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	patient, err := s.loadPatient(ctx, a.PatientID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, access.CapManualAssign, patient.LocationID); err != nil {
		return nil, err
	}
	if !a.IsActive() {
		return a, nil
	}

	a.Status = model.AssignmentCancelled
	if err := s.store.UpdateAssignment(ctx, a); err != nil {
		return nil, dbError(err, "取消分配失败")
	}

	s.log.Info().Str("assignment_id", a.ID).Str("caller", caller.ID).Msg("分配已取消")
	s.afterWrite(ctx, a.PatientID, a.Date)
	return a, nil
}

// UpdateAssignmentTime 调整分配的起止时间，新时间同样经过冲突检查
func (s *CoverageService) UpdateAssignmentTime(ctx context.Context, caller access.Caller, assignmentID string, r model.TimeRange) (*model.Assignment, error) {
	a, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	patient, err := s.loadPatient(ctx, a.PatientID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, access.CapManualAssign, patient.LocationID); err != nil {
		return nil, err
	}
	if !a.IsActive() {
		return nil, apperrors.New(apperrors.CodeBlockNotAssignable, "分配已取消").WithField("assignment_id", a.ID)
	}

	r = model.NewTimeRange(r.Start, r.End)
	if a.TimeBlockID != "" {
		block, err := s.loadBlock(ctx, a.TimeBlockID)
		if err != nil {
			return nil, err
		}
		if err := checkWithin(block, r); err != nil {
			return nil, err
		}
	} else if !r.IsValid() {
		return nil, apperrors.InvalidTimeRange("开始时间必须早于结束时间")
	} else if !r.WithinDate(a.Date) {
		return nil, apperrors.InvalidTimeRange("不能调整到其他日期")
	}

	a.StartTime = r.Start
	a.EndTime = r.End
	if err := s.commit(ctx, a, true); err != nil {
		return nil, err
	}

	s.log.Info().Str("assignment_id", a.ID).Str("caller", caller.ID).Msg("分配时间已调整")
	s.afterWrite(ctx, a.PatientID, a.Date)
	return a, nil
}

// checkWithin 分配时间必须有效且落在时间块内
func checkWithin(block *model.TimeBlock, r model.TimeRange) error {
	if !r.IsValid() {
		return apperrors.InvalidTimeRange("开始时间必须早于结束时间")
	}
	if !block.Range().Covers(r) {
		return apperrors.InvalidTimeRange("分配时间超出时间块范围").WithField("time_block_id", block.ID)
	}
	return nil
}

// afterWrite 写入已生效，重算失败只记录日志
func (s *CoverageService) afterWrite(ctx context.Context, patientID, date string) {
	if err := s.scheduleRecompute(context.WithoutCancel(ctx), patientID, date); err != nil {
		s.log.Error().Err(err).Str("patient_id", patientID).Str("date", date).Msg("覆盖重算失败")
	}
}
