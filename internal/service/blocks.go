package service

import (
	"context"
	"fmt"

	"github.com/paiban/carecover/internal/repository"
	"github.com/paiban/carecover/pkg/access"
	"github.com/paiban/carecover/pkg/careplan"
	"github.com/paiban/carecover/pkg/model"
)

// CreateTimeBlock 创建时间块
// 起止时间截断到整分钟，与分配一致
func (s *CoverageService) CreateTimeBlock(ctx context.Context, caller access.Caller, b *model.TimeBlock) (*model.TimeBlock, error) {
	r := model.NewTimeRange(b.StartTime, b.EndTime)
	b.StartTime, b.EndTime = r.Start, r.End
	if b.DurationMinutes == 0 {
		b.DurationMinutes = b.Range().Minutes()
	}
	if err := careplan.ValidateBlock(b); err != nil {
		return nil, err
	}
	patient, err := s.loadPatient(ctx, b.PatientID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, access.CapManageBlocks, patient.LocationID); err != nil {
		return nil, err
	}

	if b.ID == "" {
		b.BaseModel = model.NewBaseModel()
	}
	if b.LocationID == "" {
		b.LocationID = patient.LocationID
	}
	if b.Priority == "" {
		b.Priority = model.PriorityMedium
	}
	b.AssignmentStatus = model.BlockUnassigned
	b.CoveragePercentage = 0

	if err := s.store.CreateTimeBlock(ctx, b); err != nil {
		return nil, dbError(err, "创建时间块失败")
	}
	s.afterWrite(ctx, b.PatientID, b.Date)
	return b, nil
}

// ExpandTemplate 按模板在日期范围内生成时间块，已生成过的日期跳过
func (s *CoverageService) ExpandTemplate(ctx context.Context, caller access.Caller, tpl *careplan.Template, dr model.DateRange) ([]*model.TimeBlock, error) {
	if err := s.validateRange(dr); err != nil {
		return nil, err
	}
	patient, err := s.loadPatient(ctx, tpl.PatientID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, access.CapManageBlocks, patient.LocationID); err != nil {
		return nil, err
	}
	if tpl.ID == "" {
		tpl.ID = model.NewID()
	}
	if tpl.LocationID == "" {
		tpl.LocationID = patient.LocationID
	}

	existing, err := s.store.ListTimeBlocksByPatient(ctx, tpl.PatientID, dr)
	if err != nil {
		return nil, dbError(err, "查询时间块失败")
	}
	blocks, err := s.expander.Expand(tpl, dr, existing)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		for _, b := range blocks {
			if err := tx.CreateTimeBlock(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, dbError(err, "创建时间块失败")
	}
	for _, b := range blocks {
		s.afterWrite(ctx, b.PatientID, b.Date)
	}

	s.log.Info().
		Str("template_id", tpl.ID).
		Str("patient_id", tpl.PatientID).
		Int("blocks", len(blocks)).
		Msg("模板展开完成")
	if blocks == nil {
		blocks = []*model.TimeBlock{}
	}
	return blocks, nil
}

// CancelTimeBlock 取消时间块，并取消其上尚未开始的分配
func (s *CoverageService) CancelTimeBlock(ctx context.Context, caller access.Caller, timeBlockID string) (*model.TimeBlock, error) {
	block, err := s.loadBlock(ctx, timeBlockID)
	if err != nil {
		return nil, err
	}
	patient, err := s.loadPatient(ctx, block.PatientID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, access.CapManageBlocks, patient.LocationID); err != nil {
		return nil, err
	}
	if block.IsCancelled() {
		return block, nil
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		assignments, err := tx.ListAssignmentsByPatient(ctx, block.PatientID, singleDay(block.Date))
		if err != nil {
			return fmt.Errorf("查询患者分配失败: %w", err)
		}
		for _, a := range assignments {
			if a.TimeBlockID != block.ID {
				continue
			}
			if a.Status != model.AssignmentAssigned && a.Status != model.AssignmentConfirmed {
				continue
			}
			a.Status = model.AssignmentCancelled
			if err := tx.UpdateAssignment(ctx, a); err != nil {
				return err
			}
		}

		block.AssignmentStatus = model.BlockCancelled
		block.CoveragePercentage = 0
		return tx.UpdateTimeBlock(ctx, block)
	})
	if err != nil {
		return nil, dbError(err, "取消时间块失败")
	}

	s.log.Info().Str("time_block_id", block.ID).Str("caller", caller.ID).Msg("时间块已取消")
	s.afterWrite(ctx, block.PatientID, block.Date)
	return block, nil
}
