package service

import (
	"context"
	"time"

	"github.com/paiban/carecover/internal/lock"
	"github.com/paiban/carecover/pkg/access"
	"github.com/paiban/carecover/pkg/dispatcher"
	"github.com/paiban/carecover/pkg/dispatcher/matcher"
	apperrors "github.com/paiban/carecover/pkg/errors"
	"github.com/paiban/carecover/pkg/gap"
	"github.com/paiban/carecover/pkg/model"
	"github.com/paiban/carecover/pkg/report"
	"github.com/paiban/carecover/pkg/stats"
)

// BlockGaps 有缺口的时间块
type BlockGaps struct {
	Block    *model.TimeBlock `json:"block"`
	Analysis *gap.Analysis    `json:"analysis"`
}

// GapReport 患者日期范围内的缺口
type GapReport struct {
	PatientID       string                  `json:"patient_id"`
	DateRange       model.DateRange         `json:"date_range"`
	Records         []*model.CoverageRecord `json:"records"`
	Blocks          []BlockGaps             `json:"blocks"`
	TotalGaps       int                     `json:"total_gaps"`
	TotalGapMinutes int                     `json:"total_gap_minutes"`
	Truncated       bool                    `json:"truncated"` // 超时或取消，只包含已计算的日期
}

// DetectGaps 计算患者每天的覆盖和缺口，只读
func (s *CoverageService) DetectGaps(ctx context.Context, caller access.Caller, patientID string, dr model.DateRange) (*GapReport, error) {
	if err := s.validateRange(dr); err != nil {
		return nil, err
	}
	patient, err := s.loadPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, access.CapViewCoverage, patient.LocationID); err != nil {
		return nil, err
	}

	blocks, err := s.store.ListTimeBlocksByPatient(ctx, patientID, dr)
	if err != nil {
		return nil, dbError(err, "查询时间块失败")
	}
	snap, err := s.loadSnapshot(ctx, patient, dr)
	if err != nil {
		return nil, err
	}

	out := &GapReport{
		PatientID: patientID,
		DateRange: dr,
		Records:   []*model.CoverageRecord{},
		Blocks:    []BlockGaps{},
	}
	var deadline time.Time
	if s.readTimeout > 0 {
		deadline = s.now().Add(s.readTimeout)
	}
	rec := s.engine.Recommender(patient, snap.staff, snap.ledger)
	assignments := snap.ledger.Patient(patientID)
	for _, date := range dr.Dates() {
		if ctx.Err() != nil || (!deadline.IsZero() && s.now().After(deadline)) {
			out.Truncated = true
			s.log.Warn().Str("patient_id", patientID).Int("days", len(out.Records)).Msg("缺口检测超时，返回部分结果")
			break
		}
		day := s.aggregator.Aggregate(patientID, date, blocks, assignments, rec)
		if day.Record.LocationID == "" {
			day.Record.LocationID = patient.LocationID
		}
		out.Records = append(out.Records, day.Record)
		out.TotalGaps += day.Record.GapCount
		out.TotalGapMinutes += day.Record.TotalGapMinutes

		for _, bc := range day.Blocks {
			if bc.Analysis.HasGaps() {
				out.Blocks = append(out.Blocks, BlockGaps{Block: bc.Block, Analysis: bc.Analysis})
			}
		}
	}
	return out, nil
}

// RecomputeCoverage 重新生成患者某日的覆盖记录，并回写时间块的派生状态
func (s *CoverageService) RecomputeCoverage(ctx context.Context, patientID, date string) (*model.CoverageRecord, error) {
	started := s.now()
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return nil, apperrors.InvalidInput("date", "格式应为 YYYY-MM-DD")
	}
	patient, err := s.loadPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	// 同一患者同一天的重算串行执行，后到者读取的是最新写入
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	unlock, err := s.locker.Lock(lockCtx, lock.CoverageKey(patientID, date))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTimeout, "获取覆盖重算锁超时")
	}
	defer unlock()

	day := singleDay(date)
	blocks, err := s.store.ListTimeBlocksByPatient(ctx, patientID, day)
	if err != nil {
		return nil, dbError(err, "查询时间块失败")
	}
	snap, err := s.loadSnapshot(ctx, patient, day)
	if err != nil {
		return nil, err
	}

	result := s.aggregator.Aggregate(patientID, date, blocks, snap.ledger.Patient(patientID),
		s.engine.Recommender(patient, snap.staff, snap.ledger))
	if err := s.saveDerived(ctx, result); err != nil {
		return nil, err
	}

	record := result.Record
	if record.LocationID == "" {
		record.LocationID = patient.LocationID
	}
	if err := s.store.UpsertCoverageRecord(ctx, record); err != nil {
		return nil, dbError(err, "写入覆盖记录失败")
	}

	s.metrics.Recompute(s.now().Sub(started))
	s.log.Debug().
		Str("patient_id", patientID).
		Str("date", date).
		Float64("coverage", record.CoveragePercentage).
		Str("alert_level", string(record.AlertLevel)).
		Msg("覆盖记录已重算")
	return record, nil
}

// saveDerived 时间块的状态和覆盖率只在这里回写
func (s *CoverageService) saveDerived(ctx context.Context, day *stats.DayCoverage) error {
	for _, bc := range day.Blocks {
		b := bc.Block
		status := b.DeriveStatus(bc.Analysis.Coverage)
		if status == b.AssignmentStatus && b.CoveragePercentage == bc.Analysis.Coverage {
			continue
		}
		b.AssignmentStatus = status
		b.CoveragePercentage = bc.Analysis.Coverage
		if err := s.store.UpdateTimeBlock(ctx, b); err != nil {
			return dbError(err, "保存时间块状态失败")
		}
	}
	return nil
}

// RecomputeLocation 重算机构日期范围内每个有时间块的 (患者, 日期)
func (s *CoverageService) RecomputeLocation(ctx context.Context, locationID string, dr model.DateRange) (int, error) {
	if err := s.validateRange(dr); err != nil {
		return 0, err
	}
	blocks, err := s.store.ListTimeBlocksByLocation(ctx, locationID, dr)
	if err != nil {
		return 0, dbError(err, "查询时间块失败")
	}

	seen := make(map[string]bool)
	count := 0
	for _, b := range blocks {
		key := b.PatientID + "|" + b.Date
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if _, err := s.RecomputeCoverage(ctx, b.PatientID, b.Date); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// RecomputeResult 机构重算请求的结果
type RecomputeResult struct {
	Queued     bool `json:"queued"`
	Recomputed int  `json:"recomputed"`
}

// RequestLocationRecompute 重算机构日期范围内的覆盖记录
// 配置了队列时异步执行，入队失败或未配置时同步执行
func (s *CoverageService) RequestLocationRecompute(ctx context.Context, caller access.Caller, locationID string, dr model.DateRange) (*RecomputeResult, error) {
	if err := s.validateRange(dr); err != nil {
		return nil, err
	}
	if err := authorize(caller, access.CapManageBlocks, locationID); err != nil {
		return nil, err
	}

	if s.enqueuer != nil {
		err := s.enqueuer.EnqueueRecomputeLocation(ctx, locationID, dr)
		if err == nil {
			s.log.Info().Str("location_id", locationID).Str("caller", caller.ID).Msg("机构重算已入队")
			return &RecomputeResult{Queued: true}, nil
		}
		s.log.Warn().Err(err).Str("location_id", locationID).Msg("机构重算入队失败，改为同步执行")
	}

	n, err := s.RecomputeLocation(ctx, locationID, dr)
	if err != nil {
		return nil, err
	}
	return &RecomputeResult{Recomputed: n}, nil
}

// AutoAssignRequest 批量自动分配请求
type AutoAssignRequest struct {
	PatientID           string          `json:"patient_id"`
	DateRange           model.DateRange `json:"date_range"`
	ForceReassign       bool            `json:"force_reassign"`
	PrioritizePreferred bool            `json:"prioritize_preferred"`
}

// AutoAssign 为患者日期范围内的时间块批量自动分配
func (s *CoverageService) AutoAssign(ctx context.Context, caller access.Caller, req AutoAssignRequest) (*dispatcher.BatchResult, error) {
	in, err := s.batchInput(ctx, caller, access.CapAutoAssign, req.PatientID, req.DateRange)
	if err != nil {
		return nil, err
	}
	in.ForceReassign = req.ForceReassign
	in.PrioritizePreferred = req.PrioritizePreferred

	started := s.now()
	result := s.engine.AutoAssign(ctx, *in, sink{s})
	s.metrics.Batch("auto_assign", result.Successful, result.Failed, result.Truncated, s.now().Sub(started))
	return result, nil
}

// AutoResolve 对患者日期范围内的缺口自动提交高置信度的直接分配
func (s *CoverageService) AutoResolve(ctx context.Context, caller access.Caller, patientID string, dr model.DateRange) (*dispatcher.BatchResult, error) {
	in, err := s.batchInput(ctx, caller, access.CapResolveGaps, patientID, dr)
	if err != nil {
		return nil, err
	}
	in.PrioritizePreferred = true

	started := s.now()
	result := s.engine.AutoResolve(ctx, *in, sink{s})
	s.metrics.Batch("auto_resolve", result.Successful, result.Failed, result.Truncated, s.now().Sub(started))
	return result, nil
}

func (s *CoverageService) batchInput(ctx context.Context, caller access.Caller, capability access.Capability, patientID string, dr model.DateRange) (*dispatcher.BatchInput, error) {
	if err := s.validateRange(dr); err != nil {
		return nil, err
	}
	patient, err := s.loadPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, capability, patient.LocationID); err != nil {
		return nil, err
	}

	blocks, err := s.store.ListTimeBlocksByPatient(ctx, patientID, dr)
	if err != nil {
		return nil, dbError(err, "查询时间块失败")
	}
	snap, err := s.loadSnapshot(ctx, patient, dr)
	if err != nil {
		return nil, err
	}

	return &dispatcher.BatchInput{
		PatientID: patientID,
		Patient:   patient,
		Blocks:    blocks,
		Staff:     snap.staff,
		Ledger:    snap.ledger,
	}, nil
}

// ResolveOptions 时间块每个缺口的候选人与处理方案，只读
func (s *CoverageService) ResolveOptions(ctx context.Context, caller access.Caller, timeBlockID string) (*dispatcher.BlockOptions, error) {
	block, err := s.loadBlock(ctx, timeBlockID)
	if err != nil {
		return nil, err
	}
	patient, err := s.loadPatient(ctx, block.PatientID)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, access.CapResolveGaps, patient.LocationID); err != nil {
		return nil, err
	}

	snap, err := s.loadSnapshot(ctx, patient, singleDay(block.Date))
	if err != nil {
		return nil, err
	}
	return s.engine.Options(block, patient, snap.staff, snap.ledger), nil
}

// LocationReport 机构日期范围内的覆盖报表
func (s *CoverageService) LocationReport(ctx context.Context, caller access.Caller, locationID string, dr model.DateRange) (*report.LocationReport, error) {
	if err := s.validateRange(dr); err != nil {
		return nil, err
	}
	if !access.CanViewLocation(caller, locationID) {
		return nil, apperrors.Forbidden(access.CapViewLocation.String())
	}

	started := s.now()
	in, err := s.reportInput(ctx, locationID, dr)
	if err != nil {
		return nil, err
	}
	rep, err := s.reporter.Build(ctx, *in)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "生成机构报表失败")
	}

	s.metrics.Report(locationID, rep.Summary.OverallCoverage, rep.Summary.RequiresAttention, rep.Summary.WorkloadGini, s.now().Sub(started))
	return rep, nil
}

// ExportLocationReport 导出机构报表为 XLSX
func (s *CoverageService) ExportLocationReport(ctx context.Context, caller access.Caller, locationID string, dr model.DateRange) ([]byte, error) {
	rep, err := s.LocationReport(ctx, caller, locationID, dr)
	if err != nil {
		return nil, err
	}
	data, err := report.ExportXLSX(rep)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "导出机构报表失败")
	}
	return data, nil
}

func (s *CoverageService) reportInput(ctx context.Context, locationID string, dr model.DateRange) (*report.Input, error) {
	patients, err := s.store.ListPatientsByLocation(ctx, locationID)
	if err != nil {
		return nil, dbError(err, "查询患者失败")
	}
	blocks, err := s.store.ListTimeBlocksByLocation(ctx, locationID, dr)
	if err != nil {
		return nil, dbError(err, "查询时间块失败")
	}
	staff, err := s.store.ListStaffByLocation(ctx, locationID)
	if err != nil {
		return nil, dbError(err, "查询员工失败")
	}

	window := model.DateRange{StartDate: model.ShiftDate(dr.StartDate, -s.lookback), EndDate: dr.EndDate}
	ids := make([]string, 0, len(staff))
	for _, st := range staff {
		ids = append(ids, st.ID)
	}
	byStaff, err := s.store.ListAssignmentsByStaffIDs(ctx, ids, window)
	if err != nil {
		return nil, dbError(err, "查询员工分配失败")
	}
	byLocation, err := s.store.ListAssignmentsByLocation(ctx, locationID, dr)
	if err != nil {
		return nil, dbError(err, "查询机构分配失败")
	}

	return &report.Input{
		LocationID: locationID,
		DateRange:  dr,
		Patients:   patients,
		Blocks:     blocks,
		Staff:      staff,
		Ledger:     matcher.NewLedger(append(byStaff, byLocation...)...),
	}, nil
}
