// Package dispatcher 提供自动分配与缺口自动处理
package dispatcher

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/paiban/carecover/pkg/dispatcher/matcher"
	apperrors "github.com/paiban/carecover/pkg/errors"
	"github.com/paiban/carecover/pkg/gap"
	"github.com/paiban/carecover/pkg/logger"
	"github.com/paiban/carecover/pkg/model"
	"github.com/paiban/carecover/pkg/resolution"
)

// Sink 分配落地，由服务层实现（员工加锁、冲突复查、持久化）
type Sink interface {
	// Commit 在员工锁内复查冲突后写入，冲突时返回 SCHEDULE_CONFLICT
	Commit(ctx context.Context, a *model.Assignment) error
	// Cancel 取消分配
	Cancel(ctx context.Context, a *model.Assignment) error
	// SaveBlock 保存时间块的派生状态
	SaveBlock(ctx context.Context, b *model.TimeBlock) error
	// Recompute 重新生成患者某日的覆盖记录
	Recompute(ctx context.Context, patientID, date string) error
}

// Config 引擎配置
type Config struct {
	Scoring              matcher.Config
	Resolution           resolution.Config
	BatchTimeout         time.Duration // 软超时，0 表示只受 ctx 约束
	AutoResolveThreshold float64       // 自动处理缺口的最低置信度（不含）
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Scoring:              matcher.DefaultConfig(),
		Resolution:           resolution.DefaultConfig(),
		BatchTimeout:         30 * time.Second,
		AutoResolveThreshold: 0.6,
	}
}

// Engine 自动分配引擎，无全局状态
type Engine struct {
	config    Config
	scorer    *matcher.Scorer
	generator *resolution.Generator
	analyzer  *gap.Analyzer
	log       *logger.CoverageLogger
	now       func() time.Time
}

// NewEngine 创建自动分配引擎
func NewEngine(config Config, log zerolog.Logger) *Engine {
	return &Engine{
		config:    config,
		scorer:    matcher.NewScorer(config.Scoring),
		generator: resolution.NewGenerator(config.Resolution),
		analyzer:  gap.NewAnalyzer(),
		log:       logger.NewCoverageLogger(log),
		now:       time.Now,
	}
}

// Scorer 返回评分器
func (e *Engine) Scorer() *matcher.Scorer {
	return e.scorer
}

// BatchInput 批处理输入
type BatchInput struct {
	PatientID           string
	Patient             *model.Patient
	Blocks              []*model.TimeBlock
	Staff               []*model.Staff
	Ledger              *matcher.Ledger // 相关员工与患者的已有分配
	ForceReassign       bool
	PrioritizePreferred bool
}

// BatchError 单个时间块的失败原因
type BatchError struct {
	TimeBlockID string         `json:"time_block_id,omitempty"`
	Date        string         `json:"date"`
	Code        apperrors.Code `json:"code"`
	Reason      string         `json:"reason"`
}

// BatchResult 批处理结果，失败不回滚已成功的部分
type BatchResult struct {
	Successful   int                 `json:"successful"`
	Failed       int                 `json:"failed"`
	Skipped      int                 `json:"skipped"`
	Errors       []BatchError        `json:"errors"`
	Assignments  []*model.Assignment `json:"assignments"`
	TouchedDates []string            `json:"touched_dates"`
	Truncated    bool                `json:"truncated"`

	touched map[string]bool
}

func newBatchResult() *BatchResult {
	return &BatchResult{
		Errors:      []BatchError{},
		Assignments: []*model.Assignment{},
		touched:     make(map[string]bool),
	}
}

// Err 有失败项时返回 PARTIAL_BATCH_FAILURE
func (r *BatchResult) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return apperrors.PartialBatchFailure(r.Successful, r.Failed)
}

func (r *BatchResult) touch(date string) {
	if !r.touched[date] {
		r.touched[date] = true
		r.TouchedDates = append(r.TouchedDates, date)
	}
}

func (r *BatchResult) fail(block *model.TimeBlock, code apperrors.Code, reason string) {
	r.Failed++
	r.Errors = append(r.Errors, BatchError{
		TimeBlockID: block.ID,
		Date:        block.Date,
		Code:        code,
		Reason:      reason,
	})
}

// sortBlocks 按日期、开始时间排序
func sortBlocks(blocks []*model.TimeBlock) []*model.TimeBlock {
	sorted := make([]*model.TimeBlock, len(blocks))
	copy(sorted, blocks)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date < sorted[j].Date
		}
		if !sorted[i].StartTime.Equal(sorted[j].StartTime) {
			return sorted[i].StartTime.Before(sorted[j].StartTime)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// deadline 软超时判断
type deadline struct {
	ctx context.Context
	at  time.Time
	now func() time.Time
}

func (e *Engine) newDeadline(ctx context.Context) deadline {
	d := deadline{ctx: ctx, now: e.now}
	if e.config.BatchTimeout > 0 {
		d.at = e.now().Add(e.config.BatchTimeout)
	}
	return d
}

func (d deadline) exceeded() bool {
	if d.ctx.Err() != nil {
		return true
	}
	return !d.at.IsZero() && d.now().After(d.at)
}

// blockAssignments 时间块上的有效分配
func blockAssignments(block *model.TimeBlock, ledger *matcher.Ledger) []*model.Assignment {
	return gap.ForBlock(block, ledger.Patient(block.PatientID))
}

// AutoAssign 按 (日期, 开始时间) 顺序逐块自动分配
// 后面的时间块能看到同一批次前面提交的分配
func (e *Engine) AutoAssign(ctx context.Context, in BatchInput, sink Sink) *BatchResult {
	started := e.now()
	result := newBatchResult()
	blocks := sortBlocks(in.Blocks)
	dl := e.newDeadline(ctx)

	e.log.BatchStart("auto_assign", in.PatientID, len(blocks))

	for _, block := range blocks {
		if dl.exceeded() {
			result.Truncated = true
			break
		}
		if !e.assignable(block, in.ForceReassign) {
			result.Skipped++
			continue
		}

		if in.ForceReassign {
			if err := e.releaseBlock(ctx, block, in.Ledger, sink, result); err != nil {
				result.fail(block, apperrors.GetCode(err), err.Error())
				continue
			}
			if e.analyzer.Analyze(block, blockAssignments(block, in.Ledger)).Coverage >= 1 {
				result.Skipped++
				continue
			}
		}

		e.assignBlock(ctx, block, in, sink, result)
	}

	e.finish(ctx, in.PatientID, sink, result)
	e.log.BatchComplete("auto_assign", in.PatientID, result.Successful, result.Failed, result.Truncated, e.now().Sub(started))
	return result
}

// assignable 默认只处理未分配的块，强制重排时也处理部分或已分配的块
func (e *Engine) assignable(block *model.TimeBlock, force bool) bool {
	switch block.AssignmentStatus {
	case model.BlockUnassigned, "":
		return true
	case model.BlockPartial, model.BlockAssigned:
		return force
	default:
		return false
	}
}

// releaseBlock 取消块上员工尚未确认的分配
func (e *Engine) releaseBlock(ctx context.Context, block *model.TimeBlock, ledger *matcher.Ledger, sink Sink, result *BatchResult) error {
	for _, a := range blockAssignments(block, ledger) {
		if a.TimeBlockID != block.ID || !a.Reassignable() {
			continue
		}
		if err := sink.Cancel(ctx, a); err != nil {
			return err
		}
		ledger.Remove(a.ID)
		result.touch(block.Date)
	}
	return nil
}

func (e *Engine) assignBlock(ctx context.Context, block *model.TimeBlock, in BatchInput, sink Sink, result *BatchResult) {
	candidates, err := e.scorer.Rank(matcher.Request{
		Block:           block,
		Patient:         in.Patient,
		Staff:           in.Staff,
		Profile:         matcher.ProfileBatch,
		ApplyPreference: in.PrioritizePreferred,
	}, in.Ledger)
	if err != nil {
		e.log.NoCandidate(block.ID, block.Date)
		result.fail(block, apperrors.CodeNoCandidateAvailable, matcher.NoCandidateReason)
		return
	}

	for _, c := range candidates {
		a := newAssignment(block, c, block.Range())
		err := sink.Commit(ctx, a)
		if apperrors.Is(err, apperrors.CodeScheduleConflict) {
			// 并发提交抢占了该员工，尝试下一位
			e.log.Conflict(c.StaffID, block.Date, len(apperrors.Conflicts(err)))
			continue
		}
		if err != nil {
			result.fail(block, apperrors.GetCode(err), err.Error())
			return
		}

		in.Ledger.Add(a)
		block.AssignmentStatus = model.BlockAssigned
		block.CoveragePercentage = 1.0
		if err := sink.SaveBlock(ctx, block); err != nil {
			e.log.Logger().Error().Err(err).Str("time_block_id", block.ID).Msg("保存时间块状态失败")
		}

		result.Successful++
		result.Assignments = append(result.Assignments, a)
		result.touch(block.Date)
		return
	}

	e.log.NoCandidate(block.ID, block.Date)
	result.fail(block, apperrors.CodeNoCandidateAvailable, matcher.NoCandidateReason)
}

// AutoResolve 对每个缺口生成方案，仅当首选方案为直接分配且置信度超过阈值时提交
func (e *Engine) AutoResolve(ctx context.Context, in BatchInput, sink Sink) *BatchResult {
	started := e.now()
	result := newBatchResult()
	blocks := sortBlocks(in.Blocks)
	dl := e.newDeadline(ctx)

	e.log.BatchStart("auto_resolve", in.PatientID, len(blocks))

	for _, block := range blocks {
		if dl.exceeded() {
			result.Truncated = true
			break
		}
		if block.IsCancelled() || block.AssignmentStatus == model.BlockCompleted {
			result.Skipped++
			continue
		}

		analysis := e.analyzer.Analyze(block, blockAssignments(block, in.Ledger))
		if !analysis.HasGaps() {
			result.Skipped++
			continue
		}

		for _, g := range analysis.Gaps {
			e.resolveGap(ctx, block, g, in, sink, result)
		}
	}

	e.finish(ctx, in.PatientID, sink, result)
	e.log.BatchComplete("auto_resolve", in.PatientID, result.Successful, result.Failed, result.Truncated, e.now().Sub(started))
	return result
}

func (e *Engine) resolveGap(ctx context.Context, block *model.TimeBlock, g model.Gap, in BatchInput, sink Sink, result *BatchResult) {
	candidates, _ := e.scorer.Rank(matcher.Request{
		Block:           block,
		Patient:         in.Patient,
		Target:          g.Range(),
		Staff:           in.Staff,
		Profile:         matcher.ProfileGapResolution,
		ApplyPreference: in.PrioritizePreferred,
	}, in.Ledger)
	if len(candidates) == 0 {
		e.log.NoCandidate(block.ID, block.Date)
		result.fail(block, apperrors.CodeNoCandidateAvailable, matcher.NoCandidateReason)
		return
	}

	strategies := e.generator.Generate(block, g, candidates, blockAssignments(block, in.Ledger))
	top := strategies[0]
	if top.Type != resolution.StrategyDirect || top.Confidence <= e.config.AutoResolveThreshold {
		result.fail(block, apperrors.CodeBlockNotAssignable, "confidence below auto-resolve threshold")
		return
	}

	a := newAssignment(block, candidates[0], g.Range())
	if err := sink.Commit(ctx, a); err != nil {
		if apperrors.Is(err, apperrors.CodeScheduleConflict) {
			e.log.Conflict(a.StaffID, block.Date, len(apperrors.Conflicts(err)))
		}
		result.fail(block, apperrors.GetCode(err), err.Error())
		return
	}

	in.Ledger.Add(a)
	result.Successful++
	result.Assignments = append(result.Assignments, a)
	result.touch(block.Date)
}

// finish 为涉及的日期重算覆盖记录，超时截断后也会执行
func (e *Engine) finish(ctx context.Context, patientID string, sink Sink, result *BatchResult) {
	sort.Strings(result.TouchedDates)
	recomputeCtx := context.WithoutCancel(ctx)
	for _, date := range result.TouchedDates {
		if err := sink.Recompute(recomputeCtx, patientID, date); err != nil {
			e.log.Logger().Error().Err(err).Str("patient_id", patientID).Str("date", date).Msg("重算覆盖记录失败")
			result.Errors = append(result.Errors, BatchError{
				Date:   date,
				Code:   apperrors.GetCode(err),
				Reason: err.Error(),
			})
		}
	}
}

func newAssignment(block *model.TimeBlock, c matcher.Candidate, r model.TimeRange) *model.Assignment {
	return &model.Assignment{
		BaseModel:       model.NewBaseModel(),
		StaffID:         c.StaffID,
		TimeBlockID:     block.ID,
		PatientID:       block.PatientID,
		Date:            block.Date,
		StartTime:       r.Start,
		EndTime:         r.End,
		Status:          model.AssignmentAssigned,
		Method:          model.MethodAuto,
		ConfidenceScore: c.Score,
		Notes:           string(c.Method),
	}
}
