// Package service 覆盖服务：权限检查、数据加载、员工加锁写入与覆盖重算
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/paiban/carecover/internal/lock"
	"github.com/paiban/carecover/internal/metrics"
	"github.com/paiban/carecover/internal/repository"
	"github.com/paiban/carecover/pkg/access"
	"github.com/paiban/carecover/pkg/careplan"
	"github.com/paiban/carecover/pkg/dispatcher"
	"github.com/paiban/carecover/pkg/dispatcher/matcher"
	apperrors "github.com/paiban/carecover/pkg/errors"
	"github.com/paiban/carecover/pkg/model"
	"github.com/paiban/carecover/pkg/report"
	"github.com/paiban/carecover/pkg/stats"
	"github.com/paiban/carecover/pkg/validator"
)

// Enqueuer 异步重算覆盖记录，未配置时同步重算
type Enqueuer interface {
	EnqueueRecompute(ctx context.Context, patientID, date string) error
	EnqueueRecomputeLocation(ctx context.Context, locationID string, dr model.DateRange) error
}

// Deps 服务依赖
type Deps struct {
	Store        repository.Store
	Locker       lock.Locker
	Engine       *dispatcher.Engine
	Aggregator   *stats.CoverageAggregator
	Reporter     *report.Reporter
	Metrics      *metrics.Metrics // 可为 nil
	Enqueuer     Enqueuer         // 可为 nil
	Logger       zerolog.Logger
	LockTimeout  time.Duration
	MaxRangeDays int           // 日期范围的最大天数，0 时取 366
	ReadTimeout  time.Duration // 只读查询的软超时，0 表示只受 ctx 约束
}

const defaultMaxRangeDays = 366

// CoverageService 覆盖服务
type CoverageService struct {
	store       repository.Store
	locker      lock.Locker
	engine      *dispatcher.Engine
	aggregator  *stats.CoverageAggregator
	reporter    *report.Reporter
	expander    *careplan.Expander
	checker     *validator.ConflictChecker
	metrics     *metrics.Metrics
	enqueuer    Enqueuer
	log         zerolog.Logger
	lockTimeout time.Duration
	lookback    int
	maxDays     int
	readTimeout time.Duration
	now         func() time.Time
}

// New 创建覆盖服务
func New(d Deps) *CoverageService {
	if d.Locker == nil {
		d.Locker = lock.NewKeyedMutex()
	}
	if d.LockTimeout <= 0 {
		d.LockTimeout = 5 * time.Second
	}
	if d.MaxRangeDays <= 0 {
		d.MaxRangeDays = defaultMaxRangeDays
	}
	if d.Aggregator == nil {
		d.Aggregator = stats.NewCoverageAggregator(stats.DefaultAlertPolicy())
	}
	if d.Engine == nil {
		d.Engine = dispatcher.NewEngine(dispatcher.DefaultConfig(), d.Logger)
	}
	if d.Reporter == nil {
		d.Reporter = report.NewReporter(report.DefaultConfig(), d.Engine, d.Aggregator)
	}

	scoring := d.Engine.Scorer().Config()
	lookback := scoring.BatchLookbackDays
	if scoring.GapLookbackDays > lookback {
		lookback = scoring.GapLookbackDays
	}

	return &CoverageService{
		store:       d.Store,
		locker:      d.Locker,
		engine:      d.Engine,
		aggregator:  d.Aggregator,
		reporter:    d.Reporter,
		expander:    careplan.NewExpander(),
		checker:     validator.NewConflictChecker(),
		metrics:     d.Metrics,
		enqueuer:    d.Enqueuer,
		log:         d.Logger.With().Str("component", "coverage_service").Logger(),
		lockTimeout: d.LockTimeout,
		lookback:    lookback,
		maxDays:     d.MaxRangeDays,
		readTimeout: d.ReadTimeout,
		now:         time.Now,
	}
}

func dbError(err error, message string) error {
	return apperrors.Wrap(err, apperrors.CodeDatabaseError, message)
}

func singleDay(date string) model.DateRange {
	return model.DateRange{StartDate: date, EndDate: date}
}

// validateRange 校验日期范围的格式、顺序与跨度
func (s *CoverageService) validateRange(dr model.DateRange) error {
	if err := dr.Validate(); err != nil {
		return apperrors.InvalidInput("date_range", err.Error())
	}
	if days := dr.Days(); days > s.maxDays {
		return apperrors.InvalidInput("date_range", fmt.Sprintf("跨度 %d 天超过上限 %d 天", days, s.maxDays))
	}
	return nil
}

// authorize 检查能力以及调用方的机构范围
func authorize(caller access.Caller, capability access.Capability, locationID string) error {
	if err := access.Require(caller, capability); err != nil {
		return err
	}
	if !caller.InLocation(locationID) {
		return apperrors.Forbidden(capability.String()).WithDetails("无权访问机构 " + locationID)
	}
	return nil
}

func (s *CoverageService) loadPatient(ctx context.Context, id string) (*model.Patient, error) {
	p, err := s.store.GetPatient(ctx, id)
	if err != nil {
		return nil, dbError(err, "查询患者失败")
	}
	if p == nil {
		return nil, apperrors.NotFound("patient", id)
	}
	return p, nil
}

func (s *CoverageService) loadBlock(ctx context.Context, id string) (*model.TimeBlock, error) {
	b, err := s.store.GetTimeBlock(ctx, id)
	if err != nil {
		return nil, dbError(err, "查询时间块失败")
	}
	if b == nil {
		return nil, apperrors.NotFound("time_block", id)
	}
	return b, nil
}

func (s *CoverageService) loadAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	a, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, dbError(err, "查询分配失败")
	}
	if a == nil {
		return nil, apperrors.NotFound("assignment", id)
	}
	return a, nil
}

// snapshot 评分所需的员工和分配快照
type snapshot struct {
	staff  []*model.Staff
	ledger *matcher.Ledger
}

// loadSnapshot 加载机构员工及其在 [起始日-回看天数, 结束日] 内的分配，以及患者自己的分配
func (s *CoverageService) loadSnapshot(ctx context.Context, patient *model.Patient, dr model.DateRange) (*snapshot, error) {
	staff, err := s.store.ListStaffByLocation(ctx, patient.LocationID)
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
	byPatient, err := s.store.ListAssignmentsByPatient(ctx, patient.ID, window)
	if err != nil {
		return nil, dbError(err, "查询患者分配失败")
	}

	ledger := matcher.NewLedger(append(byStaff, byPatient...)...)
	s.log.Debug().
		Str("patient_id", patient.ID).
		Int("staff", len(staff)).
		Int("assignments", ledger.Len()).
		Msg("快照已加载")
	return &snapshot{
		staff:  staff,
		ledger: ledger,
	}, nil
}

// commit 在员工锁内复查冲突后写入或更新分配
func (s *CoverageService) commit(ctx context.Context, a *model.Assignment, update bool) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	unlock, err := s.locker.Lock(lockCtx, lock.StaffKey(a.StaffID))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeTimeout, "获取员工锁超时")
	}
	defer unlock()

	existing, err := s.store.ListAssignmentsByStaff(ctx, a.StaffID, singleDay(a.Date))
	if err != nil {
		return dbError(err, "查询员工分配失败")
	}

	candidate := validator.Candidate{StaffID: a.StaffID, Date: a.Date, Range: a.Range()}
	if update {
		candidate.AssignmentID = a.ID
	}
	if err := s.checker.Validate(candidate, existing); err != nil {
		s.metrics.Conflict()
		return err
	}

	if update {
		err = s.store.UpdateAssignment(ctx, a)
	} else {
		err = s.store.CreateAssignment(ctx, a)
	}
	if err != nil {
		return dbError(err, "保存分配失败")
	}
	s.metrics.AssignmentCommitted(string(a.Method))
	return nil
}

// sink 引擎批处理的落地实现
type sink struct {
	s *CoverageService
}

var _ dispatcher.Sink = sink{}

func (k sink) Commit(ctx context.Context, a *model.Assignment) error {
	return k.s.commit(ctx, a, false)
}

func (k sink) Cancel(ctx context.Context, a *model.Assignment) error {
	a.Status = model.AssignmentCancelled
	if err := k.s.store.UpdateAssignment(ctx, a); err != nil {
		return dbError(err, "取消分配失败")
	}
	return nil
}

func (k sink) SaveBlock(ctx context.Context, b *model.TimeBlock) error {
	if err := k.s.store.UpdateTimeBlock(ctx, b); err != nil {
		return dbError(err, "保存时间块失败")
	}
	return nil
}

func (k sink) Recompute(ctx context.Context, patientID, date string) error {
	_, err := k.s.RecomputeCoverage(ctx, patientID, date)
	return err
}

// scheduleRecompute 有任务队列时异步重算，否则同步重算
func (s *CoverageService) scheduleRecompute(ctx context.Context, patientID, date string) error {
	if s.enqueuer != nil {
		err := s.enqueuer.EnqueueRecompute(ctx, patientID, date)
		if err == nil {
			return nil
		}
		s.log.Warn().Err(err).Str("patient_id", patientID).Str("date", date).Msg("重算任务入队失败，改为同步重算")
	}
	_, err := s.RecomputeCoverage(ctx, patientID, date)
	return err
}
