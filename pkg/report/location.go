// Package report 生成机构级覆盖报表
package report

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paiban/carecover/pkg/dispatcher"
	"github.com/paiban/carecover/pkg/dispatcher/matcher"
	"github.com/paiban/carecover/pkg/model"
	"github.com/paiban/carecover/pkg/resolution"
	"github.com/paiban/carecover/pkg/stats"
	"github.com/paiban/carecover/pkg/validator"
)

// Config 报表参数
type Config struct {
	Workers    int           `mapstructure:"workers"`
	Timeout    time.Duration `mapstructure:"timeout"`
	TopGaps    int           `mapstructure:"top_gaps"`
	TopOptions int           `mapstructure:"top_options"`
}

// DefaultConfig 默认报表参数
func DefaultConfig() Config {
	return Config{
		Workers:    8,
		Timeout:    20 * time.Second,
		TopGaps:    10,
		TopOptions: 20,
	}
}

// Input 报表输入快照
type Input struct {
	LocationID string
	DateRange  model.DateRange
	Patients   []*model.Patient
	Blocks     []*model.TimeBlock
	Staff      []*model.Staff
	Ledger     *matcher.Ledger
}

// Summary 报表汇总
type Summary struct {
	LocationID           string                   `json:"location_id"`
	StartDate            string                   `json:"start_date"`
	EndDate              string                   `json:"end_date"`
	TotalPatients        int                      `json:"total_patients"`
	PatientDays          int                      `json:"patient_days"`
	TotalRequiredMinutes int                      `json:"total_required_minutes"`
	CoveredMinutes       int                      `json:"covered_minutes"`
	OverallCoverage      float64                  `json:"overall_coverage"`
	TotalGaps            int                      `json:"total_gaps"`
	TotalGapMinutes      int                      `json:"total_gap_minutes"`
	AlertCounts          map[model.AlertLevel]int `json:"alert_counts"`
	RequiresAttention    int                      `json:"requires_attention"`
	WorkloadGini         float64                  `json:"workload_gini"`
	OverlapViolations    int                      `json:"overlap_violations"`
}

// PatientCoverage 患者在日期范围内的覆盖
type PatientCoverage struct {
	PatientID       string                  `json:"patient_id"`
	PatientName     string                  `json:"patient_name"`
	Days            int                     `json:"days"`
	RequiredMinutes int                     `json:"required_minutes"`
	CoveredMinutes  int                     `json:"covered_minutes"`
	Coverage        float64                 `json:"coverage"`
	GapCount        int                     `json:"gap_count"`
	GapMinutes      int                     `json:"gap_minutes"`
	WorstAlert      model.AlertLevel        `json:"worst_alert"`
	Records         []*model.CoverageRecord `json:"records"`
}

// GapItem 需要优先处理的缺口
type GapItem struct {
	PatientID  string           `json:"patient_id"`
	Block      *model.TimeBlock `json:"block"`
	Gap        model.Gap        `json:"gap"`
	AlertLevel model.AlertLevel `json:"alert_level"`
}

// LocationReport 机构覆盖报表
type LocationReport struct {
	Summary      Summary                                      `json:"summary"`
	Buckets      map[model.AlertLevel][]*model.CoverageRecord `json:"buckets"`
	Patients     []PatientCoverage                            `json:"patients"`
	Records      []*model.CoverageRecord                      `json:"records"`
	PriorityGaps []GapItem                                    `json:"priority_gaps"`
	Options      []resolution.Strategy                        `json:"options"`
	Workload     *stats.WorkloadDistribution                  `json:"workload"`
	Overlaps     []validator.Conflict                         `json:"overlaps"`
	Truncated    bool                                         `json:"truncated"`
	GeneratedAt  time.Time                                    `json:"generated_at"`
}

// Reporter 机构报表生成器
type Reporter struct {
	config     Config
	engine     *dispatcher.Engine
	aggregator *stats.CoverageAggregator
	workload   *stats.WorkloadAggregator
	checker    *validator.ConflictChecker
}

// NewReporter 创建报表生成器
func NewReporter(config Config, engine *dispatcher.Engine, aggregator *stats.CoverageAggregator) *Reporter {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Reporter{
		config:     config,
		engine:     engine,
		aggregator: aggregator,
		workload:   stats.NewWorkloadAggregator(),
		checker:    validator.NewConflictChecker(),
	}
}

type unit struct {
	patient *model.Patient
	date    string
	blocks  []*model.TimeBlock
}

// Build 在有限的工作协程中逐个 (患者, 日期) 计算覆盖，超时返回已完成的部分
func (r *Reporter) Build(ctx context.Context, in Input) (*LocationReport, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	units := r.units(in)
	days := make([]*stats.DayCoverage, len(units))
	var truncated atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)
	for i, u := range units {
		if gctx.Err() != nil {
			truncated.Store(true)
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				truncated.Store(true)
				return nil
			}
			rec := r.engine.Recommender(u.patient, in.Staff, in.Ledger)
			days[i] = r.aggregator.Aggregate(u.patient.ID, u.date, u.blocks, in.Ledger.Patient(u.patient.ID), rec)
			if days[i].Record.LocationID == "" {
				days[i].Record.LocationID = in.LocationID
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &LocationReport{
		Buckets:     make(map[model.AlertLevel][]*model.CoverageRecord),
		Patients:    []PatientCoverage{},
		Records:     []*model.CoverageRecord{},
		Options:     []resolution.Strategy{},
		Truncated:   truncated.Load(),
		GeneratedAt: time.Now(),
	}
	report.Summary = Summary{
		LocationID:    in.LocationID,
		StartDate:     in.DateRange.StartDate,
		EndDate:       in.DateRange.EndDate,
		TotalPatients: len(in.Patients),
		AlertCounts:   make(map[model.AlertLevel]int),
	}

	r.collect(report, in, units, days)
	report.PriorityGaps = r.priorityGaps(units, days)
	report.Options = r.options(report.PriorityGaps, in)

	var inRange []*model.Assignment
	for _, a := range in.Ledger.All() {
		if in.DateRange.Includes(a.Date) {
			inRange = append(inRange, a)
		}
	}
	report.Workload = r.workload.Distribution(inRange, in.Staff)
	report.Summary.WorkloadGini = report.Workload.Gini

	// 已落库分配之间的重叠，正常写入路径下应为零
	report.Overlaps = r.checker.DetectOverlaps(inRange)
	if report.Overlaps == nil {
		report.Overlaps = []validator.Conflict{}
	}
	report.Summary.OverlapViolations = len(report.Overlaps)

	return report, nil
}

// units 每位患者每天一个计算单元，没有时间块的日期跳过
func (r *Reporter) units(in Input) []unit {
	byKey := make(map[string][]*model.TimeBlock)
	for _, b := range in.Blocks {
		if !in.DateRange.Includes(b.Date) {
			continue
		}
		key := b.PatientID + "|" + b.Date
		byKey[key] = append(byKey[key], b)
	}

	var units []unit
	for _, p := range in.Patients {
		for _, date := range in.DateRange.Dates() {
			blocks := byKey[p.ID+"|"+date]
			if len(blocks) == 0 {
				continue
			}
			units = append(units, unit{patient: p, date: date, blocks: blocks})
		}
	}
	return units
}

func (r *Reporter) collect(report *LocationReport, in Input, units []unit, days []*stats.DayCoverage) {
	byPatient := make(map[string]*PatientCoverage)
	var order []string
	s := &report.Summary

	for i, day := range days {
		if day == nil {
			continue
		}
		rec := day.Record
		p := units[i].patient

		s.PatientDays++
		s.TotalRequiredMinutes += rec.TotalRequiredMinutes
		s.CoveredMinutes += rec.CoveredMinutes
		s.TotalGaps += rec.GapCount
		s.TotalGapMinutes += rec.TotalGapMinutes
		s.AlertCounts[rec.AlertLevel]++
		if rec.RequiresAttention {
			s.RequiresAttention++
		}
		report.Buckets[rec.AlertLevel] = append(report.Buckets[rec.AlertLevel], rec)
		report.Records = append(report.Records, rec)

		pc, ok := byPatient[p.ID]
		if !ok {
			pc = &PatientCoverage{PatientID: p.ID, PatientName: p.Name, WorstAlert: model.AlertNone}
			byPatient[p.ID] = pc
			order = append(order, p.ID)
		}
		pc.Days++
		pc.RequiredMinutes += rec.TotalRequiredMinutes
		pc.CoveredMinutes += rec.CoveredMinutes
		pc.GapCount += rec.GapCount
		pc.GapMinutes += rec.TotalGapMinutes
		if rec.AlertLevel.Severity() > pc.WorstAlert.Severity() {
			pc.WorstAlert = rec.AlertLevel
		}
		pc.Records = append(pc.Records, rec)
	}

	if s.TotalRequiredMinutes > 0 {
		s.OverallCoverage = float64(s.CoveredMinutes) / float64(s.TotalRequiredMinutes)
	}

	for _, id := range order {
		pc := byPatient[id]
		if pc.RequiredMinutes > 0 {
			pc.Coverage = float64(pc.CoveredMinutes) / float64(pc.RequiredMinutes)
		}
		report.Patients = append(report.Patients, *pc)
	}
	// 告警最严重、覆盖率最低的患者排在前面
	sort.SliceStable(report.Patients, func(i, j int) bool {
		a, b := report.Patients[i], report.Patients[j]
		if a.WorstAlert.Severity() != b.WorstAlert.Severity() {
			return a.WorstAlert.Severity() > b.WorstAlert.Severity()
		}
		return a.Coverage < b.Coverage
	})
}

// priorityGaps 告警为 critical/high 的日期中的缺口，按时间块优先级、缺口时长排序取前N个
func (r *Reporter) priorityGaps(units []unit, days []*stats.DayCoverage) []GapItem {
	var items []GapItem
	for i, day := range days {
		if day == nil {
			continue
		}
		level := day.Record.AlertLevel
		if level != model.AlertCritical && level != model.AlertHigh {
			continue
		}
		for _, bc := range day.Blocks {
			for _, g := range bc.Analysis.Gaps {
				items = append(items, GapItem{
					PatientID:  units[i].patient.ID,
					Block:      bc.Block,
					Gap:        g,
					AlertLevel: level,
				})
			}
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		pi, pj := items[i].Block.Priority.Rank(), items[j].Block.Priority.Rank()
		if pi != pj {
			return pi > pj
		}
		if items[i].Gap.DurationMinutes != items[j].Gap.DurationMinutes {
			return items[i].Gap.DurationMinutes > items[j].Gap.DurationMinutes
		}
		if items[i].Block.Date != items[j].Block.Date {
			return items[i].Block.Date < items[j].Block.Date
		}
		return items[i].Gap.StartTime.Before(items[j].Gap.StartTime)
	})

	if len(items) > r.config.TopGaps {
		items = items[:r.config.TopGaps]
	}
	return items
}

// options 为优先缺口生成处理方案，最多保留 TopOptions 条
func (r *Reporter) options(items []GapItem, in Input) []resolution.Strategy {
	patients := make(map[string]*model.Patient, len(in.Patients))
	for _, p := range in.Patients {
		patients[p.ID] = p
	}

	out := []resolution.Strategy{}
	for _, item := range items {
		for _, s := range r.engine.GapStrategies(item.Block, item.Gap, patients[item.PatientID], in.Staff, in.Ledger) {
			if len(out) >= r.config.TopOptions {
				return out
			}
			out = append(out, s)
		}
	}
	return out
}
