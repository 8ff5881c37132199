package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/paiban/carecover/pkg/dispatcher"
	"github.com/paiban/carecover/pkg/dispatcher/matcher"
	"github.com/paiban/carecover/pkg/logger"
	"github.com/paiban/carecover/pkg/model"
	"github.com/paiban/carecover/pkg/stats"
)

var base = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(d, h int) time.Time {
	return base.AddDate(0, 0, d).Add(time.Duration(h) * time.Hour)
}

func block(id, patientID string, d, startH, endH int, priority model.Priority) *model.TimeBlock {
	return &model.TimeBlock{
		BaseModel:          model.BaseModel{ID: id},
		PatientID:          patientID,
		LocationID:         "loc-1",
		Date:               at(d, 0).Format(model.DateLayout),
		StartTime:          at(d, startH),
		EndTime:            at(d, endH),
		DurationMinutes:    (endH - startH) * 60,
		Priority:           priority,
		AllowSubstitutions: true,
	}
}

func assignment(id, staffID string, b *model.TimeBlock, startH, endH int) *model.Assignment {
	d := int(b.StartTime.Sub(base).Hours()) / 24
	return &model.Assignment{
		BaseModel:   model.BaseModel{ID: id},
		StaffID:     staffID,
		TimeBlockID: b.ID,
		PatientID:   b.PatientID,
		Date:        b.Date,
		StartTime:   at(d, startH),
		EndTime:     at(d, endH),
		Status:      model.AssignmentConfirmed,
	}
}

func fixture() Input {
	b1 := block("b-1", "p-1", 0, 9, 12, model.PriorityCritical)
	b2 := block("b-2", "p-1", 1, 9, 12, model.PriorityMedium)
	b3 := block("b-3", "p-2", 0, 13, 15, model.PriorityHigh)
	// 范围外的时间块不计入
	b4 := block("b-4", "p-2", 5, 9, 10, model.PriorityLow)

	return Input{
		LocationID: "loc-1",
		DateRange:  model.DateRange{StartDate: "2026-03-02", EndDate: "2026-03-03"},
		Patients: []*model.Patient{
			{ID: "p-2", Name: "乙"},
			{ID: "p-1", Name: "甲"},
		},
		Blocks: []*model.TimeBlock{b1, b2, b3, b4},
		Staff: []*model.Staff{
			{ID: "s-1", Name: "张三", Status: model.StaffActive},
			{ID: "s-2", Name: "李四", Status: model.StaffActive},
		},
		Ledger: matcher.NewLedger(
			assignment("a-1", "s-1", b2, 9, 12),
			assignment("a-2", "s-2", b3, 13, 14),
		),
	}
}

func newReporter(cfg Config) *Reporter {
	engine := dispatcher.NewEngine(dispatcher.DefaultConfig(), logger.Nop())
	return NewReporter(cfg, engine, stats.NewCoverageAggregator(stats.DefaultAlertPolicy()))
}

func TestReporter_Build(t *testing.T) {
	report, err := newReporter(DefaultConfig()).Build(context.Background(), fixture())
	if err != nil {
		t.Fatalf("Build 失败: %v", err)
	}

	s := report.Summary
	if s.PatientDays != 3 {
		t.Errorf("PatientDays = %d, expected 3", s.PatientDays)
	}
	if s.TotalRequiredMinutes != 480 || s.CoveredMinutes != 240 {
		t.Errorf("需求/覆盖分钟 = %d/%d, expected 480/240", s.TotalRequiredMinutes, s.CoveredMinutes)
	}
	if s.OverallCoverage != 0.5 {
		t.Errorf("OverallCoverage = %v, expected 0.5", s.OverallCoverage)
	}
	if s.AlertCounts[model.AlertCritical] != 1 || s.AlertCounts[model.AlertHigh] != 1 || s.AlertCounts[model.AlertNone] != 1 {
		t.Errorf("告警计数不正确: %v", s.AlertCounts)
	}
	if s.RequiresAttention != 2 {
		t.Errorf("RequiresAttention = %d, expected 2", s.RequiresAttention)
	}
	if len(report.Buckets[model.AlertCritical]) != 1 || report.Buckets[model.AlertCritical][0].PatientID != "p-1" {
		t.Errorf("critical 分桶不正确: %+v", report.Buckets[model.AlertCritical])
	}
	if report.Truncated {
		t.Error("不应截断")
	}
}

func TestReporter_PatientOrder(t *testing.T) {
	report, _ := newReporter(DefaultConfig()).Build(context.Background(), fixture())

	if len(report.Patients) != 2 {
		t.Fatalf("患者数 = %d, expected 2", len(report.Patients))
	}
	first := report.Patients[0]
	if first.PatientID != "p-1" || first.WorstAlert != model.AlertCritical {
		t.Errorf("最严重的患者应排在前面, got %s/%s", first.PatientID, first.WorstAlert)
	}
	if first.Days != 2 || first.RequiredMinutes != 360 || first.CoveredMinutes != 180 {
		t.Errorf("p-1 汇总不正确: %+v", first)
	}
}

func TestReporter_PriorityGaps(t *testing.T) {
	report, _ := newReporter(DefaultConfig()).Build(context.Background(), fixture())

	if len(report.PriorityGaps) != 2 {
		t.Fatalf("优先缺口数 = %d, expected 2", len(report.PriorityGaps))
	}
	if report.PriorityGaps[0].Block.ID != "b-1" || report.PriorityGaps[0].Gap.DurationMinutes != 180 {
		t.Errorf("critical 时间块的缺口应排第一, got %+v", report.PriorityGaps[0])
	}
	if report.PriorityGaps[1].Block.ID != "b-3" || report.PriorityGaps[1].Gap.Type != model.GapPartial {
		t.Errorf("第二个缺口应为 b-3 的部分缺口, got %+v", report.PriorityGaps[1])
	}
	if len(report.Options) == 0 {
		t.Error("应为优先缺口生成方案")
	}
}

func TestReporter_Limits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopGaps = 1
	cfg.TopOptions = 1
	report, _ := newReporter(cfg).Build(context.Background(), fixture())

	if len(report.PriorityGaps) != 1 {
		t.Errorf("优先缺口应截取为 1, got %d", len(report.PriorityGaps))
	}
	if len(report.Options) != 1 {
		t.Errorf("方案应截取为 1, got %d", len(report.Options))
	}
}

func TestReporter_Workload(t *testing.T) {
	report, _ := newReporter(DefaultConfig()).Build(context.Background(), fixture())

	if report.Workload == nil {
		t.Fatal("应包含工作量分布")
	}
	if report.Summary.WorkloadGini != report.Workload.Gini {
		t.Errorf("汇总中的基尼系数应与分布一致")
	}
	if report.Workload.Gini <= 0 {
		t.Errorf("工作量不均衡时基尼系数应大于0, got %v", report.Workload.Gini)
	}
}

func TestReporter_OverlapViolations(t *testing.T) {
	in := fixture()
	report, err := newReporter(DefaultConfig()).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build 失败: %v", err)
	}
	if report.Summary.OverlapViolations != 0 || len(report.Overlaps) != 0 {
		t.Errorf("无重叠时 OverlapViolations = %d", report.Summary.OverlapViolations)
	}

	// 绕过写入检查产生的重叠分配，以及范围外的重叠
	b1 := in.Blocks[0]
	b4 := in.Blocks[3]
	in.Ledger.Add(assignment("a-3", "s-1", b1, 10, 11))
	in.Ledger.Add(assignment("a-4", "s-1", b1, 9, 10))
	in.Ledger.Add(assignment("a-5", "s-2", b4, 9, 10))
	in.Ledger.Add(assignment("a-6", "s-2", b4, 9, 10))

	report, err = newReporter(DefaultConfig()).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build 失败: %v", err)
	}
	if report.Summary.OverlapViolations != 0 {
		t.Errorf("首尾相接不算重叠, got %d", report.Summary.OverlapViolations)
	}

	in.Ledger.Add(assignment("a-7", "s-1", b1, 9, 11))
	report, err = newReporter(DefaultConfig()).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build 失败: %v", err)
	}
	if report.Summary.OverlapViolations != 2 {
		t.Fatalf("OverlapViolations = %d, expected 2", report.Summary.OverlapViolations)
	}
	for _, c := range report.Overlaps {
		if c.StaffID != "s-1" || c.Date != "2026-03-02" {
			t.Errorf("范围外或其他员工的重叠不应计入: %+v", c)
		}
	}
}

func TestReporter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newReporter(DefaultConfig()).Build(ctx, fixture())
	if err != nil {
		t.Fatalf("取消后应返回部分结果, got %v", err)
	}
	if !report.Truncated {
		t.Error("ctx 已取消时应标记截断")
	}
	if report.Summary.PatientDays != 0 {
		t.Errorf("PatientDays = %d, expected 0", report.Summary.PatientDays)
	}
}

func TestWriteXLSX(t *testing.T) {
	report, _ := newReporter(DefaultConfig()).Build(context.Background(), fixture())

	data, err := ExportXLSX(report)
	if err != nil {
		t.Fatalf("导出失败: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("读取导出文件失败: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 5 || sheets[0] != summarySheet {
		t.Fatalf("工作表 = %v", sheets)
	}

	rows, err := f.GetRows(patientsSheet)
	if err != nil {
		t.Fatalf("读取患者表失败: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("患者表行数 = %d, expected 3", len(rows))
	}
	if rows[1][0] != "p-1" {
		t.Errorf("第一行患者 = %s, expected p-1", rows[1][0])
	}

	records, _ := f.GetRows(recordsSheet)
	if len(records) != 4 {
		t.Errorf("每日覆盖表行数 = %d, expected 4", len(records))
	}

	gaps, _ := f.GetRows(gapsSheet)
	if len(gaps) != 3 || gaps[1][2] != "2026-03-02" || gaps[1][4] != "09:00" {
		t.Errorf("缺口表内容不正确: %v", gaps)
	}
}
