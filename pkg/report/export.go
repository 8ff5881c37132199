package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/paiban/carecover/pkg/model"
)

const (
	summarySheet  = "汇总"
	patientsSheet = "患者覆盖"
	recordsSheet  = "每日覆盖"
	gapsSheet     = "优先缺口"
	optionsSheet  = "处理方案"
)

var alertOrder = []model.AlertLevel{
	model.AlertCritical, model.AlertHigh, model.AlertMedium, model.AlertLow, model.AlertNone,
}

// ExportXLSX 将机构报表导出为 Excel 文件
func ExportXLSX(report *LocationReport) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteXLSX(report, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteXLSX 将机构报表写入 w
func WriteXLSX(report *LocationReport, w io.Writer) error {
	f := excelize.NewFile()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "#000000", Style: 1},
			{Type: "top", Color: "#000000", Style: 1},
			{Type: "bottom", Color: "#000000", Style: 1},
			{Type: "right", Color: "#000000", Style: 1},
		},
	})
	if err != nil {
		f.Close()
		return fmt.Errorf("创建表头样式失败: %w", err)
	}

	for _, write := range []func(*excelize.File, int, *LocationReport) error{
		writeSummary, writePatients, writeRecords, writeGaps, writeOptions,
	} {
		if err := write(f, header, report); err != nil {
			f.Close()
			return err
		}
	}

	f.DeleteSheet("Sheet1")
	if idx, err := f.GetSheetIndex(summarySheet); err == nil {
		f.SetActiveSheet(idx)
	}

	if _, err := f.WriteTo(w); err != nil {
		f.Close()
		return fmt.Errorf("写入Excel失败: %w", err)
	}
	return f.Close()
}

// writeTable 写表头和数据行，并按表头设置列宽
func writeTable(f *excelize.File, sheet string, header int, columns []string, widths []float64, rows [][]interface{}) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("创建工作表 %s 失败: %w", sheet, err)
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return fmt.Errorf("写入表头失败: %w", err)
		}
		f.SetCellStyle(sheet, cell, cell, header)
	}

	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("写入单元格 %s 失败: %w", cell, err)
			}
		}
	}

	for i, width := range widths {
		name, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, name, name, width)
	}
	return nil
}

func writeSummary(f *excelize.File, header int, report *LocationReport) error {
	s := report.Summary
	rows := [][]interface{}{
		{"机构", s.LocationID},
		{"开始日期", s.StartDate},
		{"结束日期", s.EndDate},
		{"患者数", s.TotalPatients},
		{"患者日数", s.PatientDays},
		{"需求分钟", s.TotalRequiredMinutes},
		{"已覆盖分钟", s.CoveredMinutes},
		{"整体覆盖率", percent(s.OverallCoverage)},
		{"缺口数", s.TotalGaps},
		{"缺口分钟", s.TotalGapMinutes},
		{"需要关注", s.RequiresAttention},
		{"工作量基尼系数", fmt.Sprintf("%.4f", s.WorkloadGini)},
		{"重叠分配", s.OverlapViolations},
		{"是否截断", report.Truncated},
	}
	for _, level := range alertOrder {
		rows = append(rows, []interface{}{"告警 " + string(level), s.AlertCounts[level]})
	}
	return writeTable(f, summarySheet, header, []string{"指标", "值"}, []float64{18, 24}, rows)
}

func writePatients(f *excelize.File, header int, report *LocationReport) error {
	columns := []string{"患者ID", "姓名", "天数", "需求分钟", "已覆盖分钟", "覆盖率", "缺口数", "缺口分钟", "最高告警"}
	widths := []float64{38, 16, 8, 12, 12, 10, 10, 12, 12}

	rows := make([][]interface{}, 0, len(report.Patients))
	for _, p := range report.Patients {
		rows = append(rows, []interface{}{
			p.PatientID, p.PatientName, p.Days, p.RequiredMinutes, p.CoveredMinutes,
			percent(p.Coverage), p.GapCount, p.GapMinutes, string(p.WorstAlert),
		})
	}
	return writeTable(f, patientsSheet, header, columns, widths, rows)
}

func writeRecords(f *excelize.File, header int, report *LocationReport) error {
	columns := []string{"患者ID", "日期", "时间块数", "需求分钟", "已覆盖分钟", "覆盖率", "缺口数", "缺口分钟", "告警", "需要关注", "建议"}
	widths := []float64{38, 12, 10, 12, 12, 10, 10, 12, 10, 10, 60}

	rows := make([][]interface{}, 0, len(report.Records))
	for _, r := range report.Records {
		rows = append(rows, []interface{}{
			r.PatientID, r.Date, r.BlockCount, r.TotalRequiredMinutes, r.CoveredMinutes,
			percent(r.CoveragePercentage), r.GapCount, r.TotalGapMinutes, string(r.AlertLevel),
			r.RequiresAttention, strings.Join(r.Recommendations, "; "),
		})
	}
	return writeTable(f, recordsSheet, header, columns, widths, rows)
}

func writeGaps(f *excelize.File, header int, report *LocationReport) error {
	columns := []string{"患者ID", "时间块ID", "日期", "优先级", "开始", "结束", "分钟", "类型", "告警"}
	widths := []float64{38, 38, 12, 10, 8, 8, 8, 12, 10}

	rows := make([][]interface{}, 0, len(report.PriorityGaps))
	for _, g := range report.PriorityGaps {
		rows = append(rows, []interface{}{
			g.PatientID, g.Block.ID, g.Block.Date, string(g.Block.Priority),
			g.Gap.StartTime.Format("15:04"), g.Gap.EndTime.Format("15:04"),
			g.Gap.DurationMinutes, string(g.Gap.Type), string(g.AlertLevel),
		})
	}
	return writeTable(f, gapsSheet, header, columns, widths, rows)
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func writeOptions(f *excelize.File, header int, report *LocationReport) error {
	columns := []string{"时间块ID", "日期", "方案", "说明", "置信度", "影响"}
	widths := []float64{38, 12, 20, 60, 10, 10}

	rows := make([][]interface{}, 0, len(report.Options))
	for _, o := range report.Options {
		rows = append(rows, []interface{}{
			o.TimeBlockID, o.Date, string(o.Type), o.Description,
			fmt.Sprintf("%.2f", o.Confidence), string(o.Impact),
		})
	}
	return writeTable(f, optionsSheet, header, columns, widths, rows)
}
