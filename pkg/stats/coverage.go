package stats

import (
	"sort"
	"time"

	"github.com/paiban/carecover/pkg/gap"
	"github.com/paiban/carecover/pkg/model"
)

// AlertPolicy 覆盖告警阈值
type AlertPolicy struct {
	CriticalBelow       float64 `mapstructure:"critical_below" json:"critical_below"`
	HighBelow           float64 `mapstructure:"high_below" json:"high_below"`
	MediumBelow         float64 `mapstructure:"medium_below" json:"medium_below"`
	RecommendationLimit int     `mapstructure:"recommendation_limit" json:"recommendation_limit"`
}

// DefaultAlertPolicy 默认阈值 50%/75%/90%，最多3条建议
func DefaultAlertPolicy() AlertPolicy {
	return AlertPolicy{
		CriticalBelow:       0.50,
		HighBelow:           0.75,
		MediumBelow:         0.90,
		RecommendationLimit: 3,
	}
}

// Recommendation 针对缺口的处理建议
type Recommendation struct {
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Recommender 为缺口生成建议，由调用方注入
type Recommender interface {
	Recommend(block *model.TimeBlock, g model.Gap) []Recommendation
}

// BlockCoverage 单个时间块的覆盖情况
type BlockCoverage struct {
	Block    *model.TimeBlock `json:"block"`
	Analysis *gap.Analysis    `json:"analysis"`
}

// DayCoverage 患者某日的覆盖结果
type DayCoverage struct {
	Record *model.CoverageRecord `json:"record"`
	Blocks []BlockCoverage       `json:"blocks"`
}

// CoverageAggregator 汇总患者每日覆盖并判定告警级别
type CoverageAggregator struct {
	policy   AlertPolicy
	analyzer *gap.Analyzer
	now      func() time.Time
}

// NewCoverageAggregator 创建覆盖汇总器
func NewCoverageAggregator(policy AlertPolicy) *CoverageAggregator {
	if policy.RecommendationLimit <= 0 {
		policy.RecommendationLimit = DefaultAlertPolicy().RecommendationLimit
	}
	return &CoverageAggregator{
		policy:   policy,
		analyzer: gap.NewAnalyzer(),
		now:      time.Now,
	}
}

// Policy 当前阈值
func (c *CoverageAggregator) Policy() AlertPolicy {
	return c.policy
}

// Aggregate 计算某患者某日的覆盖记录，blocks 为当天的时间块，assignments 为患者当天的分配
func (c *CoverageAggregator) Aggregate(patientID, date string, blocks []*model.TimeBlock, assignments []*model.Assignment, rec Recommender) *DayCoverage {
	record := &model.CoverageRecord{
		PatientID:   patientID,
		Date:        date,
		AlertLevel:  model.AlertNone,
		GeneratedAt: c.now(),
	}
	day := &DayCoverage{Record: record}

	sorted := make([]*model.TimeBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.Date != date || b.IsCancelled() {
			continue
		}
		sorted = append(sorted, b)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StartTime.Equal(sorted[j].StartTime) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})

	for _, b := range sorted {
		if record.LocationID == "" {
			record.LocationID = b.LocationID
		}
		analysis := c.analyzer.Analyze(b, gap.ForBlock(b, assignments))
		day.Blocks = append(day.Blocks, BlockCoverage{Block: b, Analysis: analysis})

		record.BlockCount++
		record.TotalRequiredMinutes += analysis.RequiredMinutes
		record.CoveredMinutes += analysis.CoveredMinutes
		record.GapCount += len(analysis.Gaps)
		record.TotalGapMinutes += analysis.GapMinutes
	}

	if record.TotalRequiredMinutes > 0 {
		record.CoveragePercentage = float64(record.CoveredMinutes) / float64(record.TotalRequiredMinutes)
	}
	record.AlertLevel, record.RequiresAttention = c.Classify(record.CoveragePercentage, day.Blocks)
	record.Recommendations = c.recommend(day.Blocks, rec)
	return day
}

// Classify 根据覆盖率和关键时间块判定告警级别与是否需要关注
func (c *CoverageAggregator) Classify(coverage float64, blocks []BlockCoverage) (model.AlertLevel, bool) {
	criticalUncovered := false
	criticalIncomplete := false
	hasGaps := false
	for _, bc := range blocks {
		if bc.Analysis.HasGaps() {
			hasGaps = true
		}
		if bc.Block.Priority != model.PriorityCritical {
			continue
		}
		if bc.Analysis.Coverage <= 0 {
			criticalUncovered = true
		}
		if bc.Analysis.Coverage < 1 {
			criticalIncomplete = true
		}
	}

	var level model.AlertLevel
	switch {
	case len(blocks) == 0:
		level = model.AlertNone
	case coverage < c.policy.CriticalBelow || criticalUncovered:
		level = model.AlertCritical
	case coverage < c.policy.HighBelow:
		level = model.AlertHigh
	case coverage < c.policy.MediumBelow:
		level = model.AlertMedium
	case hasGaps:
		level = model.AlertLow
	default:
		level = model.AlertNone
	}

	attention := level == model.AlertHigh || level == model.AlertCritical || criticalIncomplete
	return level, attention
}

// recommend 汇总所有缺口的建议，按置信度取前N条
func (c *CoverageAggregator) recommend(blocks []BlockCoverage, rec Recommender) []string {
	if rec == nil {
		return nil
	}

	var all []Recommendation
	for _, bc := range blocks {
		for _, g := range bc.Analysis.Gaps {
			all = append(all, rec.Recommend(bc.Block, g)...)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Confidence > all[j].Confidence
	})

	var out []string
	for _, r := range all {
		if len(out) >= c.policy.RecommendationLimit {
			break
		}
		out = append(out, r.Description)
	}
	return out
}
