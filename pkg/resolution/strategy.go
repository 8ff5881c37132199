// Package resolution 为覆盖缺口生成处理方案
package resolution

import (
	"fmt"
	"time"

	"github.com/paiban/carecover/pkg/dispatcher/matcher"
	"github.com/paiban/carecover/pkg/interval"
	"github.com/paiban/carecover/pkg/model"
)

// StrategyType 方案类型
type StrategyType string

const (
	StrategyDirect     StrategyType = "direct_assignment"
	StrategySplit      StrategyType = "split_assignment"
	StrategyExtend     StrategyType = "extend_assignment"
	StrategyReschedule StrategyType = "reschedule"
)

// Impact 方案影响
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// Proposal 方案中的一条拟分配
type Proposal struct {
	StaffID      string    `json:"staff_id"`
	AssignmentID string    `json:"assignment_id,omitempty"` // 延长已有分配时填写
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

// Range 拟分配时间范围
func (p Proposal) Range() model.TimeRange {
	return model.TimeRange{Start: p.StartTime, End: p.EndTime}
}

// Strategy 处理方案（仅建议，不会自动提交）
type Strategy struct {
	Type        StrategyType `json:"type"`
	TimeBlockID string       `json:"time_block_id"`
	PatientID   string       `json:"patient_id"`
	Date        string       `json:"date"`
	Gap         model.Gap    `json:"gap"`
	Description string       `json:"description"`
	Proposals   []Proposal   `json:"proposals,omitempty"`
	Confidence  float64      `json:"confidence"`
	Impact      Impact       `json:"impact"`
	// 延长方案提交前必须对新边界重新做冲突检查
	RequiresConflictCheck bool `json:"requires_conflict_check"`
}

// Config 方案参数
type Config struct {
	LongGapMinutes   int     `mapstructure:"long_gap_minutes"`
	ExtendConfidence float64 `mapstructure:"extend_confidence"`
	RescheduleScore  float64 `mapstructure:"reschedule_confidence"`
}

// DefaultConfig 默认方案参数
func DefaultConfig() Config {
	return Config{
		LongGapMinutes:   60,
		ExtendConfidence: 0.7,
		RescheduleScore:  0.5,
	}
}

// Generator 方案生成器
type Generator struct {
	config Config
}

// NewGenerator 创建方案生成器
func NewGenerator(config Config) *Generator {
	return &Generator{config: config}
}

// Generate 按 直接分配、拆分、延长、改期 的顺序生成方案
// candidates 为针对该缺口评分排序后的候选人，existing 为时间块上的已有分配
func (g *Generator) Generate(block *model.TimeBlock, gp model.Gap, candidates []matcher.Candidate, existing []*model.Assignment) []Strategy {
	var strategies []Strategy
	long := gp.DurationMinutes >= g.config.LongGapMinutes

	if len(candidates) > 0 {
		top := candidates[0]
		impact := ImpactMedium
		if long {
			impact = ImpactHigh
		}
		strategies = append(strategies, g.newStrategy(block, gp, Strategy{
			Type:        StrategyDirect,
			Description: fmt.Sprintf("Assign %s to cover %s-%s (%d min)", displayName(top), clock(gp.StartTime), clock(gp.EndTime), gp.DurationMinutes),
			Proposals:   []Proposal{{StaffID: top.StaffID, StartTime: gp.StartTime, EndTime: gp.EndTime}},
			Confidence:  top.Score,
			Impact:      impact,
		}))
	}

	if s, ok := g.split(block, gp, candidates, long); ok {
		strategies = append(strategies, s)
	}

	if s, ok := g.extend(block, gp, existing); ok {
		strategies = append(strategies, s)
	}

	if len(candidates) == 0 {
		strategies = append(strategies, g.newStrategy(block, gp, Strategy{
			Type:        StrategyReschedule,
			Description: fmt.Sprintf("No available staff for %s-%s; reschedule the session", clock(gp.StartTime), clock(gp.EndTime)),
			Confidence:  g.config.RescheduleScore,
			Impact:      ImpactLow,
		}))
	}

	return strategies
}

// split 长缺口且允许拆分时，前两名候选人按中点各覆盖一半
func (g *Generator) split(block *model.TimeBlock, gp model.Gap, candidates []matcher.Candidate, long bool) (Strategy, bool) {
	if !long || !block.CanSplit || len(candidates) < 2 {
		return Strategy{}, false
	}

	mid := interval.Midpoint(gp.Range())
	first := model.TimeRange{Start: gp.StartTime, End: mid}
	second := model.TimeRange{Start: mid, End: gp.EndTime}
	if block.MinimumContinuousMinutes > 0 &&
		(first.Minutes() < block.MinimumContinuousMinutes || second.Minutes() < block.MinimumContinuousMinutes) {
		return Strategy{}, false
	}

	a, b := candidates[0], candidates[1]
	confidence := a.Score
	if b.Score < confidence {
		confidence = b.Score
	}

	return g.newStrategy(block, gp, Strategy{
		Type: StrategySplit,
		Description: fmt.Sprintf("Split %s-%s between %s (%s-%s) and %s (%s-%s)",
			clock(gp.StartTime), clock(gp.EndTime),
			displayName(a), clock(first.Start), clock(first.End),
			displayName(b), clock(second.Start), clock(second.End)),
		Proposals: []Proposal{
			{StaffID: a.StaffID, StartTime: first.Start, EndTime: first.End},
			{StaffID: b.StaffID, StartTime: second.Start, EndTime: second.End},
		},
		Confidence: confidence,
		Impact:     ImpactMedium,
	}), true
}

// extend 延长与缺口相邻（否则最近）的已有分配
func (g *Generator) extend(block *model.TimeBlock, gp model.Gap, existing []*model.Assignment) (Strategy, bool) {
	var best *model.Assignment
	var bestDistance time.Duration
	for _, a := range existing {
		if !a.IsActive() {
			continue
		}
		d := distance(a.Range(), gp.Range())
		if best == nil || d < bestDistance || (d == bestDistance && a.ID < best.ID) {
			best, bestDistance = a, d
		}
	}
	if best == nil {
		return Strategy{}, false
	}

	start, end := best.StartTime, best.EndTime
	if gp.StartTime.Before(start) {
		start = gp.StartTime
	}
	if gp.EndTime.After(end) {
		end = gp.EndTime
	}

	return g.newStrategy(block, gp, Strategy{
		Type:        StrategyExtend,
		Description: fmt.Sprintf("Extend %s's assignment to %s-%s", best.StaffID, clock(start), clock(end)),
		Proposals: []Proposal{{
			StaffID:      best.StaffID,
			AssignmentID: best.ID,
			StartTime:    start,
			EndTime:      end,
		}},
		Confidence:            g.config.ExtendConfidence,
		Impact:                ImpactMedium,
		RequiresConflictCheck: true,
	}), true
}

func (g *Generator) newStrategy(block *model.TimeBlock, gp model.Gap, s Strategy) Strategy {
	s.TimeBlockID = block.ID
	s.PatientID = block.PatientID
	s.Date = block.Date
	s.Gap = gp
	return s
}

// distance 两个区间之间的间隔，相接或重叠为0
func distance(a, b model.TimeRange) time.Duration {
	switch {
	case a.End.Before(b.Start):
		return b.Start.Sub(a.End)
	case b.End.Before(a.Start):
		return a.Start.Sub(b.End)
	default:
		return 0
	}
}

func displayName(c matcher.Candidate) string {
	if c.StaffName != "" {
		return c.StaffName
	}
	return c.StaffID
}

func clock(t time.Time) string {
	return t.Format("15:04")
}
