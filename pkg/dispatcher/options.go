package dispatcher

import (
	"github.com/paiban/carecover/pkg/dispatcher/matcher"
	"github.com/paiban/carecover/pkg/gap"
	"github.com/paiban/carecover/pkg/model"
	"github.com/paiban/carecover/pkg/resolution"
	"github.com/paiban/carecover/pkg/stats"
)

// GapOptions 单个缺口的候选人与方案
type GapOptions struct {
	Gap        model.Gap             `json:"gap"`
	Candidates []matcher.Candidate   `json:"candidates"`
	Strategies []resolution.Strategy `json:"strategies"`
}

// BlockOptions 时间块的缺口分析与方案
type BlockOptions struct {
	Block    *model.TimeBlock `json:"block"`
	Analysis *gap.Analysis    `json:"analysis"`
	Gaps     []GapOptions     `json:"gaps"`
}

// Options 为时间块的每个缺口评分并生成方案，只读
func (e *Engine) Options(block *model.TimeBlock, patient *model.Patient, staff []*model.Staff, ledger *matcher.Ledger) *BlockOptions {
	existing := blockAssignments(block, ledger)
	analysis := e.analyzer.Analyze(block, existing)

	out := &BlockOptions{Block: block, Analysis: analysis, Gaps: []GapOptions{}}
	for _, g := range analysis.Gaps {
		out.Gaps = append(out.Gaps, e.gapOptions(block, g, patient, staff, ledger, existing))
	}
	return out
}

func (e *Engine) gapOptions(block *model.TimeBlock, g model.Gap, patient *model.Patient, staff []*model.Staff, ledger *matcher.Ledger, existing []*model.Assignment) GapOptions {
	candidates, _ := e.scorer.Rank(matcher.Request{
		Block:           block,
		Patient:         patient,
		Target:          g.Range(),
		Staff:           staff,
		Profile:         matcher.ProfileGapResolution,
		ApplyPreference: true,
	}, ledger)
	return GapOptions{
		Gap:        g,
		Candidates: candidates,
		Strategies: e.generator.Generate(block, g, candidates, existing),
	}
}

// GapStrategies 单个缺口的方案
func (e *Engine) GapStrategies(block *model.TimeBlock, g model.Gap, patient *model.Patient, staff []*model.Staff, ledger *matcher.Ledger) []resolution.Strategy {
	return e.gapOptions(block, g, patient, staff, ledger, blockAssignments(block, ledger)).Strategies
}

// Recommender 把缺口方案转换为覆盖记录中的建议
func (e *Engine) Recommender(patient *model.Patient, staff []*model.Staff, ledger *matcher.Ledger) stats.Recommender {
	return &recommender{engine: e, patient: patient, staff: staff, ledger: ledger}
}

type recommender struct {
	engine  *Engine
	patient *model.Patient
	staff   []*model.Staff
	ledger  *matcher.Ledger
}

func (r *recommender) Recommend(block *model.TimeBlock, g model.Gap) []stats.Recommendation {
	var out []stats.Recommendation
	for _, s := range r.engine.GapStrategies(block, g, r.patient, r.staff, r.ledger) {
		out = append(out, stats.Recommendation{Description: s.Description, Confidence: s.Confidence})
	}
	return out
}
