// Package matcher 提供候选员工评分排序
package matcher

import (
	"math"
	"sort"

	apperrors "github.com/paiban/carecover/pkg/errors"
	"github.com/paiban/carecover/pkg/model"
	"github.com/paiban/carecover/pkg/stats"
	"github.com/paiban/carecover/pkg/validator"
)

// NoCandidateReason 没有候选人时记录的原因
const NoCandidateReason = "No available therapist found"

// Profile 评分场景
type Profile string

const (
	ProfileBatch         Profile = "batch"          // 批量自动分配
	ProfileGapResolution Profile = "gap_resolution" // 缺口处理
)

// Method 候选来源
type Method string

const (
	MethodPreferred Method = "preferred"
	MethodAuto      Method = "auto"
)

// Candidate 候选员工评分
type Candidate struct {
	StaffID         string                `json:"staff_id"`
	StaffName       string                `json:"staff_name,omitempty"`
	Score           float64               `json:"score"`
	Method          Method                `json:"method"`
	PreferenceRank  int                   `json:"preference_rank"` // -1 表示不在偏好列表
	WorkloadMinutes int                   `json:"workload_minutes"`
	Continuity      stats.ContinuityStats `json:"continuity"`
}

// Config 评分参数
type Config struct {
	BaseScore             float64 `mapstructure:"base_score"`
	PreferenceBonus       float64 `mapstructure:"preference_bonus"`
	PreferenceDecay       float64 `mapstructure:"preference_decay"`
	ContinuityBonus       float64 `mapstructure:"continuity_bonus"`
	ContinuityStep        float64 `mapstructure:"continuity_step"`
	ContinuityMaxPairings int     `mapstructure:"continuity_max_pairings"`
	SameDayBonus          float64 `mapstructure:"same_day_bonus"`
	BatchLookbackDays     int     `mapstructure:"batch_lookback_days"`
	GapLookbackDays       int     `mapstructure:"gap_lookback_days"`
	MaxScore              float64 `mapstructure:"max_score"`
}

// DefaultConfig 默认评分参数
func DefaultConfig() Config {
	return Config{
		BaseScore:             0.5,
		PreferenceBonus:       0.3,
		PreferenceDecay:       0.05,
		ContinuityBonus:       0.15,
		ContinuityStep:        0.05,
		ContinuityMaxPairings: 3,
		SameDayBonus:          0.2,
		BatchLookbackDays:     7,
		GapLookbackDays:       14,
		MaxScore:              1.0,
	}
}

// Request 评分请求
type Request struct {
	Block           *model.TimeBlock
	Patient         *model.Patient // 可为空
	Target          model.TimeRange // 为空时使用整个时间块
	Staff           []*model.Staff
	Profile         Profile
	ApplyPreference bool
}

// Scorer 候选员工评分器
type Scorer struct {
	config     Config
	checker    *validator.ConflictChecker
	workload   *stats.WorkloadAggregator
	continuity *stats.ContinuityTracker
}

// NewScorer 创建评分器
func NewScorer(config Config) *Scorer {
	return &Scorer{
		config:     config,
		checker:    validator.NewConflictChecker(),
		workload:   stats.NewWorkloadAggregator(),
		continuity: stats.NewContinuityTracker(),
	}
}

// Config 当前评分参数
func (s *Scorer) Config() Config {
	return s.config
}

// Rank 过滤并评分，按分数降序、员工ID升序返回
// 没有候选人时返回 NO_CANDIDATE_AVAILABLE 错误
func (s *Scorer) Rank(req Request, ledger *Ledger) ([]Candidate, error) {
	block := req.Block
	target := req.Target
	if !target.IsValid() {
		target = block.Range()
	}
	preferred := preferredList(block, req.Patient)

	candidates := make([]Candidate, 0, len(req.Staff))
	for _, staff := range req.Staff {
		if !s.eligible(staff, block, req.Patient, preferred) {
			continue
		}

		dayAssignments := ledger.StaffDay(staff.ID, block.Date)
		if s.checker.HasConflict(validator.Candidate{StaffID: staff.ID, Date: block.Date, Range: target}, dayAssignments) {
			continue
		}

		candidates = append(candidates, s.score(req, staff, preferred, dayAssignments, ledger))
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score == candidates[j].Score {
			return candidates[i].StaffID < candidates[j].StaffID
		}
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) == 0 {
		return candidates, apperrors.NoCandidateAvailable(block.ID, NoCandidateReason)
	}
	return candidates, nil
}

// eligible 排除名单、首要治疗师、替补限制
func (s *Scorer) eligible(staff *model.Staff, block *model.TimeBlock, patient *model.Patient, preferred []string) bool {
	if !staff.IsActive() {
		return false
	}
	if block.IsExcluded(staff.ID) || patient.IsExcluded(staff.ID) {
		return false
	}
	if block.RequiresPrimaryTherapist && patient != nil && patient.PrimaryTherapistID != "" &&
		staff.ID != patient.PrimaryTherapistID {
		return false
	}
	if !block.AllowSubstitutions && len(preferred) > 0 && indexOf(preferred, staff.ID) < 0 {
		return false
	}
	return true
}

func (s *Scorer) score(req Request, staff *model.Staff, preferred []string, dayAssignments []*model.Assignment, ledger *Ledger) Candidate {
	cfg := s.config
	block := req.Block

	c := Candidate{
		StaffID:        staff.ID,
		StaffName:      staff.Name,
		Method:         MethodAuto,
		PreferenceRank: indexOf(preferred, staff.ID),
	}
	score := cfg.BaseScore

	// 偏好加分不设下限，排名靠后可能为负
	if c.PreferenceRank >= 0 {
		c.Method = MethodPreferred
		if req.ApplyPreference {
			score += cfg.PreferenceBonus - cfg.PreferenceDecay*float64(c.PreferenceRank)
		}
	}

	c.WorkloadMinutes = s.workload.DailyMinutes(staff.ID, block.Date, dayAssignments)
	score += s.workload.ScoreAdjustment(c.WorkloadMinutes)

	score += s.continuityBonus(req.Profile, block, staff.ID, ledger, &c)

	if score > cfg.MaxScore {
		score = cfg.MaxScore
	}
	c.Score = round4(score)
	return c
}

func (s *Scorer) continuityBonus(profile Profile, block *model.TimeBlock, staffID string, ledger *Ledger, c *Candidate) float64 {
	cfg := s.config
	history := ledger.Patient(block.PatientID)

	switch profile {
	case ProfileGapResolution:
		c.Continuity = s.continuity.Track(block.PatientID, staffID, block.Date, cfg.GapLookbackDays, history)
		bonus := 0.0
		if n := c.Continuity.RecentPairings; n > 0 {
			if n > cfg.ContinuityMaxPairings {
				n = cfg.ContinuityMaxPairings
			}
			bonus += cfg.ContinuityBonus + cfg.ContinuityStep*float64(n-1)
		}
		if c.Continuity.SameDay {
			bonus += cfg.SameDayBonus
		}
		return bonus
	default:
		c.Continuity = s.continuity.Track(block.PatientID, staffID, block.Date, cfg.BatchLookbackDays, history)
		if c.Continuity.RecentPairings > 0 {
			return cfg.ContinuityBonus
		}
		return 0
	}
}

// preferredList 时间块的偏好列表优先，否则使用患者的
func preferredList(block *model.TimeBlock, patient *model.Patient) []string {
	if len(block.PreferredStaffIDs) > 0 {
		return block.PreferredStaffIDs
	}
	if patient != nil {
		return patient.PreferredStaffIDs
	}
	return nil
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
