package stats

import (
	"testing"

	"github.com/paiban/carecover/pkg/model"
)

func TestContinuityTracker_Track(t *testing.T) {
	tracker := NewContinuityTracker()

	assignments := []*model.Assignment{
		pairing("s1", "p1", "2026-03-02", at(9, 0), at(10, 0)),
		pairing("s1", "p1", "2026-03-01", at(9, 0), at(10, 0)),
		pairing("s1", "p1", "2026-02-23", at(9, 0), at(10, 0)), // 恰好7天前
		pairing("s1", "p1", "2026-02-22", at(9, 0), at(10, 0)), // 8天前
		pairing("s1", "p1", "2026-02-16", at(9, 0), at(10, 0)), // 14天前
		pairing("s1", "p2", "2026-03-01", at(9, 0), at(10, 0)),
		pairing("s2", "p1", "2026-03-01", at(9, 0), at(10, 0)),
		pairing("s1", "p1", "2026-03-03", at(9, 0), at(10, 0)), // 未来
	}

	tests := []struct {
		name     string
		lookback int
		pairings int
	}{
		{"7天窗口", 7, 2},
		{"14天窗口", 14, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := tracker.Track("p1", "s1", "2026-03-02", tt.lookback, assignments)
			if stats.RecentPairings != tt.pairings {
				t.Errorf("RecentPairings = %d, expected %d", stats.RecentPairings, tt.pairings)
			}
			if !stats.SameDay {
				t.Error("当天已有配对，SameDay 应为 true")
			}
		})
	}

	none := tracker.Track("p1", "s3", "2026-03-02", 7, assignments)
	if none.RecentPairings != 0 || none.SameDay {
		t.Errorf("无配对员工统计不正确: %+v", none)
	}
}
