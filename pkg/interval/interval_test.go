package interval

import (
	"testing"
	"time"

	"github.com/paiban/carecover/pkg/model"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func rng(h1, m1, h2, m2 int) model.TimeRange {
	return model.TimeRange{Start: at(h1, m1), End: at(h2, m2)}
}

func TestUnion(t *testing.T) {
	tests := []struct {
		name     string
		input    []model.TimeRange
		expected []model.TimeRange
	}{
		{
			name:     "空输入",
			input:    nil,
			expected: nil,
		},
		{
			name:     "重叠合并",
			input:    []model.TimeRange{rng(10, 0, 12, 0), rng(9, 0, 11, 0)},
			expected: []model.TimeRange{rng(9, 0, 12, 0)},
		},
		{
			name:     "相接合并",
			input:    []model.TimeRange{rng(9, 0, 10, 0), rng(10, 0, 11, 0)},
			expected: []model.TimeRange{rng(9, 0, 11, 0)},
		},
		{
			name:     "分离保留",
			input:    []model.TimeRange{rng(13, 0, 14, 0), rng(9, 0, 10, 0)},
			expected: []model.TimeRange{rng(9, 0, 10, 0), rng(13, 0, 14, 0)},
		},
		{
			name:     "包含关系",
			input:    []model.TimeRange{rng(9, 0, 17, 0), rng(10, 0, 11, 0)},
			expected: []model.TimeRange{rng(9, 0, 17, 0)},
		},
		{
			name:     "忽略无效区间",
			input:    []model.TimeRange{rng(11, 0, 10, 0), rng(9, 0, 10, 0)},
			expected: []model.TimeRange{rng(9, 0, 10, 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Union(tt.input)
			if len(got) != len(tt.expected) {
				t.Fatalf("Union() 返回 %d 段, expected %d", len(got), len(tt.expected))
			}
			for i := range got {
				if !got[i].Start.Equal(tt.expected[i].Start) || !got[i].End.Equal(tt.expected[i].End) {
					t.Errorf("段 %d = %v, expected %v", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestTotalMinutes_CountsOverlapOnce(t *testing.T) {
	ranges := []model.TimeRange{rng(9, 0, 11, 0), rng(10, 0, 12, 0)}
	if got := TotalMinutes(ranges); got != 180 {
		t.Errorf("TotalMinutes() = %d, expected 180", got)
	}
}

func TestClip(t *testing.T) {
	bounds := rng(9, 0, 12, 0)

	clipped, ok := Clip(rng(8, 0, 10, 0), bounds)
	if !ok || !clipped.Start.Equal(at(9, 0)) || !clipped.End.Equal(at(10, 0)) {
		t.Errorf("Clip() = %v, %v", clipped, ok)
	}

	if _, ok := Clip(rng(12, 0, 13, 0), bounds); ok {
		t.Error("边界外区间不应有交集")
	}
}

func TestOverlaps_HalfOpen(t *testing.T) {
	if Overlaps(rng(9, 0, 10, 0), rng(10, 0, 11, 0)) {
		t.Error("首尾相接不应视为重叠")
	}
	if !Overlaps(rng(9, 0, 10, 1), rng(10, 0, 11, 0)) {
		t.Error("重叠1分钟应视为重叠")
	}
}

func TestMidpoint(t *testing.T) {
	if got := Midpoint(rng(9, 0, 10, 31)); !got.Equal(at(9, 45)) {
		t.Errorf("Midpoint() = %v, expected 09:45", got)
	}
}
