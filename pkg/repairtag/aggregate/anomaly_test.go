package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var months = []string{"2025-01", "2025-02", "2025-03", "2025-04", "2025-05"}

func series(values ...int) map[string]int {
	out := make(map[string]int)
	for i, v := range values {
		if v != 0 {
			out[months[i]] = v
		}
	}
	return out
}

func TestConsecutiveIncreaseEmitsOverlappingWindows(t *testing.T) {
	tr := Trend{
		Months:         months,
		ByProductMonth: map[string]map[string]int{"책상": series(1, 2, 3, 4, 5)},
	}
	got := DetectAnomalies(tr, Rules{Consecutive: 3, ZScore: 100})
	require.Len(t, got, 2)
	assert.Equal(t, Anomaly{
		Type:    AnomalyConsecutive,
		Subject: "품목: 책상",
		Months:  months[0:4],
		Detail:  "4개월 연속 증가",
	}, got[0])
	assert.Equal(t, months, got[1].Months)
	assert.Equal(t, "5개월 연속 증가", got[1].Detail)
}

func TestConsecutiveIncreaseResets(t *testing.T) {
	tr := Trend{
		Months:     months,
		ByTagMonth: map[string]map[string]int{"상판 휨": series(1, 2, 2, 3, 4)},
	}
	assert.Empty(t, DetectAnomalies(tr, Rules{Consecutive: 3, ZScore: 100}))

	got := DetectAnomalies(tr, Rules{Consecutive: 2, ZScore: 100})
	require.Len(t, got, 1)
	assert.Equal(t, []string{"2025-03", "2025-04", "2025-05"}, got[0].Months)
}

func TestSpike(t *testing.T) {
	tr := Trend{
		Months:     months,
		ByTagMonth: map[string]map[string]int{"도장 불량": series(2, 2, 3, 2, 10)},
	}
	got := DetectAnomalies(tr, Rules{})
	require.Len(t, got, 1)
	assert.Equal(t, Anomaly{
		Type:    AnomalySpike,
		Subject: "태그: 도장 불량",
		Months:  []string{"2025-05"},
		Detail:  "급증 (Z=15.5, 평균 2 → 10건)",
	}, got[0])
}

func TestSpikeGuards(t *testing.T) {
	cases := map[string]struct {
		months []string
		values map[string]int
	}{
		"flat history": {months, series(3, 3, 3, 3, 9)},
		"last is zero": {months, series(0, 5, 0, 5, 0)},
		"too short":    {months[:2], series(1, 9)},
		"below z":      {months, series(1, 3, 1, 3, 4)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tr := Trend{Months: tc.months, ByProductMonth: map[string]map[string]int{"의자": tc.values}}
			for _, a := range DetectAnomalies(tr, Rules{Consecutive: 10}) {
				assert.NotEqual(t, AnomalySpike, a.Type)
			}
		})
	}
}

func TestDetectAnomaliesOrder(t *testing.T) {
	tr := Trend{
		Months: months,
		ByProductMonth: map[string]map[string]int{
			"책상": series(1, 2, 3, 4, 1),
			"소파": series(1, 2, 3, 4, 1),
		},
		ByTagMonth: map[string]map[string]int{"상판 휨": series(1, 2, 3, 4, 1)},
	}
	got := DetectAnomalies(tr, Rules{Consecutive: 3, ZScore: 100})
	var subjects []string
	for _, a := range got {
		subjects = append(subjects, a.Subject)
	}
	assert.Equal(t, []string{"품목: 소파", "품목: 책상", "태그: 상판 휨"}, subjects)
}

func TestDetectAnomaliesEmpty(t *testing.T) {
	assert.Empty(t, DetectAnomalies(Trend{}, Rules{}))
}
