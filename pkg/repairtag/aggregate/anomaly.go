package aggregate

import (
	"fmt"
	"math"

	"github.com/cognicore/repairtag/pkg/repairtag/metrics"
)

// AnomalyType names a detection rule.
type AnomalyType string

const (
	AnomalyConsecutive AnomalyType = "consecutive_increase"
	AnomalySpike       AnomalyType = "spike"
)

// Anomaly is one flagged series window.
type Anomaly struct {
	Type    AnomalyType `json:"type"`
	Subject string      `json:"subject"`
	Months  []string    `json:"months"`
	Detail  string      `json:"detail"`
}

// Rules are the anomaly thresholds.
type Rules struct {
	Consecutive int
	ZScore      float64
}

// DetectAnomalies scans every product series, then every tag series, in
// subject order. A run of increases emits an anomaly each time its length
// reaches rules.Consecutive or more, so one long run yields overlapping
// windows. A spike compares the last month against the mean and sample
// standard deviation of the earlier months.
func DetectAnomalies(t Trend, rules Rules) []Anomaly {
	if rules.Consecutive <= 0 {
		rules.Consecutive = DefaultConsecutive
	}
	if rules.ZScore <= 0 {
		rules.ZScore = DefaultZScore
	}

	out := []Anomaly{}
	for _, series := range []struct {
		label string
		data  map[string]map[string]int
	}{
		{"품목", t.ByProductMonth},
		{"태그", t.ByTagMonth},
	} {
		for _, subject := range sortedKeys(series.data) {
			values := make([]int, len(t.Months))
			for i, m := range t.Months {
				values[i] = series.data[subject][m]
			}
			name := series.label + ": " + subject
			out = append(out, consecutive(name, t.Months, values, rules.Consecutive)...)
			if a, ok := spike(name, t.Months, values, rules.ZScore); ok {
				out = append(out, a)
			}
		}
	}
	return out
}

func consecutive(subject string, months []string, values []int, threshold int) []Anomaly {
	var out []Anomaly
	streak := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[i-1] {
			streak++
		} else {
			streak = 0
		}
		if streak >= threshold {
			out = append(out, Anomaly{
				Type:    AnomalyConsecutive,
				Subject: subject,
				Months:  append([]string{}, months[i-streak:i+1]...),
				Detail:  fmt.Sprintf("%d개월 연속 증가", streak+1),
			})
		}
	}
	return out
}

func spike(subject string, months []string, values []int, threshold float64) (Anomaly, bool) {
	if len(values) < 3 {
		return Anomaly{}, false
	}
	history, last := values[:len(values)-1], values[len(values)-1]
	mean, stdev := meanStdev(history)
	if stdev == 0 || last <= 0 {
		return Anomaly{}, false
	}
	z := (float64(last) - mean) / stdev
	if z < threshold {
		return Anomaly{}, false
	}
	return Anomaly{
		Type:    AnomalySpike,
		Subject: subject,
		Months:  []string{months[len(months)-1]},
		Detail:  fmt.Sprintf("급증 (Z=%.1f, 평균 %.0f → %d건)", z, mean, last),
	}, true
}

// meanStdev returns the mean and sample standard deviation of at least two
// values.
func meanStdev(values []int) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := float64(v) - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)-1))
}

// Anomalies runs DetectAnomalies with the configured thresholds and counts
// the findings.
func (a *Aggregator) Anomalies(t Trend) []Anomaly {
	found := DetectAnomalies(t, Rules{Consecutive: a.cfg.Consecutive, ZScore: a.cfg.ZScore})
	for _, an := range found {
		metrics.ObserveAnomaly(string(an.Type))
	}
	return found
}
