package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
)

const monthLayout = "2006-01"

// ParseMonth validates a YYYY-MM month.
func ParseMonth(yearMonth string) (time.Time, error) {
	t, err := time.Parse(monthLayout, yearMonth)
	if err != nil {
		return time.Time{}, fmt.Errorf("month %q: %w", yearMonth, internalerr.ErrInvalidInput)
	}
	return t, nil
}

// PreviousMonth returns the month before yearMonth.
func PreviousMonth(yearMonth string) (string, error) {
	t, err := ParseMonth(yearMonth)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, -1, 0).Format(monthLayout), nil
}

// TrendWindow returns the n months ending at yearMonth, oldest first.
func TrendWindow(yearMonth string, n int) ([]string, error) {
	t, err := ParseMonth(yearMonth)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("trend window %d: %w", n, internalerr.ErrInvalidInput)
	}
	months := make([]string, n)
	for i := range months {
		months[i] = t.AddDate(0, i-n+1, 0).Format(monthLayout)
	}
	return months, nil
}

// Report bundles the monthly analytics for one month.
type Report struct {
	Month         string          `json:"month"`
	PreviousMonth string          `json:"previous_month"`
	Matrix        Matrix          `json:"matrix"`
	Comparison    MonthComparison `json:"month_over_month"`
	Cost          CostComparison  `json:"cost"`
	Trend         Trend           `json:"trend"`
	Anomalies     []Anomaly       `json:"anomalies"`
	Special       SpecialCases    `json:"special_cases"`
}

// ReportOptions tune MonthlyReport.
type ReportOptions struct {
	TrendMonths int  // 0 uses the configured window
	Refresh     bool // bypass the snapshot cache
}

// MonthlyReport computes every analysis for yearMonth against the previous
// calendar month and the trend window ending at yearMonth.
func (a *Aggregator) MonthlyReport(ctx context.Context, yearMonth string, opts ReportOptions) (Report, error) {
	prev, err := PreviousMonth(yearMonth)
	if err != nil {
		return Report{}, err
	}
	n := opts.TrendMonths
	if n <= 0 {
		n = a.cfg.TrendMonths
	}
	window, err := TrendWindow(yearMonth, n)
	if err != nil {
		return Report{}, err
	}

	rep := Report{Month: yearMonth, PreviousMonth: prev}
	if rep.Matrix, err = a.CachedMatrix(ctx, yearMonth, opts.Refresh); err != nil {
		return Report{}, err
	}
	if rep.Comparison, err = a.MonthOverMonth(ctx, yearMonth, prev); err != nil {
		return Report{}, err
	}
	if rep.Cost, err = a.CostComparison(ctx, yearMonth, prev); err != nil {
		return Report{}, err
	}
	if rep.Trend, err = a.CachedTrend(ctx, window, opts.Refresh); err != nil {
		return Report{}, err
	}
	rep.Anomalies = a.Anomalies(rep.Trend)
	if rep.Special, err = a.SpecialCases(ctx, yearMonth, a.cfg.SpecialThreshold); err != nil {
		return Report{}, err
	}
	return rep, nil
}
