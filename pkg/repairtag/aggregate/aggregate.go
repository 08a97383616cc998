// Package aggregate cross-tabulates tagged repair cases per month and
// derives month-over-month changes, multi-month trends, anomalies and
// special-case reports.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

// Unclassified labels a case or tag with no product group or tag text.
const Unclassified = "(미분류)"

// Judgment-type markers for special cases.
const (
	MarkerExchange  = "세트교환요구"
	MarkerComplaint = "고객불만"
)

const (
	DefaultConsecutive      = 3
	DefaultZScore           = 2.0
	DefaultSpecialThreshold = 5
	DefaultTrendMonths      = 6

	// topIncreasesLimit caps MonthComparison.TopIncreases.
	topIncreasesLimit = 10
)

// Store is the read side the aggregator needs plus the snapshot cache.
type Store interface {
	CasesByMonth(ctx context.Context, yearMonth string) ([]store.Case, error)
	TaggedByMonth(ctx context.Context, yearMonth string) ([]store.TaggedCase, error)
	MonthCost(ctx context.Context, yearMonth string) (float64, error)
	SaveSnapshot(ctx context.Context, s store.Snapshot) error
	LoadSnapshot(ctx context.Context, yearMonth, snapshotType string) (store.Snapshot, bool, error)
}

// Config holds analysis thresholds.
type Config struct {
	Consecutive      int     // increases in a row that count as an anomaly
	ZScore           float64 // spike threshold
	SpecialThreshold int     // min cases per product for a special case
	TrendMonths      int     // default trend window
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Consecutive:      DefaultConsecutive,
		ZScore:           DefaultZScore,
		SpecialThreshold: DefaultSpecialThreshold,
		TrendMonths:      DefaultTrendMonths,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Consecutive <= 0 {
		c.Consecutive = d.Consecutive
	}
	if c.ZScore <= 0 {
		c.ZScore = d.ZScore
	}
	if c.SpecialThreshold <= 0 {
		c.SpecialThreshold = d.SpecialThreshold
	}
	if c.TrendMonths <= 0 {
		c.TrendMonths = d.TrendMonths
	}
	return c
}

// Aggregator computes monthly analytics from the store.
type Aggregator struct {
	store Store
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

// New creates an aggregator. Zero config fields take their defaults.
func New(st Store, cfg Config, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{store: st, cfg: cfg.withDefaults(), log: log, now: time.Now}
}

// Config returns the thresholds in use.
func (a *Aggregator) Config() Config { return a.cfg }

// Matrix counts case-tag rows per product group and tag. TotalCases counts
// rows, so a case with two tags counts twice.
type Matrix struct {
	Matrix     map[string]map[string]int `json:"matrix"`
	Products   []string                  `json:"products"`
	Tags       []string                  `json:"tags"`
	TotalCases int                       `json:"total_cases"`
}

// ProductTagMatrix cross-tabulates the month's case-tag rows.
func (a *Aggregator) ProductTagMatrix(ctx context.Context, yearMonth string) (Matrix, error) {
	rows, err := a.store.TaggedByMonth(ctx, yearMonth)
	if err != nil {
		return Matrix{}, fmt.Errorf("load tagged cases %s: %w", yearMonth, err)
	}
	m := Matrix{Matrix: make(map[string]map[string]int), Products: []string{}, Tags: []string{}}
	tags := make(map[string]struct{})
	for _, r := range rows {
		product, tag := label(r.ProductGroup), label(r.Tag)
		if m.Matrix[product] == nil {
			m.Matrix[product] = make(map[string]int)
		}
		m.Matrix[product][tag]++
		tags[tag] = struct{}{}
	}
	m.Products = sortedKeys(m.Matrix)
	m.Tags = sortedKeys(tags)
	m.TotalCases = len(rows)
	return m, nil
}

// Change is a current/previous pair.
type Change struct {
	Current  int `json:"current"`
	Previous int `json:"previous"`
	Delta    int `json:"delta"`
}

// Increase is a product/tag cell that grew month over month.
type Increase struct {
	Product string `json:"product"`
	Tag     string `json:"tag"`
	Delta   int    `json:"delta"`
}

// MonthComparison compares two months of case-tag rows.
type MonthComparison struct {
	CurrentTotal  int               `json:"current_total"`
	PreviousTotal int               `json:"previous_total"`
	Delta         int               `json:"delta"`
	DeltaPct      float64           `json:"delta_pct"`
	ByProduct     map[string]Change `json:"by_product"`
	ByTag         map[string]Change `json:"by_tag"`
	TopIncreases  []Increase        `json:"top_increases"`
}

type cell struct{ product, tag string }

// MonthOverMonth compares current with previous. Keys present in either
// month appear in ByProduct and ByTag. TopIncreases holds at most ten
// strictly positive cell deltas, largest first.
func (a *Aggregator) MonthOverMonth(ctx context.Context, current, previous string) (MonthComparison, error) {
	cur, err := a.store.TaggedByMonth(ctx, current)
	if err != nil {
		return MonthComparison{}, fmt.Errorf("load tagged cases %s: %w", current, err)
	}
	prev, err := a.store.TaggedByMonth(ctx, previous)
	if err != nil {
		return MonthComparison{}, fmt.Errorf("load tagged cases %s: %w", previous, err)
	}

	out := MonthComparison{
		CurrentTotal:  len(cur),
		PreviousTotal: len(prev),
		Delta:         len(cur) - len(prev),
		DeltaPct:      pct(float64(len(cur)-len(prev)), float64(len(prev))),
		ByProduct:     make(map[string]Change),
		ByTag:         make(map[string]Change),
		TopIncreases:  []Increase{},
	}

	cells := make(map[cell]int)
	tally := func(rows []store.TaggedCase, sign int) {
		for _, r := range rows {
			product, tag := label(r.ProductGroup), label(r.Tag)
			bump(out.ByProduct, product, sign)
			bump(out.ByTag, tag, sign)
			cells[cell{product, tag}] += sign
		}
	}
	tally(cur, 1)
	tally(prev, -1)

	for k, delta := range cells {
		if delta > 0 {
			out.TopIncreases = append(out.TopIncreases, Increase{Product: k.product, Tag: k.tag, Delta: delta})
		}
	}
	sort.Slice(out.TopIncreases, func(i, j int) bool {
		x, y := out.TopIncreases[i], out.TopIncreases[j]
		if x.Delta != y.Delta {
			return x.Delta > y.Delta
		}
		if x.Product != y.Product {
			return x.Product < y.Product
		}
		return x.Tag < y.Tag
	})
	if len(out.TopIncreases) > topIncreasesLimit {
		out.TopIncreases = out.TopIncreases[:topIncreasesLimit]
	}
	return out, nil
}

// bump adds one row to the current (sign > 0) or previous side of key.
func bump(m map[string]Change, key string, sign int) {
	c := m[key]
	if sign > 0 {
		c.Current++
	} else {
		c.Previous++
	}
	c.Delta = c.Current - c.Previous
	m[key] = c
}

// Trend holds per-month series for a list of months.
type Trend struct {
	Months         []string                  `json:"months"`
	TotalByMonth   map[string]int            `json:"total_by_month"`
	CostByMonth    map[string]float64        `json:"cost_by_month"`
	ByProductMonth map[string]map[string]int `json:"by_product_month"`
	ByTagMonth     map[string]map[string]int `json:"by_tag_month"`
}

// MultiMonthTrend collects raw case counts, recorded costs and per-product
// and per-tag row counts for months, in the order given.
func (a *Aggregator) MultiMonthTrend(ctx context.Context, months []string) (Trend, error) {
	t := Trend{
		Months:         append([]string{}, months...),
		TotalByMonth:   make(map[string]int, len(months)),
		CostByMonth:    make(map[string]float64, len(months)),
		ByProductMonth: make(map[string]map[string]int),
		ByTagMonth:     make(map[string]map[string]int),
	}
	for _, month := range months {
		cases, err := a.store.CasesByMonth(ctx, month)
		if err != nil {
			return Trend{}, fmt.Errorf("load cases %s: %w", month, err)
		}
		tagged, err := a.store.TaggedByMonth(ctx, month)
		if err != nil {
			return Trend{}, fmt.Errorf("load tagged cases %s: %w", month, err)
		}
		cost, err := a.store.MonthCost(ctx, month)
		if err != nil {
			return Trend{}, fmt.Errorf("load cost %s: %w", month, err)
		}

		t.TotalByMonth[month] = len(cases)
		t.CostByMonth[month] = cost
		for _, r := range tagged {
			addSeries(t.ByProductMonth, label(r.ProductGroup), month)
			addSeries(t.ByTagMonth, label(r.Tag), month)
		}
	}
	return t, nil
}

func addSeries(m map[string]map[string]int, subject, month string) {
	if m[subject] == nil {
		m[subject] = make(map[string]int)
	}
	m[subject][month]++
}

// SpecialCases groups cases whose judgment type carries a marker.
type SpecialCases struct {
	Exchange  map[string][]store.Case `json:"exchange"`
	Complaint map[string][]store.Case `json:"complaint"`
}

// SpecialCases lists, per product group, the month's exchange-request and
// complaint cases where the group reaches threshold. A case carrying both
// markers is listed under both. threshold <= 0 uses the configured value.
func (a *Aggregator) SpecialCases(ctx context.Context, yearMonth string, threshold int) (SpecialCases, error) {
	if threshold <= 0 {
		threshold = a.cfg.SpecialThreshold
	}
	cases, err := a.store.CasesByMonth(ctx, yearMonth)
	if err != nil {
		return SpecialCases{}, fmt.Errorf("load cases %s: %w", yearMonth, err)
	}
	exchange := make(map[string][]store.Case)
	complaint := make(map[string][]store.Case)
	for _, c := range cases {
		product := label(c.ProductGroup)
		if strings.Contains(c.JudgmentType, MarkerExchange) {
			exchange[product] = append(exchange[product], c)
		}
		if strings.Contains(c.JudgmentType, MarkerComplaint) {
			complaint[product] = append(complaint[product], c)
		}
	}
	return SpecialCases{
		Exchange:  atLeast(exchange, threshold),
		Complaint: atLeast(complaint, threshold),
	}, nil
}

func atLeast(groups map[string][]store.Case, threshold int) map[string][]store.Case {
	out := make(map[string][]store.Case)
	for product, cases := range groups {
		if len(cases) >= threshold {
			out[product] = cases
		}
	}
	return out
}

// CostComparison compares two months' recorded repair cost.
type CostComparison struct {
	CurrentCost  float64 `json:"current_cost"`
	PreviousCost float64 `json:"previous_cost"`
	Delta        float64 `json:"delta"`
	DeltaPct     float64 `json:"delta_pct"`
}

// CostComparison reads both months' totals; a missing month costs 0.
func (a *Aggregator) CostComparison(ctx context.Context, current, previous string) (CostComparison, error) {
	cur, err := a.store.MonthCost(ctx, current)
	if err != nil {
		return CostComparison{}, fmt.Errorf("load cost %s: %w", current, err)
	}
	prev, err := a.store.MonthCost(ctx, previous)
	if err != nil {
		return CostComparison{}, fmt.Errorf("load cost %s: %w", previous, err)
	}
	return CostComparison{
		CurrentCost:  cur,
		PreviousCost: prev,
		Delta:        cur - prev,
		DeltaPct:     pct(cur-prev, prev),
	}, nil
}

// pct returns delta as a percentage of base, 0 when base is 0.
func pct(delta, base float64) float64 {
	if base == 0 {
		return 0
	}
	return delta / base * 100
}

func label(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unclassified
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
