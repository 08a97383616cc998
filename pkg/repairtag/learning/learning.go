// Package learning turns review decisions back into dictionary knowledge
// and exposes finalized assignments for recall and offline training.
package learning

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cognicore/repairtag/pkg/repairtag/match"
	"github.com/cognicore/repairtag/pkg/repairtag/metrics"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
	"github.com/cognicore/repairtag/pkg/repairtag/textnorm"
)

// DefaultSimilarCases is the number of past cases returned when topN <= 0.
const DefaultSimilarCases = 3

// poolFactor widens the recency-ordered pool scanned for similar cases.
const poolFactor = 5

// Store is the persistence the learner needs.
type Store interface {
	match.Dictionary
	AddSynonym(ctx context.Context, text string, tagID int64) error
	FinalizedCases(ctx context.Context, filter store.FinalFilter) ([]store.TaggedCase, error)
}

// TrainingPair is one finalized (case text, tag) example.
type TrainingPair struct {
	Text  string `json:"text"`
	Tag   string `json:"tag"`
	TagID int64  `json:"tag_id"`
}

// PastCase is a finalized case sharing keywords with a target case.
type PastCase struct {
	Case    store.Case
	Tags    []string
	Overlap int
}

// Learner applies feedback to the synonym dictionary.
type Learner struct {
	store   Store
	matcher *match.Engine
	log     *zap.Logger
}

// New creates a learner. matcher must read from the same dictionary as st.
func New(st Store, matcher *match.Engine, log *zap.Logger) *Learner {
	if matcher == nil {
		matcher = match.NewEngine(st, match.DefaultConfig())
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Learner{store: st, matcher: matcher, log: log}
}

// UpdateSynonymFromFeedback records raw as a synonym of tagID unless the
// dictionary already resolves it to that tag by exact or synonym match.
// It reports whether a synonym insert was issued; an insert that hits an
// existing synonym is a silent no-op.
func (l *Learner) UpdateSynonymFromFeedback(ctx context.Context, raw string, tagID int64) (bool, error) {
	normalized := textnorm.Normalize(raw)
	if normalized == "" {
		return false, nil
	}

	m, ok, err := l.matcher.FindMatchingTag(ctx, raw)
	if err != nil {
		return false, fmt.Errorf("match feedback text: %w", err)
	}
	if ok && m.TagID == tagID && (m.Method == match.MethodExact || m.Method == match.MethodSynonym) {
		return false, nil
	}

	if err := l.store.AddSynonym(ctx, normalized, tagID); err != nil {
		return false, fmt.Errorf("add synonym %q: %w", normalized, err)
	}
	metrics.ObserveSynonymLearned()
	l.log.Info("synonym learned from feedback",
		zap.String("synonym", normalized),
		zap.Int64("tag_id", tagID))
	return true, nil
}

// BuildTrainingPairs lists every finalized assignment, optionally scoped to
// one month. Cases with no text are skipped.
func (l *Learner) BuildTrainingPairs(ctx context.Context, yearMonth string) ([]TrainingPair, error) {
	rows, err := l.store.FinalizedCases(ctx, store.FinalFilter{YearMonth: yearMonth})
	if err != nil {
		return nil, fmt.Errorf("load finalized cases: %w", err)
	}
	pairs := make([]TrainingPair, 0, len(rows))
	for _, r := range rows {
		text := r.Case.Text()
		if text == "" {
			continue
		}
		pairs = append(pairs, TrainingPair{Text: text, Tag: r.Tag, TagID: r.TagID})
	}
	return pairs, nil
}

// SimilarPastCases finds finalized cases whose notes share Hangul keywords
// with c's action notes. The most recent topN*5 finalized rows (same product
// group when c has one) are scored by keyword overlap; cases with no overlap
// are dropped and ties keep recency order.
func (l *Learner) SimilarPastCases(ctx context.Context, c store.Case, topN int) ([]PastCase, error) {
	if topN <= 0 {
		topN = DefaultSimilarCases
	}
	target := textnorm.ExtractKeywords(c.ActionNotes, textnorm.DefaultKeywordLength)
	if len(target) == 0 {
		return nil, nil
	}
	want := make(map[string]struct{}, len(target))
	for _, kw := range target {
		want[kw] = struct{}{}
	}

	rows, err := l.store.FinalizedCases(ctx, store.FinalFilter{
		ProductGroup:  c.ProductGroup,
		ExcludeCaseID: c.ID,
		Limit:         topN * poolFactor,
	})
	if err != nil {
		return nil, fmt.Errorf("load finalized cases: %w", err)
	}

	var (
		order []int64
		byID  = make(map[int64]*PastCase)
	)
	for _, r := range rows {
		if pc, ok := byID[r.Case.ID]; ok {
			pc.Tags = append(pc.Tags, r.Tag)
			continue
		}
		byID[r.Case.ID] = &PastCase{Case: r.Case, Tags: []string{r.Tag}}
		order = append(order, r.Case.ID)
	}

	var scored []PastCase
	for _, id := range order {
		pc := byID[id]
		for _, kw := range textnorm.ExtractKeywords(pc.Case.Text(), textnorm.DefaultKeywordLength) {
			if _, ok := want[kw]; ok {
				pc.Overlap++
			}
		}
		if pc.Overlap > 0 {
			scored = append(scored, *pc)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Overlap > scored[j].Overlap })
	if len(scored) > topN {
		scored = scored[:topN]
	}
	return scored, nil
}
