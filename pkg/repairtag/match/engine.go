package match

import (
	"context"
	"fmt"

	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

// Dictionary is the read side of the tag dictionary store.
type Dictionary interface {
	ListTags(ctx context.Context, activeOnly bool) ([]store.Tag, error)
	AllSynonyms(ctx context.Context) ([]store.Synonym, error)
}

// Config holds matching thresholds.
type Config struct {
	FuzzyThreshold float64 // 0–100, inclusive
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{FuzzyThreshold: DefaultFuzzyThreshold}
}

// Engine resolves raw text against the current dictionary. Every call
// reads the dictionary afresh so that newly learned synonyms apply at once.
type Engine struct {
	dict Dictionary
	cfg  Config
}

// NewEngine creates an engine over dict.
func NewEngine(dict Dictionary, cfg Config) *Engine {
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultFuzzyThreshold
	}
	return &Engine{dict: dict, cfg: cfg}
}

// Threshold returns the fuzzy threshold in use.
func (e *Engine) Threshold() float64 { return e.cfg.FuzzyThreshold }

// Index loads the active dictionary into an Index.
func (e *Engine) Index(ctx context.Context) (*Index, error) {
	tags, err := e.dict.ListTags(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	syns, err := e.dict.AllSynonyms(ctx)
	if err != nil {
		return nil, fmt.Errorf("load synonyms: %w", err)
	}
	return NewIndex(tags, syns), nil
}

// FindMatchingTag resolves raw to a tag; ok is false on a miss.
func (e *Engine) FindMatchingTag(ctx context.Context, raw string) (Match, bool, error) {
	ix, err := e.Index(ctx)
	if err != nil {
		return Match{}, false, err
	}
	m, ok := ix.Find(raw, e.cfg.FuzzyThreshold)
	return m, ok, nil
}

// SuggestSimilarTags returns the topN closest active tags.
func (e *Engine) SuggestSimilarTags(ctx context.Context, raw string, topN int) ([]Suggestion, error) {
	ix, err := e.Index(ctx)
	if err != nil {
		return nil, err
	}
	return ix.Suggest(raw, topN), nil
}
