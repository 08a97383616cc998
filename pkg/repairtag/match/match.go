// Package match resolves free-text cause descriptions to standard tags
// through an exact → synonym → fuzzy cascade.
package match

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"

	"github.com/cognicore/repairtag/pkg/repairtag/store"
	"github.com/cognicore/repairtag/pkg/repairtag/textnorm"
)

// Method identifies which matching stage produced a result.
type Method string

const (
	MethodExact    Method = "exact"
	MethodSynonym  Method = "synonym"
	MethodFuzzy    Method = "fuzzy"
	MethodContains Method = "contains"
)

// Confidence assigned per stage. Fuzzy matches use score/100.
const (
	ExactConfidence    = 1.0
	SynonymConfidence  = 0.95
	ContainsConfidence = 0.85
)

// DefaultFuzzyThreshold is the minimum Ratio (0–100) accepted as a match.
const DefaultFuzzyThreshold = 80.0

// Match is a resolved tag.
type Match struct {
	TagID      int64
	Tag        string
	Confidence float64
	Method     Method
}

// Suggestion is a ranked nearest tag, regardless of threshold.
type Suggestion struct {
	TagID      int64
	Tag        string
	Similarity float64 // 0–1
}

// Ratio is the Indel-normalized similarity of a and b on a 0–100 scale:
// 100 * 2*LCS / (len(a)+len(b)), lengths in runes. Two empty strings are
// identical.
func Ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	lcs := edlib.LCS(a, b)
	// integer numerator keeps boundary scores such as 80 exact
	return float64(200*lcs) / float64(total)
}

type tagEntry struct {
	tag  store.Tag
	norm string
}

type synonymEntry struct {
	norm  string
	tagID int64
}

// Index is an immutable view of the active dictionary. Iteration order is
// the order tags and synonyms were supplied in; ties resolve to the first.
type Index struct {
	tags     []tagEntry
	synonyms []synonymEntry
	active   map[int64]store.Tag
}

// NewIndex builds an index from dictionary rows. Inactive tags are dropped.
func NewIndex(tags []store.Tag, synonyms []store.Synonym) *Index {
	ix := &Index{active: make(map[int64]store.Tag, len(tags))}
	for _, t := range tags {
		if !t.Active {
			continue
		}
		ix.tags = append(ix.tags, tagEntry{tag: t, norm: textnorm.Normalize(t.Text)})
		ix.active[t.ID] = t
	}
	for _, s := range synonyms {
		ix.synonyms = append(ix.synonyms, synonymEntry{norm: textnorm.Normalize(s.Text), tagID: s.TagID})
	}
	return ix
}

// Len returns the number of active tags.
func (ix *Index) Len() int { return len(ix.tags) }

// TagTexts lists the active tag texts in index order.
func (ix *Index) TagTexts() []string {
	out := make([]string, len(ix.tags))
	for i, e := range ix.tags {
		out[i] = e.tag.Text
	}
	return out
}

// Find runs the exact → synonym → fuzzy cascade against raw.
func (ix *Index) Find(raw string, threshold float64) (Match, bool) {
	norm := textnorm.Normalize(raw)
	if norm == "" {
		return Match{}, false
	}

	for _, e := range ix.tags {
		if e.norm == norm {
			return Match{TagID: e.tag.ID, Tag: e.tag.Text, Confidence: ExactConfidence, Method: MethodExact}, true
		}
	}

	for _, s := range ix.synonyms {
		if s.norm != norm {
			continue
		}
		// synonyms of deactivated tags are skipped
		if t, ok := ix.active[s.tagID]; ok {
			return Match{TagID: t.ID, Tag: t.Text, Confidence: SynonymConfidence, Method: MethodSynonym}, true
		}
	}

	var (
		best      tagEntry
		bestScore = -1.0
	)
	for _, e := range ix.tags {
		if score := Ratio(norm, e.norm); score > bestScore {
			best, bestScore = e, score
		}
	}
	if len(ix.tags) > 0 && bestScore >= threshold {
		return Match{TagID: best.tag.ID, Tag: best.tag.Text, Confidence: bestScore / 100, Method: MethodFuzzy}, true
	}
	return Match{}, false
}

// Suggest ranks active tags by Ratio to raw, keeping at most topN.
func (ix *Index) Suggest(raw string, topN int) []Suggestion {
	norm := textnorm.Normalize(raw)
	if norm == "" || topN <= 0 {
		return nil
	}
	out := make([]Suggestion, 0, len(ix.tags))
	for _, e := range ix.tags {
		out = append(out, Suggestion{TagID: e.tag.ID, Tag: e.tag.Text, Similarity: Ratio(norm, e.norm) / 100})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// Contained returns every active tag whose normalized text occurs inside
// the normalized text, in index order.
func (ix *Index) Contained(text string) []store.Tag {
	norm := textnorm.Normalize(text)
	if norm == "" {
		return nil
	}
	var out []store.Tag
	for _, e := range ix.tags {
		if e.norm != "" && strings.Contains(norm, e.norm) {
			out = append(out, e.tag)
		}
	}
	return out
}
