package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/repairtag/pkg/repairtag/store"
	"github.com/cognicore/repairtag/pkg/repairtag/store/memstore"
)

func tag(id int64, text string) store.Tag {
	return store.Tag{ID: id, Text: text, Active: true}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 100.0, Ratio("상판 휨", "상판 휨"))
	assert.Equal(t, 80.0, Ratio("abcde", "abcdf"))
	assert.Equal(t, 80.0, Ratio("상판", "상판x"))
	assert.Equal(t, 75.0, Ratio("상판 휨", "상판 휘"))
	assert.Equal(t, 0.0, Ratio("a", ""))
	assert.Equal(t, 100.0, Ratio("", ""))
	assert.Equal(t, Ratio("도어 힌지", "힌지 도어"), Ratio("힌지 도어", "도어 힌지"))
}

func TestFindExact(t *testing.T) {
	ix := NewIndex([]store.Tag{tag(1, "도장 불량"), tag(2, "상판 휨")}, nil)

	m, ok := ix.Find("  상판(휨) ", DefaultFuzzyThreshold)
	require.True(t, ok)
	assert.Equal(t, Match{TagID: 2, Tag: "상판 휨", Confidence: 1.0, Method: MethodExact}, m)
}

func TestFindExactBeatsSynonymOfOtherTag(t *testing.T) {
	// tag 1 owns a synonym spelled like tag 2's text, and comes first
	ix := NewIndex(
		[]store.Tag{tag(1, "도장 불량"), tag(2, "상판 휨")},
		[]store.Synonym{{Text: "상판 휨", TagID: 1}},
	)
	m, ok := ix.Find("상판 휨", DefaultFuzzyThreshold)
	require.True(t, ok)
	assert.Equal(t, Match{TagID: 2, Tag: "상판 휨", Confidence: 1.0, Method: MethodExact}, m)

	ctx := context.Background()
	st := memstore.New()
	paint, err := st.CreateTag(ctx, "도장 불량", "표면")
	require.NoError(t, err)
	warp, err := st.CreateTag(ctx, "상판 휨", "상판")
	require.NoError(t, err)
	require.NoError(t, st.AddSynonym(ctx, "상판 휨", paint))

	m, ok, err = NewEngine(st, DefaultConfig()).FindMatchingTag(ctx, " 상판  휨")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, warp, m.TagID)
	assert.Equal(t, MethodExact, m.Method)
}

func TestFindSynonym(t *testing.T) {
	ix := NewIndex(
		[]store.Tag{tag(1, "도장 불량"), tag(2, "상판 휨")},
		[]store.Synonym{{Text: "상판 처짐", TagID: 2}},
	)
	m, ok := ix.Find("상판-처짐", DefaultFuzzyThreshold)
	require.True(t, ok)
	assert.Equal(t, MethodSynonym, m.Method)
	assert.Equal(t, 0.95, m.Confidence)
	assert.Equal(t, int64(2), m.TagID)
}

func TestFindSkipsSynonymOfInactiveTag(t *testing.T) {
	inactive := store.Tag{ID: 3, Text: "서랍 레일", Active: false}
	ix := NewIndex(
		[]store.Tag{tag(1, "도장 불량"), inactive, tag(2, "상판 휨")},
		[]store.Synonym{{Text: "레일 고장", TagID: 3}, {Text: "레일 고장 재발", TagID: 2}},
	)
	_, ok := ix.Find("레일 고장", DefaultFuzzyThreshold)
	assert.False(t, ok)

	// a later synonym with the same text for an active tag still resolves
	ix = NewIndex(
		[]store.Tag{tag(2, "상판 휨"), inactive},
		[]store.Synonym{{Text: "판 휨", TagID: 3}, {Text: "판 휨", TagID: 2}},
	)
	m, ok := ix.Find("판 휨", DefaultFuzzyThreshold)
	require.True(t, ok)
	assert.Equal(t, int64(2), m.TagID)
}

func TestFindFuzzyBoundary(t *testing.T) {
	ix := NewIndex([]store.Tag{tag(1, "상판")}, nil)

	m, ok := ix.Find("상판x", DefaultFuzzyThreshold)
	require.True(t, ok, "a score of exactly 80 matches")
	assert.Equal(t, MethodFuzzy, m.Method)
	assert.Equal(t, 0.8, m.Confidence)

	ix = NewIndex([]store.Tag{tag(1, "상판 휨")}, nil)
	_, ok = ix.Find("상판 휘", DefaultFuzzyThreshold)
	assert.False(t, ok, "75 is below the threshold")
}

func TestFindFuzzyTieGoesToFirst(t *testing.T) {
	ix := NewIndex([]store.Tag{tag(1, "도어 b"), tag(2, "도어 c")}, nil)
	m, ok := ix.Find("도어 a", 70)
	require.True(t, ok)
	assert.Equal(t, int64(1), m.TagID)
	assert.Equal(t, 0.75, m.Confidence)
}

func TestFindEmptyInput(t *testing.T) {
	ix := NewIndex([]store.Tag{tag(1, "상판 휨")}, nil)
	for _, raw := range []string{"", "   ", "!!!"} {
		_, ok := ix.Find(raw, DefaultFuzzyThreshold)
		assert.False(t, ok, "input %q", raw)
	}
	_, ok := NewIndex(nil, nil).Find("상판 휨", DefaultFuzzyThreshold)
	assert.False(t, ok, "empty dictionary never matches")
}

func TestSuggest(t *testing.T) {
	ix := NewIndex([]store.Tag{tag(1, "도장 불량"), tag(2, "상판 휨"), tag(3, "상판 파손")}, nil)

	got := ix.Suggest("상판 휨 발생", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "상판 휨", got[0].Tag)
	assert.Equal(t, "상판 파손", got[1].Tag)
	assert.InDelta(t, 8.0/11.0, got[0].Similarity, 1e-9)

	assert.Len(t, ix.Suggest("상판", 10), 3)
	assert.Nil(t, ix.Suggest("", 3))
	assert.Nil(t, ix.Suggest("상판", 0))
}

func TestContained(t *testing.T) {
	ix := NewIndex([]store.Tag{tag(1, "도장 불량"), tag(2, "상판 휨"), tag(3, "휨")}, nil)
	got := ix.Contained("고객 요청: 상판(휨) 심함")
	require.Len(t, got, 2)
	assert.Equal(t, "상판 휨", got[0].Text)
	assert.Equal(t, "휨", got[1].Text)
	assert.Empty(t, ix.Contained(""))
}

func TestEngineSeesNewSynonyms(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	tagID, err := st.CreateTag(ctx, "상판 휨", "상판")
	require.NoError(t, err)

	eng := NewEngine(st, DefaultConfig())
	_, ok, err := eng.FindMatchingTag(ctx, "테이블 처짐")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.AddSynonym(ctx, "테이블 처짐", tagID))
	m, ok, err := eng.FindMatchingTag(ctx, "테이블 처짐")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, MethodSynonym, m.Method)

	sugg, err := eng.SuggestSimilarTags(ctx, "상판", 1)
	require.NoError(t, err)
	require.Len(t, sugg, 1)
	assert.Equal(t, tagID, sugg[0].TagID)
}
