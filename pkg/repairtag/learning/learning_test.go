package learning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/repairtag/pkg/repairtag/store"
	"github.com/cognicore/repairtag/pkg/repairtag/store/memstore"
)

type env struct {
	st   *memstore.Store
	l    *Learner
	tags map[string]int64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memstore.New()
	e := &env{st: st, l: New(st, nil, nil), tags: make(map[string]int64)}
	for _, text := range []string{"도장 불량", "상판 휨", "힌지 파손"} {
		id, err := st.CreateTag(context.Background(), text, "")
		require.NoError(t, err)
		e.tags[text] = id
	}
	return e
}

// addCases inserts cases and returns them with their assigned IDs.
func (e *env) addCases(t *testing.T, cases ...store.Case) []store.Case {
	t.Helper()
	ctx := context.Background()
	fileID, err := e.st.InsertFile(ctx, store.UploadedFile{FileHash: t.Name(), YearMonth: "2025-01"})
	require.NoError(t, err)
	require.NoError(t, e.st.InsertCases(ctx, fileID, cases))

	var out []store.Case
	for _, ym := range []string{"2025-01", "2025-02"} {
		got, err := e.st.CasesByMonth(ctx, ym)
		require.NoError(t, err)
		out = append(out, got...)
	}
	return out
}

func (e *env) finalize(t *testing.T, caseID int64, tag string) {
	t.Helper()
	require.NoError(t, e.st.UpsertCaseTag(context.Background(), store.CaseTag{
		CaseID:  caseID,
		TagID:   e.tags[tag],
		Source:  store.SourceUserConfirmed,
		IsFinal: true,
	}))
}

func TestUpdateSynonymFromFeedback(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tagID := e.tags["상판 휨"]

	added, err := e.l.UpdateSynonymFromFeedback(ctx, "  테이블 상판 처짐!! ", tagID)
	require.NoError(t, err)
	assert.True(t, added)

	syns, err := e.st.SynonymsByTag(ctx, tagID)
	require.NoError(t, err)
	assert.Equal(t, []string{"테이블 상판 처짐"}, syns)

	// now resolved through the synonym: nothing to learn
	added, err = e.l.UpdateSynonymFromFeedback(ctx, "테이블 상판(처짐)", tagID)
	require.NoError(t, err)
	assert.False(t, added)
}

func TestUpdateSynonymFromFeedbackNoOps(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	for _, raw := range []string{"", "   ", "---"} {
		added, err := e.l.UpdateSynonymFromFeedback(ctx, raw, e.tags["상판 휨"])
		require.NoError(t, err)
		assert.False(t, added, "input %q", raw)
	}

	// exact match to the same tag
	added, err := e.l.UpdateSynonymFromFeedback(ctx, "상판-휨", e.tags["상판 휨"])
	require.NoError(t, err)
	assert.False(t, added)

	all, _ := e.st.AllSynonyms(ctx)
	assert.Empty(t, all)
}

func TestUpdateSynonymFromFeedbackOverridesOtherTag(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	// fuzzy-resolves to 힌지 파손, but the user confirmed 도장 불량
	added, err := e.l.UpdateSynonymFromFeedback(ctx, "힌지파손", e.tags["도장 불량"])
	require.NoError(t, err)
	assert.True(t, added)

	// an exact match to a different tag is still learned
	added, err = e.l.UpdateSynonymFromFeedback(ctx, "상판 휨", e.tags["도장 불량"])
	require.NoError(t, err)
	assert.True(t, added)

	// repeating is harmless
	added, err = e.l.UpdateSynonymFromFeedback(ctx, "힌지파손", e.tags["도장 불량"])
	require.NoError(t, err)
	assert.False(t, added)

	all, _ := e.st.AllSynonyms(ctx)
	assert.Len(t, all, 2)
}

func TestBuildTrainingPairs(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	cases := e.addCases(t,
		store.Case{YearMonth: "2025-01", ActionNotes: "상판 휨 교체", RequestDetails: "교환 요청"},
		store.Case{YearMonth: "2025-02", ActionNotes: "힌지 교체"},
		store.Case{YearMonth: "2025-02"},
		store.Case{YearMonth: "2025-02", ActionNotes: "미확정"},
	)
	e.finalize(t, cases[0].ID, "상판 휨")
	e.finalize(t, cases[1].ID, "힌지 파손")
	e.finalize(t, cases[2].ID, "도장 불량")
	require.NoError(t, e.st.UpsertCaseTag(ctx, store.CaseTag{
		CaseID: cases[3].ID, TagID: e.tags["도장 불량"], Source: store.SourceAIProposed,
	}))

	pairs, err := e.l.BuildTrainingPairs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
	assert.Contains(t, pairs, TrainingPair{Text: "상판 휨 교체 교환 요청", Tag: "상판 휨", TagID: e.tags["상판 휨"]})

	pairs, err = e.l.BuildTrainingPairs(ctx, "2025-02")
	require.NoError(t, err)
	assert.Equal(t, []TrainingPair{{Text: "힌지 교체", Tag: "힌지 파손", TagID: e.tags["힌지 파손"]}}, pairs)
}

func TestSimilarPastCases(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := e.addCases(t,
		store.Case{YearMonth: "2025-01", ProductGroup: "책상", ActionNotes: "상판 휨 발생 교체", CreatedAt: base},
		store.Case{YearMonth: "2025-01", ProductGroup: "책상", ActionNotes: "상판 도장 벗겨짐", CreatedAt: base.Add(time.Hour)},
		store.Case{YearMonth: "2025-01", ProductGroup: "의자", ActionNotes: "상판 휨 발생", CreatedAt: base.Add(2 * time.Hour)},
		store.Case{YearMonth: "2025-01", ProductGroup: "책상", ActionNotes: "바퀴 소음", CreatedAt: base.Add(3 * time.Hour)},
		store.Case{YearMonth: "2025-01", ProductGroup: "책상", ActionNotes: "상판", RequestDetails: "휨 발생", CreatedAt: base.Add(4 * time.Hour)},
	)
	e.finalize(t, cases[0].ID, "상판 휨")
	e.finalize(t, cases[0].ID, "도장 불량")
	e.finalize(t, cases[1].ID, "도장 불량")
	e.finalize(t, cases[2].ID, "상판 휨")
	e.finalize(t, cases[3].ID, "힌지 파손")
	e.finalize(t, cases[4].ID, "상판 휨")

	target := store.Case{ID: 9999, ProductGroup: "책상", ActionNotes: "상판 휨 발생"}
	got, err := e.l.SimilarPastCases(ctx, target, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// equal overlaps keep recency order; the 의자 case is filtered by product group
	assert.Equal(t, cases[4].ID, got[0].Case.ID)
	assert.Equal(t, 2, got[0].Overlap)
	assert.Equal(t, cases[0].ID, got[1].Case.ID)
	assert.Equal(t, 2, got[1].Overlap)
	assert.ElementsMatch(t, []string{"상판 휨", "도장 불량"}, got[1].Tags)
	assert.Equal(t, cases[1].ID, got[2].Case.ID)
	assert.Equal(t, 1, got[2].Overlap)
}

func TestSimilarPastCasesExcludesTargetAndEmpty(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	cases := e.addCases(t,
		store.Case{YearMonth: "2025-01", ActionNotes: "상판 휨"},
		store.Case{YearMonth: "2025-01", ActionNotes: "바퀴 소음"},
	)
	e.finalize(t, cases[0].ID, "상판 휨")
	e.finalize(t, cases[1].ID, "힌지 파손")

	got, err := e.l.SimilarPastCases(ctx, cases[0], 3)
	require.NoError(t, err)
	assert.Empty(t, got, "the target itself and zero-overlap cases are excluded")

	got, err = e.l.SimilarPastCases(ctx, store.Case{ActionNotes: "abc"}, 3)
	require.NoError(t, err)
	assert.Nil(t, got)
}
