package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

func TestMemStoreTagsAndSynonyms(t *testing.T) {
	ctx := context.Background()
	st := New()

	b, _ := st.CreateTag(ctx, "상판 휨", "")
	a, _ := st.CreateTag(ctx, "도장 불량", "")
	if _, err := st.CreateTag(ctx, "상판 휨", ""); !errors.Is(err, internalerr.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	tags, _ := st.ListTags(ctx, true)
	if len(tags) != 2 || tags[0].ID != a || tags[1].ID != b {
		t.Fatalf("tags must be ordered by text: %+v", tags)
	}

	if err := st.AddSynonym(ctx, "상판 처짐", b); err != nil {
		t.Fatalf("AddSynonym: %v", err)
	}
	if err := st.AddSynonym(ctx, "상판 처짐", a); err != nil {
		t.Fatalf("AddSynonym duplicate: %v", err)
	}
	syns, _ := st.AllSynonyms(ctx)
	if len(syns) != 1 || syns[0].TagID != b {
		t.Errorf("duplicate synonym must be ignored: %+v", syns)
	}

	if err := st.SetTagActive(ctx, "상판 휨", false); err != nil {
		t.Fatalf("SetTagActive: %v", err)
	}
	active, _ := st.ListTags(ctx, true)
	if len(active) != 1 {
		t.Errorf("expected 1 active tag, got %d", len(active))
	}
}

func TestMemStoreUntaggedAndFinalized(t *testing.T) {
	ctx := context.Background()
	st := New()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})

	tagID, _ := st.CreateTag(ctx, "상판 휨", "")
	fileID, _ := st.InsertFile(ctx, store.UploadedFile{FileHash: "h", YearMonth: "2025-01", TotalCost: 100})
	if err := st.InsertCases(ctx, fileID, []store.Case{
		{YearMonth: "2025-01", ProductGroup: "책상"},
		{YearMonth: "2025-01", ProductGroup: "책상"},
	}); err != nil {
		t.Fatalf("InsertCases: %v", err)
	}
	cases, _ := st.CasesByMonth(ctx, "2025-01")
	for _, c := range cases {
		if err := st.UpsertCaseTag(ctx, store.CaseTag{
			CaseID: c.ID, TagID: tagID, Source: store.SourceUserConfirmed, IsFinal: true,
		}); err != nil {
			t.Fatalf("UpsertCaseTag: %v", err)
		}
	}

	untagged, _ := st.UntaggedByMonth(ctx, "2025-01")
	if len(untagged) != 0 {
		t.Errorf("expected no untagged cases, got %d", len(untagged))
	}

	final, _ := st.FinalizedCases(ctx, store.FinalFilter{ProductGroup: "책상"})
	if len(final) != 2 || final[0].ID != cases[1].ID {
		t.Errorf("finalized rows must be most recent first: %+v", final)
	}
	final, _ = st.FinalizedCases(ctx, store.FinalFilter{Limit: 1})
	if len(final) != 1 {
		t.Errorf("limit not applied: %d", len(final))
	}

	if cost, _ := st.MonthCost(ctx, "2025-01"); cost != 100 {
		t.Errorf("unexpected cost %v", cost)
	}
}

func TestMemStoreCandidateResolution(t *testing.T) {
	ctx := context.Background()
	st := New()

	id, err := st.AddCandidate(ctx, store.Candidate{ProposedText: "서랍 소음"})
	if err != nil {
		t.Fatalf("AddCandidate: %v", err)
	}
	if err := st.ResolveCandidate(ctx, id, store.CandidatePending); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if err := st.ResolveCandidate(ctx, id, store.CandidateApproved); err != nil {
		t.Fatalf("ResolveCandidate: %v", err)
	}
	if err := st.ResolveCandidate(ctx, id, store.CandidateRejected); !errors.Is(err, internalerr.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	pending, _ := st.PendingCandidates(ctx)
	if len(pending) != 0 {
		t.Errorf("expected no pending candidates, got %d", len(pending))
	}
}

func TestMemStoreSnapshotInvalidation(t *testing.T) {
	ctx := context.Background()
	st := New()
	tagID, _ := st.CreateTag(ctx, "상판 휨", "상판")
	fileID, _ := st.InsertFile(ctx, store.UploadedFile{FileHash: "h", YearMonth: "2025-03"})
	if err := st.InsertCases(ctx, fileID, []store.Case{{YearMonth: "2025-03"}}); err != nil {
		t.Fatal(err)
	}
	cases, _ := st.CasesByMonth(ctx, "2025-03")

	for _, s := range []store.Snapshot{
		{YearMonth: "2025-02", Type: store.SnapshotMatrix},
		{YearMonth: "2025-03", Type: store.SnapshotMatrix},
		{YearMonth: "2025-05", Type: store.SnapshotTrendPrefix + "3"},
	} {
		if err := st.SaveSnapshot(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.UpsertCaseTag(ctx, store.CaseTag{CaseID: cases[0].ID, TagID: tagID, Source: store.SourceRuleBased}); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := st.LoadSnapshot(ctx, "2025-03", store.SnapshotMatrix); ok {
		t.Error("month matrix kept after tagging")
	}
	if _, ok, _ := st.LoadSnapshot(ctx, "2025-05", store.SnapshotTrendPrefix+"3"); ok {
		t.Error("later trend kept after tagging")
	}
	if _, ok, _ := st.LoadSnapshot(ctx, "2025-02", store.SnapshotMatrix); !ok {
		t.Error("unrelated month dropped")
	}
}
