package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/cognicore/repairtag/pkg/repairtag"
	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/learning"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
	"github.com/cognicore/repairtag/pkg/repairtag/store/memstore"
)

type fixture struct {
	e     *repairtag.Engine
	st    *memstore.Store
	cases []store.Case
	warp  int64
	paint int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	f := &fixture{e: repairtag.New(repairtag.Options{Store: st}), st: st}
	f.warp, _ = st.CreateTag(ctx, "상판 휨", "상판")
	f.paint, _ = st.CreateTag(ctx, "도장 불량", "표면")

	fileID, err := st.InsertFile(ctx, store.UploadedFile{FileHash: "h", YearMonth: "2025-03"})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.InsertCases(ctx, fileID, []store.Case{
		{YearMonth: "2025-03", ProductGroup: "책상", ActionNotes: "상판 처짐 심함"},
		{YearMonth: "2025-03", ProductGroup: "책상", ActionNotes: "상판 처짐 재발"},
	}); err != nil {
		t.Fatal(err)
	}
	f.cases, _ = st.CasesByMonth(ctx, "2025-03")
	if err := st.UpsertCaseTag(ctx, store.CaseTag{
		CaseID: f.cases[0].ID, TagID: f.warp, Source: store.SourceAIProposed,
		Confidence: store.Confidence(0.7), RawText: "상판 처짐",
	}); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) run(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := run(context.Background(), f.e, args, &buf); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return buf.String()
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func TestListAndConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := id(f.cases[0].ID)

	got := f.run(t, "list", "-month", "2025-03")
	if !strings.Contains(got, "상판 휨\tai_proposed\t0.70\tmedium") || !strings.Contains(got, "1 cases need review") {
		t.Errorf("list output %q", got)
	}

	f.run(t, "confirm", "-case", first, "-tag", "상판 휨")
	if got := f.run(t, "status", "-case", first); strings.TrimSpace(got) != "fully_reviewed" {
		t.Errorf("status = %q", got)
	}
	if syns, _ := f.st.SynonymsByTag(ctx, f.warp); len(syns) != 1 || syns[0] != "상판 처짐" {
		t.Errorf("feedback synonyms = %v", syns)
	}
}

func TestReplaceAndAdd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, second := id(f.cases[0].ID), id(f.cases[1].ID)

	f.run(t, "replace", "-case", first, "-tag", id(f.warp), "-new", "도장 불량")
	rows, _ := f.st.CaseTags(ctx, f.cases[0].ID)
	if len(rows) != 1 || rows[0].TagID != f.paint || !rows[0].IsFinal {
		t.Errorf("rows after replace = %+v", rows)
	}

	f.run(t, "add", "-case", second, "-tag", "상판 휨")
	if got := f.run(t, "status", "-case", second); strings.TrimSpace(got) != "fully_reviewed" {
		t.Errorf("status after add = %q", got)
	}

	var buf bytes.Buffer
	err := run(ctx, f.e, []string{"add", "-case", second, "-tag", "없는 태그"}, &buf)
	if !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("unknown tag: err = %v", err)
	}
}

func TestSimilarAndTrainingPairs(t *testing.T) {
	f := newFixture(t)
	f.run(t, "add", "-case", id(f.cases[1].ID), "-tag", "상판 휨")

	got := f.run(t, "similar", "-case", id(f.cases[0].ID))
	if !strings.Contains(got, "case "+id(f.cases[1].ID)) || !strings.Contains(got, "tags: 상판 휨") {
		t.Errorf("similar output %q", got)
	}

	out := filepath.Join(t.TempDir(), "pairs.jsonl")
	f.run(t, "training-pairs", "-month", "2025-03", "-out", out)
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var pair learning.TrainingPair
	if err := json.Unmarshal(bytes.TrimSpace(data), &pair); err != nil {
		t.Fatalf("pairs file %q: %v", data, err)
	}
	if pair.Tag != "상판 휨" || pair.Text != "상판 처짐 재발" {
		t.Errorf("pair = %+v", pair)
	}
}
