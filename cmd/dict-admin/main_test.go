package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/cognicore/repairtag/pkg/repairtag"
	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
	"github.com/cognicore/repairtag/pkg/repairtag/store/memstore"
)

func newEngine(t *testing.T) (*repairtag.Engine, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	return repairtag.New(repairtag.Options{Store: st}), st
}

func exec(t *testing.T, e *repairtag.Engine, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := run(context.Background(), e, args, &buf); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return buf.String()
}

func TestSeedListExport(t *testing.T) {
	e, _ := newEngine(t)
	dir := t.TempDir()
	dict := filepath.Join(dir, "dict.yaml")
	if err := os.WriteFile(dict, []byte("tags:\n  - tag: 상판 휨\n    synonyms: [상판 처짐]\n  - tag: 힌지 파손\n    inactive: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := exec(t, e, "seed", "-file", dict); !strings.Contains(got, "tags created 2") {
		t.Errorf("seed output %q", got)
	}
	if got := exec(t, e, "list"); strings.Contains(got, "힌지 파손") {
		t.Errorf("retired tag listed without -all: %q", got)
	}
	if got := exec(t, e, "list", "-all"); !strings.Contains(got, "힌지 파손\t (retired)") {
		t.Errorf("list -all output %q", got)
	}
	if got := exec(t, e, "export"); !strings.Contains(got, "- 상판 처짐") {
		t.Errorf("export output %q", got)
	}
}

func TestTagAndSynonymCommands(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	exec(t, e, "add-tag", "-tag", "도장 불량", "-category", "표면")
	exec(t, e, "add-synonym", "-tag", "도장 불량", "-synonym", " 도장  벗겨짐 ")
	tag, _, _ := st.GetTagByText(ctx, "도장 불량")
	if syns, _ := st.SynonymsByTag(ctx, tag.ID); len(syns) != 1 || syns[0] != "도장 벗겨짐" {
		t.Errorf("synonyms = %v", syns)
	}
	if got := exec(t, e, "suggest", "-text", "도장 벗겨짐"); !strings.Contains(got, "match: 도장 불량 (synonym, 0.95)") {
		t.Errorf("suggest output %q", got)
	}

	exec(t, e, "deactivate", "-tag", "도장 불량")
	if tag, _, _ := st.GetTagByText(ctx, "도장 불량"); tag.Active {
		t.Error("tag still active")
	}

	var buf bytes.Buffer
	err := run(ctx, e, []string{"add-synonym", "-tag", "없는 태그", "-synonym", "x"}, &buf)
	if !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("unknown tag: err = %v", err)
	}
	if err := run(ctx, e, []string{"frobnicate"}, &buf); err == nil {
		t.Error("unknown command accepted")
	}
}

func TestCandidateCommands(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	fileID, _ := st.InsertFile(ctx, store.UploadedFile{FileHash: "h", YearMonth: "2025-01"})
	if err := st.InsertCases(ctx, fileID, []store.Case{{YearMonth: "2025-01", ActionNotes: "바퀴 빠짐"}}); err != nil {
		t.Fatal(err)
	}
	month, _ := st.CasesByMonth(ctx, "2025-01")
	first, _ := st.AddCandidate(ctx, store.Candidate{ProposedText: "캐스터 이탈", CaseID: month[0].ID})
	second, _ := st.AddCandidate(ctx, store.Candidate{ProposedText: "바퀴 빠짐", CaseID: month[0].ID})

	if got := exec(t, e, "candidates"); !strings.Contains(got, "캐스터 이탈") || !strings.Contains(got, "바퀴 빠짐") {
		t.Errorf("candidates output %q", got)
	}
	exec(t, e, "approve", "-id", strconv.FormatInt(first, 10), "-category", "하부")
	exec(t, e, "reject", "-id", strconv.FormatInt(second, 10))

	if tag, ok, _ := st.GetTagByText(ctx, "캐스터 이탈"); !ok || tag.Category != "하부" {
		t.Errorf("approved tag = %+v", tag)
	}
	if pending, _ := st.PendingCandidates(ctx); len(pending) != 0 {
		t.Errorf("pending after review = %+v", pending)
	}
}
