package repairtag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cognicore/repairtag/pkg/repairtag/config"
	"github.com/cognicore/repairtag/pkg/repairtag/extract"
	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/resolver"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
	"github.com/cognicore/repairtag/pkg/repairtag/store/memstore"
)

// scripted answers by keyword found in the action notes
type scripted map[string]extract.Proposal

func (s scripted) ExtractCauses(ctx context.Context, cases []extract.CaseInput, dictionary []string) ([]extract.CaseResult, error) {
	out := make([]extract.CaseResult, 0, len(cases))
	for i, c := range cases {
		res := extract.CaseResult{CaseIndex: i + 1, Summary: c.ActionNotes}
		for kw, p := range s {
			if strings.Contains(c.ActionNotes, kw) {
				res.Tags = append(res.Tags, p)
			}
		}
		out = append(out, res)
	}
	return out, nil
}

// TestEndToEnd walks one month through import, tagging, review and
// analytics.
func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	warp, _ := st.CreateTag(ctx, "상판 휨", "상판")
	paint, _ := st.CreateTag(ctx, "도장 불량", "표면")

	e := New(Options{
		Store: st,
		Extractor: scripted{
			"칠이": {TagText: "도장불량", Confidence: 0.8},
			"바퀴": {TagText: "캐스터 이탈", Confidence: 0.7, IsNew: true},
		},
	})

	file := store.UploadedFile{Filename: "feb.jsonl", FileHash: "h1", YearMonth: "2025-02", TotalCost: 90000}
	cases := []store.Case{
		{RowNumber: 1, YearMonth: "2025-02", ProductGroup: "책상", ActionNotes: "상판 휨 발생"},
		{RowNumber: 2, YearMonth: "2025-02", ProductGroup: "책상", ActionNotes: "표면 칠이 벗겨짐"},
		{RowNumber: 3, YearMonth: "2025-02", ProductGroup: "의자", ActionNotes: "바퀴 빠짐"},
	}
	if _, err := e.Import(ctx, file, cases); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if _, err := e.Import(ctx, file, cases); !errors.Is(err, internalerr.ErrDuplicate) {
		t.Fatalf("re-import: err = %v, want ErrDuplicate", err)
	}

	rep, err := e.Resolver.ResolveMonth(ctx, "2025-02", nil)
	if err != nil {
		t.Fatalf("ResolveMonth: %v", err)
	}
	if rep.Run.RuleTagged != 1 || rep.Run.AICases != 2 || rep.Run.Candidates != 1 {
		t.Fatalf("run = %+v", rep.Run)
	}

	month, _ := st.CasesByMonth(ctx, "2025-02")
	if rows, _ := st.CaseTags(ctx, month[0].ID); len(rows) != 1 || rows[0].TagID != warp || rows[0].Source != store.SourceRuleBased {
		t.Fatalf("rule-tagged case rows = %+v", rows)
	}
	painted := month[1].ID
	rows, _ := st.CaseTags(ctx, painted)
	if len(rows) != 1 || rows[0].TagID != paint || rows[0].IsFinal {
		t.Fatalf("painted case rows = %+v", rows)
	}

	if err := e.Review.Confirm(ctx, painted, paint); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	syns, _ := st.SynonymsByTag(ctx, paint)
	if len(syns) != 1 || syns[0] != "도장불량" {
		t.Errorf("learned synonyms = %v", syns)
	}
	if m, ok, _ := e.Matcher.FindMatchingTag(ctx, "도장불량"); !ok || m.TagID != paint || m.Confidence != 0.95 {
		t.Errorf("learned synonym not used: %+v", m)
	}

	pending, _ := st.PendingCandidates(ctx)
	if len(pending) != 1 || pending[0].ProposedText != "캐스터 이탈" {
		t.Fatalf("candidates = %+v", pending)
	}

	matrix, err := e.Aggregator.ProductTagMatrix(ctx, "2025-02")
	if err != nil {
		t.Fatal(err)
	}
	if matrix.Matrix["책상"]["상판 휨"] != 1 || matrix.Matrix["책상"]["도장 불량"] != 1 || matrix.TotalCases != 2 {
		t.Errorf("matrix = %+v", matrix)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Tagging.Scope = "all"
	cfg.Tagging.BatchSize = 7
	cfg.Analysis.TrendMonths = 12

	opts := OptionsFromConfig(&cfg)
	if opts.Tagging.Scope != resolver.ScopeAll || opts.Tagging.BatchSize != 7 {
		t.Errorf("tagging = %+v", opts.Tagging)
	}
	if opts.Tagging.Retry.MaxAttempts != 3 || len(opts.Tagging.Retry.Backoff) != 3 {
		t.Errorf("retry = %+v", opts.Tagging.Retry)
	}
	if !opts.Tagging.Retry.Retryable(&extract.RateLimitError{}) {
		t.Error("rate limits not retryable")
	}
	if wait := opts.Tagging.Retry.MinWait(&extract.RateLimitError{RetryAfter: 30 * time.Second}); wait != 30*time.Second {
		t.Errorf("retry-after floor = %v", wait)
	}
	if opts.Analysis.TrendMonths != 12 || opts.Analysis.Consecutive != 3 {
		t.Errorf("analysis = %+v", opts.Analysis)
	}
}
