package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/cognicore/repairtag/internal/cli"
	"github.com/cognicore/repairtag/pkg/repairtag"
	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/learning"
	"github.com/cognicore/repairtag/pkg/repairtag/resolver"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

const usage = `usage: tag-review [-config file] [-db path] <command> [flags]

commands:
  list            -month M              cases with unreviewed tags
  status          -case N
  confirm         -case N -tag T
  reject          -case N -tag T
  add             -case N -tag T
  replace         -case N -tag OLD -new NEW
  similar         -case N [-top 3]      finalized cases sharing keywords
  training-pairs  [-month M] [-out f]   JSONL of finalized (text, tag) pairs

Tags are given by ID or by text.`

func main() {
	var (
		configPath = flag.String("config", "", "Config file (default $REPAIRTAG_CONFIG)")
		dbPath     = flag.String("db", "", "Database path (overrides config)")
	)
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	env, cleanup, err := cli.Build(ctx, cli.Options{ConfigPath: *configPath, DBPath: *dbPath})
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	if err := run(ctx, env.Engine, flag.Args(), os.Stdout); err != nil {
		cleanup()
		log.Fatal(err)
	}
}

func run(ctx context.Context, e *repairtag.Engine, args []string, w io.Writer) error {
	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	var (
		month  = fs.String("month", "", "Month YYYY-MM")
		caseID = fs.Int64("case", 0, "Case ID")
		tag    = fs.String("tag", "", "Tag ID or text")
		newTag = fs.String("new", "", "Replacement tag ID or text")
		top    = fs.Int("top", learning.DefaultSimilarCases, "Number of similar cases")
		out    = fs.String("out", "", "Output file (stdout by default)")
	)
	if err := fs.Parse(rest); err != nil {
		return err
	}
	st := e.Store()

	switch cmd {
	case "list":
		if *month == "" {
			return errors.New("list: -month required")
		}
		pending, err := e.Review.NeedsReview(ctx, *month)
		if err != nil {
			return err
		}
		for _, cr := range pending {
			fmt.Fprintf(w, "case %d [%s] %s\n", cr.Case.ID, cr.Case.ProductGroup, oneLine(cr.Case.ActionNotes))
			for _, ct := range cr.Tags {
				state := "final"
				if !ct.IsFinal {
					state = resolver.Band(ct.Score())
				}
				fmt.Fprintf(w, "  %d\t%s\t%s\t%.2f\t%s\n", ct.TagID, ct.Tag, ct.Source, ct.Score(), state)
			}
		}
		fmt.Fprintf(w, "%d cases need review\n", len(pending))

	case "status":
		s, err := e.Review.Status(ctx, *caseID)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, s)

	case "confirm", "reject", "add":
		tagID, err := tagRef(ctx, st, *tag)
		if err != nil {
			return err
		}
		switch cmd {
		case "confirm":
			err = e.Review.Confirm(ctx, *caseID, tagID)
		case "reject":
			err = e.Review.Reject(ctx, *caseID, tagID)
		default:
			err = e.Review.Add(ctx, *caseID, tagID)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "case %d: %s tag %d\n", *caseID, cmd, tagID)

	case "replace":
		oldID, err := tagRef(ctx, st, *tag)
		if err != nil {
			return err
		}
		newID, err := tagRef(ctx, st, *newTag)
		if err != nil {
			return err
		}
		if err := e.Review.Replace(ctx, *caseID, oldID, newID); err != nil {
			return err
		}
		fmt.Fprintf(w, "case %d: tag %d replaced by %d\n", *caseID, oldID, newID)

	case "similar":
		c, ok, err := st.GetCase(ctx, *caseID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("case %d: %w", *caseID, internalerr.ErrNotFound)
		}
		past, err := e.Learner.SimilarPastCases(ctx, c, *top)
		if err != nil {
			return err
		}
		for _, p := range past {
			fmt.Fprintf(w, "case %d (%s, overlap %d): %s\n  tags: %s\n",
				p.Case.ID, p.Case.YearMonth, p.Overlap, oneLine(p.Case.ActionNotes), strings.Join(p.Tags, ", "))
		}

	case "training-pairs":
		pairs, err := e.Learner.BuildTrainingPairs(ctx, *month)
		if err != nil {
			return err
		}
		dst := w
		if *out != "" {
			f, err := os.Create(*out)
			if err != nil {
				return err
			}
			defer f.Close()
			dst = f
		}
		enc := json.NewEncoder(dst)
		for _, p := range pairs {
			if err := enc.Encode(p); err != nil {
				return err
			}
		}
		if *out != "" {
			fmt.Fprintf(w, "%d training pairs written to %s\n", len(pairs), *out)
		}

	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	return nil
}

// tagRef resolves a numeric tag ID or a tag text.
func tagRef(ctx context.Context, st store.Store, ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, fmt.Errorf("tag required: %w", internalerr.ErrInvalidInput)
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id, nil
	}
	t, ok, err := st.GetTagByText(ctx, ref)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("tag %q: %w", ref, internalerr.ErrNotFound)
	}
	return t.ID, nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
