package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/cognicore/repairtag/internal/cli"
	"github.com/cognicore/repairtag/pkg/repairtag"
	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/lexicon"
	"github.com/cognicore/repairtag/pkg/repairtag/textnorm"
)

const usage = `usage: dict-admin [-config file] [-db path] <command> [flags]

commands:
  seed         -file dict.yaml        load tags and synonyms
  export       [-file dict.yaml]      write the dictionary (stdout by default)
  list         [-all]                 list tags
  add-tag      -tag T [-category C]
  add-synonym  -tag T -synonym S
  deactivate   -tag T
  activate     -tag T
  suggest      -text S [-top N]       closest active tags
  candidates                          pending new-tag candidates
  approve      -id N [-category C]
  reject       -id N`

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
		file     = fs.String("file", "", "YAML dictionary file")
		tag      = fs.String("tag", "", "Tag text")
		category = fs.String("category", "", "Tag category")
		synonym  = fs.String("synonym", "", "Synonym text")
		text     = fs.String("text", "", "Raw text to match")
		top      = fs.Int("top", 3, "Number of suggestions")
		id       = fs.Int64("id", 0, "Candidate ID")
		all      = fs.Bool("all", false, "Include retired tags")
	)
	if err := fs.Parse(rest); err != nil {
		return err
	}
	st := e.Store()

	switch cmd {
	case "seed":
		if *file == "" {
			return errors.New("seed: -file required")
		}
		d, err := lexicon.LoadFromYAML(*file)
		if err != nil {
			return fmt.Errorf("load dictionary: %w", err)
		}
		stats, err := lexicon.Seed(ctx, st, d)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "tags created %d, existing %d, synonyms %d, deactivated %d\n",
			stats.TagsCreated, stats.TagsExisting, stats.Synonyms, stats.Deactivated)

	case "export":
		d, err := lexicon.Export(ctx, st)
		if err != nil {
			return err
		}
		if *file == "" {
			return d.Write(w)
		}
		if err := d.SaveYAML(*file); err != nil {
			return err
		}
		fmt.Fprintf(w, "%d tags written to %s\n", len(d.Tags), *file)

	case "list":
		tags, err := st.ListTags(ctx, !*all)
		if err != nil {
			return err
		}
		for _, t := range tags {
			state := ""
			if !t.Active {
				state = " (retired)"
			}
			fmt.Fprintf(w, "%d\t%s\t%s%s\n", t.ID, t.Text, t.Category, state)
		}

	case "add-tag":
		name := strings.TrimSpace(*tag)
		if name == "" {
			return errors.New("add-tag: -tag required")
		}
		newID, err := st.CreateTag(ctx, name, strings.TrimSpace(*category))
		if err != nil {
			return fmt.Errorf("add tag %q: %w", name, err)
		}
		fmt.Fprintf(w, "tag %d: %s\n", newID, name)

	case "add-synonym":
		norm := textnorm.Normalize(*synonym)
		if *tag == "" || norm == "" {
			return errors.New("add-synonym: -tag and -synonym required")
		}
		t, ok, err := st.GetTagByText(ctx, strings.TrimSpace(*tag))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("tag %q: %w", *tag, internalerr.ErrNotFound)
		}
		if err := st.AddSynonym(ctx, norm, t.ID); err != nil {
			return err
		}
		fmt.Fprintf(w, "synonym %q -> %s\n", norm, t.Text)

	case "deactivate", "activate":
		if *tag == "" {
			return fmt.Errorf("%s: -tag required", cmd)
		}
		if err := st.SetTagActive(ctx, strings.TrimSpace(*tag), cmd == "activate"); err != nil {
			return err
		}
		fmt.Fprintf(w, "%sd %s\n", cmd, *tag)

	case "suggest":
		if *text == "" {
			return errors.New("suggest: -text required")
		}
		if m, ok, err := e.Matcher.FindMatchingTag(ctx, *text); err != nil {
			return err
		} else if ok {
			fmt.Fprintf(w, "match: %s (%s, %.2f)\n", m.Tag, m.Method, m.Confidence)
		}
		sugg, err := e.Matcher.SuggestSimilarTags(ctx, *text, *top)
		if err != nil {
			return err
		}
		for _, s := range sugg {
			fmt.Fprintf(w, "%.2f\t%s\n", s.Similarity, s.Tag)
		}

	case "candidates":
		cands, err := st.PendingCandidates(ctx)
		if err != nil {
			return err
		}
		for _, c := range cands {
			fmt.Fprintf(w, "%d\t%s\tcase %d\tsimilar %q (%.2f)\n", c.ID, c.ProposedText, c.CaseID, c.SimilarTag, c.Similarity)
		}

	case "approve":
		tagID, err := e.Review.ApproveCandidate(ctx, *id, strings.TrimSpace(*category))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "candidate %d approved as tag %d\n", *id, tagID)

	case "reject":
		if err := e.Review.RejectCandidate(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintf(w, "candidate %d rejected\n", *id)

	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	return nil
}
