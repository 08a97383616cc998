package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"

	"github.com/cognicore/repairtag/internal/casefeed"
	"github.com/cognicore/repairtag/internal/cli"
	"github.com/cognicore/repairtag/pkg/repairtag/aggregate"
	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
)

type summary struct {
	FileID    int64   `json:"file_id"`
	Filename  string  `json:"filename"`
	YearMonth string  `json:"year_month"`
	Cases     int     `json:"cases"`
	Skipped   int     `json:"skipped_lines"`
	TotalCost float64 `json:"total_cost"`
	Duplicate bool    `json:"duplicate,omitempty"`
}

func main() {
	var (
		configPath = flag.String("config", "", "Config file (default $REPAIRTAG_CONFIG)")
		dbPath     = flag.String("db", "", "Database path (overrides config)")
		input      = flag.String("input", "", "Case export JSONL file (required)")
		month      = flag.String("month", "", "Month YYYY-MM for every case (default: from the records)")
	)
	flag.Parse()

	if *input == "" {
		log.Fatal("--input required")
	}
	if *month != "" {
		if _, err := aggregate.ParseMonth(*month); err != nil {
			log.Fatalf("--month: %v", err)
		}
	}

	ctx := context.Background()
	env, cleanup, err := cli.Build(ctx, cli.Options{ConfigPath: *configPath, DBPath: *dbPath})
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	batch, err := casefeed.LoadFromJSONL(*input, *month, env.Log)
	if err != nil {
		log.Fatalf("load cases: %v", err)
	}

	out := summary{
		Filename:  batch.File.Filename,
		YearMonth: batch.File.YearMonth,
		Cases:     len(batch.Cases),
		Skipped:   batch.Skipped,
		TotalCost: batch.File.TotalCost,
	}
	id, err := env.Engine.Import(ctx, batch.File, batch.Cases)
	switch {
	case errors.Is(err, internalerr.ErrDuplicate):
		log.Printf("skipping: %v", err)
		out.Duplicate = true
	case err != nil:
		log.Fatalf("import: %v", err)
	default:
		out.FileID = id
	}

	if err := cli.PrintJSON(os.Stdout, out); err != nil {
		log.Fatal(err)
	}
}
