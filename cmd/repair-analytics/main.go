package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/cognicore/repairtag/internal/cli"
	"github.com/cognicore/repairtag/pkg/repairtag/aggregate"
)

func main() {
	var (
		configPath = flag.String("config", "", "Config file (default $REPAIRTAG_CONFIG)")
		dbPath     = flag.String("db", "", "Database path (overrides config)")
		month      = flag.String("month", "", "Report month YYYY-MM (required)")
		trend      = flag.Int("trend", 0, "Trend window in months (default from config)")
		refresh    = flag.Bool("refresh", false, "Recompute cached snapshots")
		compare    = flag.String("compare", "", "Compare against this month instead of the previous one")
	)
	flag.Parse()

	if *month == "" {
		log.Fatal("--month required")
	}

	ctx := context.Background()
	env, cleanup, err := cli.Build(ctx, cli.Options{ConfigPath: *configPath, DBPath: *dbPath})
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	agg := env.Engine.Aggregator
	if *compare != "" {
		if _, err := aggregate.ParseMonth(*compare); err != nil {
			log.Fatalf("--compare: %v", err)
		}
		cmp, err := agg.MonthOverMonth(ctx, *month, *compare)
		if err != nil {
			log.Fatalf("compare months: %v", err)
		}
		cost, err := agg.CostComparison(ctx, *month, *compare)
		if err != nil {
			log.Fatalf("compare cost: %v", err)
		}
		out := struct {
			Comparison aggregate.MonthComparison `json:"month_over_month"`
			Cost       aggregate.CostComparison  `json:"cost"`
		}{cmp, cost}
		if err := cli.PrintJSON(os.Stdout, out); err != nil {
			log.Fatal(err)
		}
		return
	}

	rep, err := agg.MonthlyReport(ctx, *month, aggregate.ReportOptions{TrendMonths: *trend, Refresh: *refresh})
	if err != nil {
		log.Fatalf("monthly report: %v", err)
	}
	log.Printf("%s: %d tagged rows, %d anomalies", rep.Month, rep.Matrix.TotalCases, len(rep.Anomalies))
	if err := cli.PrintJSON(os.Stdout, rep); err != nil {
		log.Fatal(err)
	}
}
