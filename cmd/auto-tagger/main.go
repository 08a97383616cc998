package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cognicore/repairtag/internal/cli"
	"github.com/cognicore/repairtag/pkg/repairtag/aggregate"
	"github.com/cognicore/repairtag/pkg/repairtag/config"
	"github.com/cognicore/repairtag/pkg/repairtag/resolver"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
)

type output struct {
	Run      store.Run              `json:"run"`
	Outcomes []resolver.CaseOutcome `json:"outcomes,omitempty"`
}

func main() {
	var (
		configPath = flag.String("config", "", "Config file (default $REPAIRTAG_CONFIG)")
		dbPath     = flag.String("db", "", "Database path (overrides config)")
		month      = flag.String("month", "", "Month YYYY-MM to tag (required)")
		scope      = flag.String("scope", "", "AI scope: remaining or all (overrides config)")
		rulesOnly  = flag.Bool("rules-only", false, "Skip the LLM phase")
		verbose    = flag.Bool("outcomes", false, "Include per-case outcomes in the output")
	)
	flag.Parse()

	if *month == "" {
		log.Fatal("--month required")
	}
	if _, err := aggregate.ParseMonth(*month); err != nil {
		log.Fatalf("--month: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, cleanup, err := cli.Build(ctx, cli.Options{
		ConfigPath: *configPath,
		DBPath:     *dbPath,
		WithLLM:    !*rulesOnly,
		Override: func(cfg *config.Config) {
			if *scope != "" {
				cfg.Tagging.Scope = *scope
			}
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	rep, err := env.Engine.Resolver.ResolveMonth(ctx, *month, func(done, total int) {
		log.Printf("AI tagging: %d/%d cases", done, total)
	})
	if err != nil {
		log.Printf("tagging run %s stopped: %v", rep.Run.ID, err)
	}

	out := output{Run: rep.Run}
	if *verbose {
		out.Outcomes = rep.Outcomes
	}
	if perr := cli.PrintJSON(os.Stdout, out); perr != nil {
		log.Fatal(perr)
	}
	if err != nil {
		cleanup()
		os.Exit(1)
	}
}
