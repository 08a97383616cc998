// Package repairtag wires the cause-tagging engine together: the store,
// the tag matcher, the two-phase resolver, the feedback learner, the review
// service and the monthly aggregator.
package repairtag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/cognicore/repairtag/pkg/repairtag/aggregate"
	"github.com/cognicore/repairtag/pkg/repairtag/config"
	"github.com/cognicore/repairtag/pkg/repairtag/extract"
	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
	"github.com/cognicore/repairtag/pkg/repairtag/learning"
	"github.com/cognicore/repairtag/pkg/repairtag/match"
	"github.com/cognicore/repairtag/pkg/repairtag/resolver"
	"github.com/cognicore/repairtag/pkg/repairtag/retry"
	"github.com/cognicore/repairtag/pkg/repairtag/review"
	"github.com/cognicore/repairtag/pkg/repairtag/store"
	"github.com/cognicore/repairtag/pkg/repairtag/store/sqlite"
)

// Engine is the main facade used by the commands.
type Engine struct {
	store store.Store
	log   *zap.Logger

	Matcher    *match.Engine
	Resolver   *resolver.Resolver
	Learner    *learning.Learner
	Review     *review.Service
	Aggregator *aggregate.Aggregator
}

// Options configures an Engine.
type Options struct {
	Store     store.Store
	Extractor extract.Extractor // optional
	Tagging   resolver.Config
	Analysis  aggregate.Config
	Logger    *zap.Logger
}

// New creates an Engine with the given dependencies.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	threshold := opts.Tagging.FuzzyThreshold
	if threshold <= 0 {
		threshold = match.DefaultFuzzyThreshold
	}
	matcher := match.NewEngine(opts.Store, match.Config{FuzzyThreshold: threshold})
	learner := learning.New(opts.Store, matcher, log.Named("learning"))
	return &Engine{
		store:   opts.Store,
		log:     log,
		Matcher: matcher,
		Resolver: resolver.New(resolver.Options{
			Store:     opts.Store,
			Extractor: opts.Extractor,
			Config:    opts.Tagging,
			Logger:    log.Named("resolver"),
		}),
		Learner:    learner,
		Review:     review.New(opts.Store, learner, log.Named("review")),
		Aggregator: aggregate.New(opts.Store, opts.Analysis, log.Named("aggregate")),
	}
}

// OptionsFromConfig maps the file configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	tagging := resolver.DefaultConfig()
	tagging.BatchSize = cfg.Tagging.BatchSize
	tagging.HighConfidence = cfg.Tagging.HighConfidence
	tagging.FuzzyThreshold = cfg.Tagging.FuzzyThreshold
	tagging.Scope = resolver.Scope(cfg.Tagging.Scope)
	tagging.Retry = retry.Policy{
		MaxAttempts: cfg.Tagging.RetryAttempts,
		Backoff:     cfg.Tagging.RetryBackoff,
		Retryable:   extract.IsRetryable,
		MinWait:     extract.RetryAfter,
	}
	return Options{
		Tagging: tagging,
		Analysis: aggregate.Config{
			Consecutive:      cfg.Analysis.ConsecutiveMonths,
			ZScore:           cfg.Analysis.ZScore,
			SpecialThreshold: cfg.Analysis.SpecialThreshold,
			TrendMonths:      cfg.Analysis.TrendMonths,
		},
	}
}

// Open opens the SQLite store named by cfg and builds an engine on it.
func Open(ctx context.Context, cfg *config.Config, ex extract.Extractor, log *zap.Logger) (*Engine, error) {
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	st, err := sqlite.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Database.Path, err)
	}
	opts := OptionsFromConfig(cfg)
	opts.Store = st
	opts.Extractor = ex
	opts.Logger = log
	return New(opts), nil
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Close cleanly shuts down the engine.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Import records an uploaded batch and its cases. A file whose hash is
// already known is rejected with ErrDuplicate.
func (e *Engine) Import(ctx context.Context, f store.UploadedFile, cases []store.Case) (int64, error) {
	if f.RowCount == 0 {
		f.RowCount = len(cases)
	}
	if existing, found, err := e.store.FileByHash(ctx, f.FileHash); err != nil {
		return 0, err
	} else if found {
		return 0, fmt.Errorf("%s already imported as %s (%s): %w",
			f.Filename, existing.Filename, existing.YearMonth, internalerr.ErrDuplicate)
	}
	id, err := e.store.InsertFile(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	if err := e.store.InsertCases(ctx, id, cases); err != nil {
		return 0, fmt.Errorf("insert cases: %w", err)
	}
	e.log.Info("cases imported",
		zap.String("file", f.Filename),
		zap.String("month", f.YearMonth),
		zap.Int("cases", len(cases)),
		zap.Float64("total_cost", f.TotalCost))
	return id, nil
}
