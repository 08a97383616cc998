// Package cli holds the start-up shared by the repairtag commands: config,
// logger, metrics registry and the engine over the configured store.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cognicore/repairtag/internal/llm"
	"github.com/cognicore/repairtag/internal/logger"
	"github.com/cognicore/repairtag/pkg/repairtag"
	"github.com/cognicore/repairtag/pkg/repairtag/config"
	"github.com/cognicore/repairtag/pkg/repairtag/extract"
	"github.com/cognicore/repairtag/pkg/repairtag/metrics"
)

// Env is a ready-to-use command environment.
type Env struct {
	Config   *config.Config
	Log      *zap.Logger
	Engine   *repairtag.Engine
	Registry *prometheus.Registry
}

// Options select what Build sets up.
type Options struct {
	ConfigPath string
	DBPath     string // overrides database.path when set
	WithLLM    bool   // build the configured extractor
	// Override adjusts the loaded configuration before it is validated
	// again and used.
	Override func(*config.Config)
}

// Build loads configuration and opens the engine. The returned cleanup
// closes the store, dumps metrics when configured and flushes the logger.
func Build(ctx context.Context, opts Options) (*Env, func(), error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if opts.DBPath != "" {
		cfg.Database.Path = opts.DBPath
	}
	if opts.Override != nil {
		opts.Override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, nil, fmt.Errorf("register metrics: %w", err)
	}

	var ex extract.Extractor
	if opts.WithLLM {
		if ex, err = llm.New(cfg.LLM, log.Named("llm")); err != nil {
			return nil, nil, fmt.Errorf("build extractor: %w", err)
		}
		if ex == nil {
			log.Warn("no LLM api key configured, running rules only", zap.String("provider", cfg.LLM.Provider))
		}
	}

	engine, err := repairtag.Open(ctx, cfg, ex, log)
	if err != nil {
		return nil, nil, err
	}

	env := &Env{Config: cfg, Log: log, Engine: engine, Registry: reg}
	cleanup := func() {
		if err := engine.Close(); err != nil {
			log.Warn("close store", zap.Error(err))
		}
		if path := cfg.Metrics.Textfile; path != "" {
			if err := prometheus.WriteToTextfile(path, reg); err != nil {
				log.Warn("write metrics textfile", zap.String("path", path), zap.Error(err))
			}
		}
		_ = log.Sync()
	}
	return env, cleanup, nil
}

// PrintJSON writes v indented.
func PrintJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
