// Package config loads the settings shared by the repairtag commands from a
// YAML file layered over defaults and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
)

// EnvPath names the variable consulted when Load is given no path.
const EnvPath = "REPAIRTAG_CONFIG"

// LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderNone      = "none"
)

// Config holds all runtime settings.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tagging  TaggingConfig  `yaml:"tagging"`
	LLM      LLMConfig      `yaml:"llm"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Mode  string `yaml:"mode"` // production (JSON) or development
}

// TaggingConfig drives the resolver.
type TaggingConfig struct {
	BatchSize      int             `yaml:"batch_size"`
	HighConfidence float64         `yaml:"high_confidence"`
	FuzzyThreshold float64         `yaml:"fuzzy_threshold"`
	Scope          string          `yaml:"scope"` // remaining or all
	RetryAttempts  int             `yaml:"retry_attempts"`
	RetryBackoff   []time.Duration `yaml:"retry_backoff"`
}

// LLMConfig selects and tunes the cause extractor.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"` // empty picks the provider default
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

type AnalysisConfig struct {
	ConsecutiveMonths int     `yaml:"consecutive_months"`
	ZScore            float64 `yaml:"z_score"`
	SpecialThreshold  int     `yaml:"special_threshold"`
	TrendMonths       int     `yaml:"trend_months"`
}

type MetricsConfig struct {
	// Textfile, when set, receives a Prometheus text dump after each command.
	Textfile string `yaml:"textfile"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "data/repairtag.db"},
		Logging:  LoggingConfig{Level: "info", Mode: "production"},
		Tagging: TaggingConfig{
			BatchSize:      5,
			HighConfidence: 0.9,
			FuzzyThreshold: 80,
			Scope:          "remaining",
			RetryAttempts:  3,
			RetryBackoff:   []time.Duration{time.Second, 3 * time.Second, 10 * time.Second},
		},
		LLM: LLMConfig{
			Provider:          ProviderAnthropic,
			MaxTokens:         4096,
			Timeout:           2 * time.Minute,
			RequestsPerMinute: 50,
		},
		Analysis: AnalysisConfig{
			ConsecutiveMonths: 3,
			ZScore:            2.0,
			SpecialThreshold:  5,
			TrendMonths:       6,
		},
	}
}

// Load reads path (or $REPAIRTAG_CONFIG) over the defaults and applies
// environment overrides. With no path at all the defaults are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REPAIRTAG_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("REPAIRTAG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REPAIRTAG_LOG_MODE"); v != "" {
		cfg.Logging.Mode = v
	}
	if v := os.Getenv("REPAIRTAG_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tagging.BatchSize = n
		}
	}
	if v := os.Getenv("REPAIRTAG_AI_SCOPE"); v != "" {
		cfg.Tagging.Scope = strings.ToLower(v)
	}
	if v := os.Getenv("REPAIRTAG_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("REPAIRTAG_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("REPAIRTAG_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("REPAIRTAG_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if v := os.Getenv("REPAIRTAG_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case ProviderAnthropic:
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case ProviderOpenAI:
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if v := os.Getenv("REPAIRTAG_METRICS_TEXTFILE"); v != "" {
		cfg.Metrics.Textfile = v
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Database.Path) == "" {
		problems = append(problems, "database.path is empty")
	}
	if c.Tagging.BatchSize < 1 {
		problems = append(problems, fmt.Sprintf("tagging.batch_size %d < 1", c.Tagging.BatchSize))
	}
	if c.Tagging.HighConfidence <= 0 || c.Tagging.HighConfidence > 1 {
		problems = append(problems, fmt.Sprintf("tagging.high_confidence %v outside (0,1]", c.Tagging.HighConfidence))
	}
	if c.Tagging.FuzzyThreshold <= 0 || c.Tagging.FuzzyThreshold > 100 {
		problems = append(problems, fmt.Sprintf("tagging.fuzzy_threshold %v outside (0,100]", c.Tagging.FuzzyThreshold))
	}
	switch c.Tagging.Scope {
	case "remaining", "all":
	default:
		problems = append(problems, fmt.Sprintf("tagging.scope %q not remaining|all", c.Tagging.Scope))
	}
	if c.Tagging.RetryAttempts < 1 {
		problems = append(problems, "tagging.retry_attempts < 1")
	}
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderNone:
	default:
		problems = append(problems, fmt.Sprintf("llm.provider %q unknown", c.LLM.Provider))
	}
	if c.Analysis.ConsecutiveMonths < 1 {
		problems = append(problems, "analysis.consecutive_months < 1")
	}
	if c.Analysis.ZScore <= 0 {
		problems = append(problems, "analysis.z_score must be positive")
	}
	if c.Analysis.TrendMonths < 2 {
		problems = append(problems, "analysis.trend_months < 2")
	}
	if c.Analysis.SpecialThreshold < 0 {
		problems = append(problems, "analysis.special_threshold is negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", internalerr.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// LLMEnabled reports whether an extractor should be built.
func (c *Config) LLMEnabled() bool {
	return c.LLM.Provider != ProviderNone && c.LLM.APIKey != ""
}
