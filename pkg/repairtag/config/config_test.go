package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		EnvPath, "REPAIRTAG_DB", "REPAIRTAG_LOG_LEVEL", "REPAIRTAG_LOG_MODE",
		"REPAIRTAG_BATCH_SIZE", "REPAIRTAG_AI_SCOPE", "REPAIRTAG_LLM_PROVIDER",
		"REPAIRTAG_LLM_MODEL", "REPAIRTAG_LLM_BASE_URL", "REPAIRTAG_LLM_TIMEOUT",
		"REPAIRTAG_LLM_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY",
		"REPAIRTAG_METRICS_TEXTFILE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Tagging.BatchSize)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second, 10 * time.Second}, cfg.Tagging.RetryBackoff)
	assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
	assert.False(t, cfg.LLMEnabled())
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "repairtag.yaml")
	doc := `
database:
  path: /tmp/x.db
tagging:
  batch_size: 8
  retry_backoff: [500ms, 2s]
llm:
  provider: openai
  model: gpt-4o-mini
analysis:
  trend_months: 12
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	t.Setenv(EnvPath, path)
	t.Setenv("REPAIRTAG_BATCH_SIZE", "3")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "ignored")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, 3, cfg.Tagging.BatchSize)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 2 * time.Second}, cfg.Tagging.RetryBackoff)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 12, cfg.Analysis.TrendMonths)
	// untouched sections keep their defaults
	assert.Equal(t, 2.0, cfg.Analysis.ZScore)
	assert.True(t, cfg.LLMEnabled())
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"batch":    func(c *Config) { c.Tagging.BatchSize = 0 },
		"high":     func(c *Config) { c.Tagging.HighConfidence = 1.5 },
		"fuzzy":    func(c *Config) { c.Tagging.FuzzyThreshold = 0 },
		"scope":    func(c *Config) { c.Tagging.Scope = "some" },
		"provider": func(c *Config) { c.LLM.Provider = "bard" },
		"trend":    func(c *Config) { c.Analysis.TrendMonths = 1 },
		"db":       func(c *Config) { c.Database.Path = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), internalerr.ErrInvalidConfig)
		})
	}
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}
