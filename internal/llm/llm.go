// Package llm provides the cause-extractor backends used by the tag
// resolver: Claude through the Anthropic SDK with a forced tool call, and
// any OpenAI-compatible chat endpoint returning a JSON object.
package llm

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/cognicore/repairtag/pkg/repairtag/config"
	"github.com/cognicore/repairtag/pkg/repairtag/extract"
	"github.com/cognicore/repairtag/pkg/repairtag/internalerr"
)

// New builds the extractor selected by cfg.Provider. It returns nil, nil
// when the provider is "none" or no API key is configured, in which case
// the resolver runs rules only.
func New(cfg config.LLMConfig, log *zap.Logger) (extract.Extractor, error) {
	if cfg.Provider == config.ProviderNone || cfg.APIKey == "" {
		return nil, nil
	}
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropic(AnthropicConfig{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			MaxTokens:         cfg.MaxTokens,
			Timeout:           cfg.Timeout,
			RequestsPerMinute: cfg.RequestsPerMinute,
			Logger:            log,
		})
	case config.ProviderOpenAI:
		return &OpenAI{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			HTTPClient: &http.Client{Timeout: cfg.Timeout},
			Limiter:    newLimiter(cfg.RequestsPerMinute),
			Logger:     log,
		}, nil
	default:
		return nil, fmt.Errorf("llm provider %q: %w", cfg.Provider, internalerr.ErrInvalidConfig)
	}
}
